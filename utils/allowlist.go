package utils

import (
	"mime"
	"os"
	"strings"

	"github.com/samber/lo"
)

// NormalizeContentType strips parameters like charset and lowercases the
// media type, so "Text/CSV; charset=utf-8" compares equal to "text/csv".
func NormalizeContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}

// IsInContentTypeAllowList reports whether uploads with this content type are
// accepted. The list comes from KONTOR_UPLOAD_CONTENT_TYPES, empty means
// everything is accepted.
func IsInContentTypeAllowList(contentType string) bool {
	allowList := os.Getenv("KONTOR_UPLOAD_CONTENT_TYPES")
	if allowList == "" {
		return true
	}
	// text/csv, application/vnd.ms-excel
	allowedTypes := lo.Map(strings.Split(allowList, ","), func(entry string, i int) string {
		return NormalizeContentType(entry)
	})

	return lo.Contains(allowedTypes, NormalizeContentType(contentType))
}
