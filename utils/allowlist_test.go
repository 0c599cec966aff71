package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeContentType(t *testing.T) {
	assert.Equal(t, "text/csv", NormalizeContentType("text/csv"))
	assert.Equal(t, "text/csv", NormalizeContentType("Text/CSV; charset=utf-8"))
	assert.Equal(t, "application/vnd.ms-excel", NormalizeContentType(" application/vnd.ms-excel "))
}

func TestContentTypeAllowList(t *testing.T) {
	t.Setenv("KONTOR_UPLOAD_CONTENT_TYPES", "text/csv, application/vnd.ms-excel")

	allowed := IsInContentTypeAllowList("text/csv")
	assert.True(t, allowed)

	allowed = IsInContentTypeAllowList("Text/CSV; charset=utf-8")
	assert.True(t, allowed)

	allowed = IsInContentTypeAllowList("application/pdf")
	assert.False(t, allowed)
}

func TestContentTypeAllowListEmptyAcceptsEverything(t *testing.T) {
	t.Setenv("KONTOR_UPLOAD_CONTENT_TYPES", "")

	allowed := IsInContentTypeAllowList("application/pdf")
	assert.True(t, allowed)
}
