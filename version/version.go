// Package version holds build information stamped in via ldflags.
package version

// based on https://www.digitalocean.com/community/tutorials/using-ldflags-to-set-version-information-for-go-applications
var (
	Version   = "dev"
	Meta      = ""
	BuildDate = ""
)
