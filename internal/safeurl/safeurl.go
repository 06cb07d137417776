package safeurl

import (
	"net/url"
	"strings"
)

// IsHTTPOrHTTPS returns true if u is a valid URL with scheme http or https.
// Used to reject file://, ftp://, and other schemes before handing a URL to
// ffmpeg or the HTTP client.
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	s := parsed.Scheme
	return s == "http" || s == "https"
}

// Redact masks the api_key query parameter so stream URLs can be logged.
func Redact(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	q := parsed.Query()
	changed := false
	for key := range q {
		if strings.EqualFold(key, "api_key") || strings.EqualFold(key, "x-emby-token") {
			q.Set(key, "REDACTED")
			changed = true
		}
	}
	if !changed {
		return u
	}
	parsed.RawQuery = q.Encode()
	return parsed.String()
}
