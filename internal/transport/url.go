package transport

import (
	"net/url"
	"strings"
)

// Service paths, relative to the base URL.
const (
	BootstrapPath   = "/api/v1/mobile/bootstrap"
	ClaimPath       = "/api/v1/mobile/claim"
	EventsBatchPath = "/api/v1/mobile/events/batch"
)

// ResolveURL returns pathOrURL unchanged when it is an absolute http(s) URL,
// otherwise joins it to base with exactly one slash between them.
func ResolveURL(base, pathOrURL string) string {
	switch {
	case strings.HasPrefix(pathOrURL, "http://"), strings.HasPrefix(pathOrURL, "https://"):
		return pathOrURL
	case strings.HasPrefix(pathOrURL, "/"):
		return strings.TrimRight(base, "/") + pathOrURL
	default:
		return strings.TrimRight(base, "/") + "/" + pathOrURL
	}
}

// QueryParams returns the first value of every query parameter in rawURL.
// Unparseable input yields an empty map.
func QueryParams(rawURL string) map[string]string {
	params := make(map[string]string)
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return params
	}
	values, _ := url.ParseQuery(u.RawQuery)
	for k, v := range values {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params
}

// LastPathSegment returns the final non-empty path segment of rawURL.
func LastPathSegment(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	return segments[len(segments)-1]
}
