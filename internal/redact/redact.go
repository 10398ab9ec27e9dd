// Package redact masks credentials in response bodies and log output.
package redact

import (
	"regexp"
	"unicode/utf8"
)

// MaxExcerpt is the maximum length, in characters, of a body excerpt.
const MaxExcerpt = 200

const secretFields = `access[_-]?token|refresh[_-]?token|authorization|connect[_-]?code`

// bodyFields match sensitive JSON string fields, both as plain JSON and as
// JSON escaped inside another string.
var bodyFields = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)\\"(` + secretFields + `)\\"\s*:\s*\\"(?:[^"\\]|\\[^"])*\\"`), `\"${1}\":\"***\"`},
	{regexp.MustCompile(`(?i)"(` + secretFields + `)"\s*:\s*"(?:[^"\\]|\\.)*"`), `"${1}":"***"`},
}

var logPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9._-]+`), "Bearer ***"},
	{regexp.MustCompile(`(?i)access[_-]?token\s*[=:]\s*[A-Za-z0-9._-]+`), "accessToken=***"},
	{regexp.MustCompile(`(?i)"access[_-]?token"\s*:\s*"[^"]+"`), `"accessToken":"***"`},
	{regexp.MustCompile(`(?i)refresh[_-]?token\s*[=:]\s*[A-Za-z0-9._-]+`), "refreshToken=***"},
	{regexp.MustCompile(`(?i)"refresh[_-]?token"\s*:\s*"[^"]+"`), `"refreshToken":"***"`},
	{regexp.MustCompile(`(?i)connect[_-]?code\s*[=:]\s*[A-Za-z0-9._-]+`), "connectCode=***"},
	{regexp.MustCompile(`(?i)"connect[_-]?code"\s*:\s*"[^"]+"`), `"connectCode":"***"`},
}

// Body masks sensitive JSON string fields wherever they appear in body,
// including fragments embedded in plain text.
func Body(body string) string {
	for _, f := range bodyFields {
		body = f.re.ReplaceAllString(body, f.repl)
	}
	return body
}

// Excerpt returns the redacted body truncated to MaxExcerpt characters.
// Redaction happens before truncation so a cut never exposes a partial
// secret.
func Excerpt(body string) string {
	return truncate(Body(body), MaxExcerpt)
}

// String masks bearer tokens, access and refresh tokens and connect codes in
// free-form text such as log messages.
func String(s string) string {
	s = Body(s)
	for _, p := range logPatterns {
		s = p.re.ReplaceAllString(s, p.repl)
	}
	return s
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
