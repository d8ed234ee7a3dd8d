// Package sanitize strips markup from free-text input before it is stored.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	entityCodec  = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&", "&quot;", "\"", "&#39;", "'")
	spacePattern = regexp.MustCompile(`[ \t]+`)
)

// StripHTML removes tags, decodes the common entities and strips again so
// encoded tags cannot survive.
func StripHTML(s string) string {
	out := tagPattern.ReplaceAllString(s, "")
	out = entityCodec.Replace(out)
	out = tagPattern.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}

// Text strips markup and collapses runs of spaces. Line breaks are kept
// because notes are often multi-line.
func Text(s string) string {
	return spacePattern.ReplaceAllString(StripHTML(s), " ")
}
