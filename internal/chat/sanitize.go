package chat

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

const MaxTextLength = 4000

var strictPolicy = bluemonday.StrictPolicy()

// SanitizeText strips markup (script and style bodies included) from free
// text. bluemonday escapes what survives; chat text is stored unescaped, so
// the pass repeats until decoding no longer produces new markup.
func SanitizeText(s string) string {
	for i := 0; i < 4; i++ {
		next := html.UnescapeString(strictPolicy.Sanitize(s))
		if next == s {
			return strings.TrimSpace(s)
		}
		s = next
	}
	return strings.TrimSpace(strictPolicy.Sanitize(s))
}
