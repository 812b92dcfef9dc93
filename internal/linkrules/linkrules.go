// Package linkrules holds the link-harvesting rule table shared by the HTML
// extractor and the browser renderer, so both fetch modes agree on what
// counts as a link.
package linkrules

import (
	"regexp"
	"strings"
)

// DataAttributes are element attributes that commonly carry navigation targets.
var DataAttributes = []string{
	"data-href",
	"data-url",
	"data-link",
	"data-target",
	"data-path",
	"data-route",
}

// ElementAttributes are read from every element by the renderer on top of
// anchors and DataAttributes.
var ElementAttributes = []string{"src", "data-href", "data-url"}

// LinkRels are the <link rel> values treated as page links.
var LinkRels = []string{"canonical", "prev", "next", "alternate"}

// OnclickPatterns capture the target of inline navigation handlers. Every
// pattern is applied and the matches are unioned.
var OnclickPatterns = []*regexp.Regexp{
	regexp.MustCompile(`location\.href\s*=\s*['"]([^'"]+)['"]`),
	regexp.MustCompile(`window\.location(?:\.href)?\s*=\s*['"]([^'"]+)['"]`),
	regexp.MustCompile(`window\.open\(\s*['"]([^'"]+)['"]`),
}

var (
	scriptAbsolute = regexp.MustCompile(`(?i)https?://[^\s"'<>]+`)
	scriptQuoted   = regexp.MustCompile(`(?i)["'](/[A-Za-z0-9_\-/.%?&=+#~]+)["']`)
	scriptBare     = regexp.MustCompile(`(?i)/[A-Za-z0-9_\-/.%?&=+#~]+`)
)

// SkipExtensions is the default binary/document extension denylist.
var SkipExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".svg",
	".pdf", ".zip", ".rar", ".exe", ".tar", ".gz",
	".woff", ".woff2",
}

var rejectedSchemes = []string{"mailto:", "tel:", "javascript:", "data:"}

// RejectedScheme reports whether raw starts with a scheme that never names a page.
func RejectedScheme(raw string) bool {
	lower := strings.ToLower(strings.TrimSpace(raw))
	for _, s := range rejectedSchemes {
		if strings.HasPrefix(lower, s) {
			return true
		}
	}
	return false
}

// Onclick returns every navigation target found in an onclick handler.
func Onclick(handler string) []string {
	if handler == "" {
		return nil
	}
	var out []string
	for _, re := range OnclickPatterns {
		for _, m := range re.FindAllStringSubmatch(handler, -1) {
			if len(m) > 1 && m[1] != "" {
				out = append(out, m[1])
			}
		}
	}
	return out
}

// Script returns URL-looking strings from an inline script body: absolute
// URLs, quoted root-relative paths, and bare root-relative paths.
func Script(body string) []string {
	if body == "" {
		return nil
	}
	var out []string
	out = append(out, scriptAbsolute.FindAllString(body, -1)...)
	for _, m := range scriptQuoted.FindAllStringSubmatch(body, -1) {
		out = append(out, m[1])
	}
	for _, m := range scriptBare.FindAllString(body, -1) {
		// "//host/path" fragments of absolute URLs are already covered above.
		if strings.HasPrefix(m, "//") {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Candidates expands raw renderer-harvested strings: script bodies and
// onclick handlers are mined with the patterns above, plain values pass through.
type Candidates struct {
	Links    []string `json:"links"`
	Onclicks []string `json:"onclicks"`
	Scripts  []string `json:"scripts"`
}

// Flatten returns every raw link string carried by c, in harvest order.
func (c Candidates) Flatten() []string {
	out := make([]string, 0, len(c.Links))
	out = append(out, c.Links...)
	for _, h := range c.Onclicks {
		out = append(out, Onclick(h)...)
	}
	for _, s := range c.Scripts {
		out = append(out, Script(s)...)
	}
	return out
}
