// Package extract turns page HTML into normalized candidate links, a title
// and a coarse classification.
package extract

import (
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"compintel/internal/linkrules"
	"compintel/internal/processor"
	"compintel/internal/urlnorm"
)

// Page is the extraction result for one document.
type Page struct {
	Links          []string
	Denied         []string
	Title          string
	Classification string
	Text           string
}

// category pairs a label with the keywords that select it. Order matters:
// the first category with a matching keyword wins.
type category struct {
	label    string
	keywords []string
}

var categories = []category{
	{"course", []string{"course", "enroll", "training"}},
	{"certification", []string{"certif", "exam"}},
	{"product", []string{"product", "buy", "price"}},
	{"announcement", []string{"press", "news", "announcement"}},
	{"blog", []string{"blog", "case study", "case-study"}},
	{"careers", []string{"career", "job", "join us"}},
}

// ClassOther is assigned when no category keyword matches.
const ClassOther = "other"

// Extractor parses HTML with a fixed rule table.
type Extractor struct {
	skipExtensions []string
	classifyChars  int
}

// New returns an Extractor. skipExtensions defaults to the shared denylist
// when empty; classifyChars bounds the body text fed to Classify.
func New(skipExtensions []string, classifyChars int) *Extractor {
	if len(skipExtensions) == 0 {
		skipExtensions = linkrules.SkipExtensions
	}
	if classifyChars <= 0 {
		classifyChars = 1200
	}
	return &Extractor{skipExtensions: skipExtensions, classifyChars: classifyChars}
}

// Extract parses content relative to baseURL. extra holds raw link strings
// harvested elsewhere (the renderer); they are normalized and filtered the
// same way as links found in the markup.
func (e *Extractor) Extract(baseURL, content string, extra []string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	set := make(map[string]struct{})
	denied := make(map[string]struct{})
	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" || linkrules.RejectedScheme(raw) {
			return
		}
		norm, ok := urlnorm.Normalize(raw, baseURL)
		if !ok {
			return
		}
		if urlnorm.HasExtension(norm, e.skipExtensions) {
			denied[norm] = struct{}{}
			return
		}
		set[norm] = struct{}{}
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		add(s.AttrOr("href", ""))
	})
	for _, attr := range linkrules.DataAttributes {
		doc.Find("[" + attr + "]").Each(func(_ int, s *goquery.Selection) {
			add(s.AttrOr(attr, ""))
		})
	}
	doc.Find("[onclick]").Each(func(_ int, s *goquery.Selection) {
		for _, target := range linkrules.Onclick(s.AttrOr("onclick", "")) {
			add(target)
		}
	})
	doc.Find("link[rel][href]").Each(func(_ int, s *goquery.Selection) {
		if relMatches(s.AttrOr("rel", "")) {
			add(s.AttrOr("href", ""))
		}
	})
	for _, raw := range extra {
		add(raw)
	}

	links := sortedKeys(set)

	title := pageTitle(doc)
	var text string
	if len(doc.Nodes) > 0 {
		text = processor.Text(doc.Nodes[0])
	}

	return &Page{
		Links:          links,
		Denied:         sortedKeys(denied),
		Title:          title,
		Classification: Classify(title + " " + processor.Truncate(text, e.classifyChars)),
		Text:           text,
	}, nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func relMatches(rel string) bool {
	for _, token := range strings.Fields(strings.ToLower(rel)) {
		for _, want := range linkrules.LinkRels {
			if token == want {
				return true
			}
		}
	}
	return false
}

func pageTitle(doc *goquery.Document) string {
	var title string
	doc.Find("h1").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		title = strings.Join(strings.Fields(s.Text()), " ")
		return title == ""
	})
	if title != "" {
		return title
	}
	return strings.Join(strings.Fields(doc.Find("title").First().Text()), " ")
}

// Classify maps text to a category label by ordered keyword scan.
func Classify(text string) string {
	lower := strings.ToLower(text)
	for _, c := range categories {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				return c.label
			}
		}
	}
	return ClassOther
}
