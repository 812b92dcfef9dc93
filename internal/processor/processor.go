// Package processor derives readable text from fetched HTML for
// classification and scoring.
package processor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// hidden subtrees never contribute visible text.
var hidden = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Iframe:   true,
	atom.Head:     true,
}

// blocks start and end on their own line.
var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Header: true, atom.Footer: true, atom.Nav: true, atom.Main: true,
	atom.Aside: true, atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true, atom.Ul: true,
	atom.Ol: true, atom.Li: true, atom.Table: true, atom.Tr: true,
	atom.Figure: true, atom.Figcaption: true, atom.Blockquote: true,
}

// TextFromHTML parses raw HTML and returns its readable text.
func TextFromHTML(raw string) (string, error) {
	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	return Text(root), nil
}

// Text returns the visible text of the document body. Blocks are separated by
// single newlines, inline runs by single spaces. The tree is not modified.
func Text(root *html.Node) string {
	if root == nil {
		return ""
	}
	scope := root
	if body := find(root, atom.Body); body != nil {
		scope = body
	}
	var w textWriter
	w.walk(scope)
	return w.b.String()
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for pos := range s {
		if count == n {
			return s[:pos]
		}
		count++
	}
	return s
}

func find(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if hit := find(c, a); hit != nil {
			return hit
		}
	}
	return nil
}

// textWriter defers separators until the next word is written so the output
// never starts, ends, or doubles up on whitespace.
type textWriter struct {
	b       strings.Builder
	pending byte
}

func (w *textWriter) separate(sep byte) {
	if w.b.Len() == 0 || w.pending == '\n' {
		return
	}
	w.pending = sep
}

func (w *textWriter) write(words []string) {
	if len(words) == 0 {
		return
	}
	if w.pending != 0 {
		w.b.WriteByte(w.pending)
		w.pending = 0
	}
	w.b.WriteString(strings.Join(words, " "))
}

func (w *textWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.separate(' ')
		w.write(strings.Fields(n.Data))
		return
	case html.ElementNode:
		if hidden[n.DataAtom] {
			return
		}
		if n.DataAtom == atom.Br {
			w.separate('\n')
			return
		}
	}
	block := n.Type == html.ElementNode && blocks[n.DataAtom]
	if block {
		w.separate('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
	switch {
	case block:
		w.separate('\n')
	case n.DataAtom == atom.Td || n.DataAtom == atom.Th:
		w.separate(' ')
	}
}
