package note

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PlainText strips rich-text markup from a section value and collapses runs of
// whitespace. Block-level elements are separated by newlines. Input that is not
// markup is returned trimmed.
func PlainText(richText string) string {
	if !strings.Contains(richText, "<") {
		return strings.TrimSpace(richText)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(richText))
	if err != nil {
		return strings.TrimSpace(richText)
	}
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	lines := strings.Split(doc.Text(), "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// PlainContent applies [PlainText] to every section of c.
func PlainContent(c Content) Content {
	for _, s := range Sections {
		c = c.With(s, PlainText(c.Get(s)))
	}
	return c
}
