package export

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PlainText returns the text content of an HTML fragment with entities
// decoded. Input that cannot be parsed is returned unchanged.
func PlainText(html string) string {
	if !strings.ContainsAny(html, "<&") {
		return strings.TrimSpace(html)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("script, style").Remove()
	return strings.TrimSpace(doc.Text())
}
