package canon

import (
	"html"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FoldTitle normalizes a title for lookup: entities decoded, tags removed,
// whitespace collapsed and case folded.
func FoldTitle(s string) string {
	return strings.ToLower(collapseSpaces(StripTags(html.UnescapeString(s))))
}

// StripTags returns the text content of an HTML fragment, trimmed.
func StripTags(s string) string {
	if !strings.ContainsAny(s, "<>") {
		return strings.TrimSpace(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	doc.Find("script,style").Remove()
	return strings.TrimSpace(doc.Text())
}

// FileName returns the last path segment of a URL without extension, ignoring
// query and fragment. "https://x/y/photo.jpg?w=10" -> "photo".
func FileName(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	base := path.Base(p)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

// Decimal rewrites comma decimal separators to periods: "1,234" -> "1.234".
func Decimal(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
