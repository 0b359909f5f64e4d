// Package textnorm turns raw page markup into clean prose and extracts the
// page's outbound links.
package textnorm

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/promtior/sitechat/engine/domain"
)

// dropped elements carry no answerable content.
var dropped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Header:   true,
	atom.Nav:      true,
	atom.Footer:   true,
}

// Document is the result of a single parse of a page.
type Document struct {
	Title string
	Text  string
	Links []string
}

// Normalize strips boilerplate markup and collapses whitespace. It never
// fails: markup the parser cannot make sense of degrades to its visible text.
func Normalize(raw string) string {
	return Extract("", raw).Text
}

// Links returns the absolute, fragment-free http(s) links of a page in
// document order. Duplicates are kept; the crawler dedupes.
func Links(baseURL, raw string) []string {
	return Extract(baseURL, raw).Links
}

// Extract parses raw once and returns title, normalized text and links
// resolved against baseURL. Links are empty when baseURL is not a valid URL.
func Extract(baseURL, raw string) Document {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return Document{Text: Collapse(raw)}
	}

	base, err := url.Parse(baseURL)
	if err != nil || baseURL == "" {
		base = nil
	}

	var (
		text  strings.Builder
		title string
		links []string
	)

	var walk func(*html.Node, bool)
	walk = func(n *html.Node, inDropped bool) {
		switch n.Type {
		case html.TextNode:
			if !inDropped {
				text.WriteString(n.Data)
				text.WriteByte(' ')
			}
			return
		case html.ElementNode:
			if n.DataAtom == atom.Title && title == "" && n.FirstChild != nil {
				title = Collapse(n.FirstChild.Data)
			}
			if n.DataAtom == atom.A && base != nil {
				if link, ok := resolve(base, attr(n, "href")); ok {
					links = append(links, link)
				}
			}
			if dropped[n.DataAtom] {
				inDropped = true
			}
		case html.CommentNode, html.DoctypeNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inDropped)
		}
	}
	walk(doc, false)

	return Document{
		Title: title,
		Text:  Collapse(text.String()),
		Links: links,
	}
}

// Collapse replaces every whitespace run with a single space and trims.
func Collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	return domain.NormalizeURL(abs.String()), true
}
