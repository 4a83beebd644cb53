package features

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// skipped subtrees never contribute rendered text or laid-out images.
var skipTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
	"head": true, "svg": true, "iframe": true,
}

var blockTags = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "br": true,
	"dd": true, "div": true, "dl": true, "dt": true, "figcaption": true, "figure": true,
	"footer": true, "form": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "header": true, "hr": true, "li": true, "main": true,
	"nav": true, "ol": true, "p": true, "pre": true, "section": true, "table": true,
	"td": true, "th": true, "tr": true, "ul": true,
}

// SnapshotFromHTML builds a PageSnapshot from static HTML, for pages
// analysed without a browser. With no layout engine available, an image
// counts as laid out when neither it nor an ancestor is hidden and it
// declares positive width and height attributes, and those attributes stand
// in for its natural size. Images without declared dimensions are therefore
// never counted. Hidden images stay in the snapshot so gif counting sees
// them.
func SnapshotFromHTML(r io.Reader, base *url.URL) (PageSnapshot, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return PageSnapshot{}, fmt.Errorf("features: parse html: %w", err)
	}
	return SnapshotFromDocument(doc, base), nil
}

// SnapshotFromDocument is SnapshotFromHTML for an already parsed document.
func SnapshotFromDocument(doc *goquery.Document, base *url.URL) PageSnapshot {
	body := doc.Find("body").First()
	if body.Length() == 0 {
		return PageSnapshot{}
	}

	snap := PageSnapshot{
		HasBody:    true,
		Text:       VisibleText(body),
		VideoCount: doc.Find("video").Length(),
	}

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		n := s.Get(0)
		if inert(n) {
			return
		}
		w := dimension(s.AttrOr("width", ""))
		h := dimension(s.AttrOr("height", ""))
		snap.Images = append(snap.Images, Image{
			Src:           resolve(base, s.AttrOr("src", "")),
			Visible:       !hidden(n) && !hiddenByAncestor(n) && w > 0 && h > 0,
			NaturalWidth:  w,
			NaturalHeight: h,
		})
	})
	return snap
}

// VisibleText approximates innerText: text of non-hidden nodes, with block
// boundaries as line breaks and whitespace runs collapsed.
func VisibleText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		walkText(n, &b)
	}

	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func walkText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(strings.Map(func(r rune) rune {
			if r == '\n' || r == '\r' || r == '\t' || r == '\f' {
				return ' '
			}
			return r
		}, n.Data))
		return
	case html.CommentNode:
		return
	case html.ElementNode:
		if skipTags[n.Data] || hidden(n) {
			return
		}
	}
	block := n.Type == html.ElementNode && blockTags[n.Data]
	if block {
		b.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, b)
	}
	if block {
		b.WriteByte('\n')
	}
}

func hidden(n *html.Node) bool {
	for _, a := range n.Attr {
		switch strings.ToLower(a.Key) {
		case "hidden":
			return true
		case "style":
			style := strings.ToLower(strings.ReplaceAll(a.Val, " ", ""))
			if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
				return true
			}
		}
	}
	return false
}

// inert reports whether n sits in markup a browser never turns into
// document images.
func inert(n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && (p.Data == "noscript" || p.Data == "template") {
			return true
		}
	}
	return false
}

func hiddenByAncestor(n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		if skipTags[p.Data] || hidden(p) {
			return true
		}
	}
	return false
}

// dimension parses an HTML width/height attribute ("120", "120px").
func dimension(v string) int {
	v = strings.TrimSuffix(strings.TrimSpace(strings.ToLower(v)), "px")
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func resolve(base *url.URL, src string) string {
	src = strings.TrimSpace(src)
	if base == nil || src == "" {
		return src
	}
	ref, err := url.Parse(src)
	if err != nil {
		return src
	}
	return base.ResolveReference(ref).String()
}
