package notify

import (
	"strings"

	"golang.org/x/net/html"
)

var blockElements = map[string]bool{
	"p": true, "br": true, "div": true, "li": true, "h1": true, "h2": true,
	"h3": true, "blockquote": true, "tr": true,
}

// HTMLToText derives the plain-text alternative of a mail body: one line per
// block element, whitespace collapsed, scripts, styles and the head dropped.
func HTMLToText(doc string) string {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return ""
	}
	var lines []string
	var cur strings.Builder
	flush := func() {
		line := strings.Join(strings.Fields(cur.String()), " ")
		if line != "" {
			lines = append(lines, line)
		}
		cur.Reset()
	}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			cur.WriteString(n.Data)
			cur.WriteString(" ")
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "head", "title":
				return
			}
			if blockElements[n.Data] {
				flush()
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode {
			if n.Data == "a" {
				for _, attr := range n.Attr {
					if attr.Key == "href" && attr.Val != "" {
						cur.WriteString("(" + attr.Val + ") ")
					}
				}
			}
			if blockElements[n.Data] {
				flush()
			}
		}
	}
	walk(root)
	flush()
	return strings.Join(lines, "\n")
}
