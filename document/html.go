package document

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"golang.org/x/net/html"
)

var excessiveLinesRe = regexp.MustCompile(`\n{3,}`)

// FromHTML converts an HTML-authored artifact to markdown and parses it.
// If the converted body has no headings, the page <title> becomes a
// top-level heading so the document still has structure.
func (p *Parser) FromHTML(kind Kind, content []byte) (*Artifact, error) {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	body := string(content)
	if node, err := html.Parse(bytes.NewReader(content)); err == nil {
		removeTags(node, "head", "script", "style", "noscript", "nav")
		var buf bytes.Buffer
		if err := html.Render(&buf, node); err == nil {
			body = buf.String()
		}
	}

	markdown, err := converter.ConvertString(body)
	if err != nil {
		return nil, fmt.Errorf("convert html: %w", err)
	}
	markdown = strings.TrimSpace(excessiveLinesRe.ReplaceAllString(markdown, "\n\n")) + "\n"

	if len(scanHeadings(markdown, 0)) == 0 {
		if title := htmlTitle(content); title != "" {
			markdown = "# " + title + "\n\n" + markdown
		}
	}

	return p.Parse(kind, markdown)
}

// FromHTML converts and parses HTML with the default heading vocabulary.
func FromHTML(kind Kind, content []byte) (*Artifact, error) {
	return defaultParser.FromHTML(kind, content)
}

// htmlTitle returns the text of the first <title> element.
func htmlTitle(content []byte) string {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return ""
	}
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}

// removeTags drops every element with one of the given tag names.
func removeTags(n *html.Node, tags ...string) {
	drop := make(map[string]bool, len(tags))
	for _, t := range tags {
		drop[t] = true
	}
	var doomed []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && drop[node.Data] {
			doomed = append(doomed, node)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	for _, node := range doomed {
		if node.Parent != nil {
			node.Parent.RemoveChild(node)
		}
	}
}
