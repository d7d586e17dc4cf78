// Package content turns captured page HTML into a comparable text snapshot.
//
// Monitoring compares payload byte sizes by default; a markdown rendition
// of the DOM plus its hash catches content edits that leave the image size
// untouched.
package content

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Snapshotter converts page HTML into markdown snapshots.
type Snapshotter struct {
	conv *converter.Converter
}

// NewSnapshotter creates a Snapshotter with the commonmark and table plugins.
func NewSnapshotter() *Snapshotter {
	return &Snapshotter{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Markdown converts a serialized document to markdown.
func (s *Snapshotter) Markdown(pageHTML string) (string, error) {
	md, err := s.conv.ConvertString(pageHTML)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(md), nil
}

// Hash returns the hex SHA-256 of a snapshot, or "" for empty input.
func Hash(snapshot string) string {
	if snapshot == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(snapshot))
	return hex.EncodeToString(sum[:])
}

// Title extracts the document title from serialized HTML. Returns "" when
// the document has no title element.
func Title(pageHTML string) string {
	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return ""
	}
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Title {
			if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}
