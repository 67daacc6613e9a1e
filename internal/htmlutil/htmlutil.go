package htmlutil

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	walkText(node, func(text string) {
		buffer.WriteString(text)
	})
	return buffer.String()
}

// GetStrippedText joins every text node under node after trimming it, empty nodes
// are dropped. Labels split across several inline elements ("Weight :" + "2 lbs")
// come out glued together, which is what the attribute parser expects.
func GetStrippedText(node *html.Node) string {
	var buffer bytes.Buffer
	walkText(node, func(text string) {
		buffer.WriteString(strings.TrimSpace(text))
	})
	return buffer.String()
}

func walkText(node *html.Node, visit func(text string)) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		visit(node.Data)
		return
	}
	// script and style contents are never visible text
	if node.Type == html.ElementNode && (node.Data == "script" || node.Data == "style") {
		return
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		walkText(child, visit)
	}
}

// SelectionText is GetText over the first node of a selection, "" when it is empty.
func SelectionText(sel *goquery.Selection) string {
	if sel == nil || len(sel.Nodes) == 0 {
		return ""
	}
	return GetText(sel.Nodes[0])
}

// SelectionStrippedText is GetStrippedText over the first node of a selection.
func SelectionStrippedText(sel *goquery.Selection) string {
	if sel == nil || len(sel.Nodes) == 0 {
		return ""
	}
	return GetStrippedText(sel.Nodes[0])
}
