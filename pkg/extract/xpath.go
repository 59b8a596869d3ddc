package extract

import (
	"strings"

	"github.com/antchfx/xmlquery"
)

// stripPrefixes clears the namespace prefix of every element below n, so
// the unprefixed paths of the extractors match documents written with
// prefixed elements such as <n:infNFe>. Namespace URIs are kept.
func stripPrefixes(n *xmlquery.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			c.Prefix = ""
			stripPrefixes(c)
		}
	}
}

// find returns the first node matched by the path variants, tried in order.
func find(n *xmlquery.Node, paths ...string) *xmlquery.Node {
	for _, p := range paths {
		if m := xmlquery.FindOne(n, p); m != nil {
			return m
		}
	}
	return nil
}

// text returns the trimmed text of the first variant with non-empty content.
func text(n *xmlquery.Node, paths ...string) string {
	if n == nil {
		return ""
	}
	for _, p := range paths {
		if m := xmlquery.FindOne(n, p); m != nil {
			if s := strings.TrimSpace(m.InnerText()); s != "" {
				return s
			}
		}
	}
	return ""
}

func attr(n *xmlquery.Node, name string) string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.SelectAttr(name))
}
