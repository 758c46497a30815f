package rewriter

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// BootstrapFile is served under the prefix and loaded by every proxied page.
const BootstrapFile = "index.js"

var jsQuoter = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"\n", `\n`,
	"\r", `\r`,
	"<", `\x3c`,
)

func quoteJS(s string) string {
	return "'" + jsQuoter.Replace(s) + "'"
}

func boolLiteral(b *bool) string {
	if b == nil {
		return "undefined"
	}
	if *b {
		return "true"
	}
	return "false"
}

// injectHead prepends the bootstrap elements to the <head> of the
// top-level <html> element.
func (r *Rewriter) injectHead(root *html.Node) {
	doc := goquery.NewDocumentFromNode(root)
	head := doc.Children().Filter("html").
		Children().Filter("head").
		First()
	if head.Length() == 0 {
		return
	}
	// Existing titles were already overwritten during the walk.
	hasTitle := doc.Find("title").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Nodes[0].Namespace == ""
	}).Length() > 0
	head.PrependNodes(r.headNodes(!hasTitle)...)
}

func (r *Rewriter) headNodes(withTitle bool) []*html.Node {
	var nodes []*html.Node

	if withTitle && r.title.Replaces() {
		nodes = append(nodes, element(atom.Title, r.title.Text))
	}

	loader := element(atom.Script, "")
	loader.Attr = append(loader.Attr, html.Attribute{Key: "src", Val: r.cfg.Prefix + BootstrapFile})
	nodes = append(nodes, loader)

	nodes = append(nodes, element(atom.Script, r.bootstrap()))
	return nodes
}

func (r *Rewriter) bootstrap() string {
	return fmt.Sprintf(
		"window.$portal = new Portal({ window, codec: %s, prefix: %s, ws: %s, cookie: %s, title: %s, }); $portal.init(); document.currentScript.remove();",
		quoteJS(r.cfg.Codec),
		quoteJS(r.cfg.Prefix),
		boolLiteral(r.cfg.WS),
		boolLiteral(r.cfg.Cookie),
		r.title.Literal(),
	)
}

func element(a atom.Atom, text string) *html.Node {
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     a.String(),
		DataAtom: a,
		Attr:     []html.Attribute{{Key: InjectedAttr}},
	}
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
	return n
}
