package rewriter

import (
	"strings"

	"golang.org/x/net/html"
)

// Attribute is a single name/value pair on an element. Namespace is set for
// foreign attributes such as xlink:href.
type Attribute struct {
	Namespace string
	Name      string
	Value     string
}

// Node is a non-owning view of one node in a parsed markup tree.
// Only element nodes report a tag name; text, comment and document nodes
// return "" and should be skipped by visitors.
type Node interface {
	// TagName returns the lower-cased tag name, or "" for non-elements.
	TagName() string

	Attrs() []Attribute

	// Attr, SetAttr and RemoveAttr address non-namespaced attributes only.
	Attr(name string) (string, bool)
	SetAttr(name, value string)
	RemoveAttr(name string)

	// Text returns the data of the first text child.
	Text() string
	SetText(text string)

	Children() []Node
	Parent() Node
}

type htmlNode struct {
	n *html.Node
}

func wrapNode(n *html.Node) Node {
	if n == nil {
		return nil
	}
	return htmlNode{n: n}
}

func (h htmlNode) TagName() string {
	if h.n.Type != html.ElementNode {
		return ""
	}
	return strings.ToLower(h.n.Data)
}

// Attrs returns a snapshot; mutating the node does not change it.
func (h htmlNode) Attrs() []Attribute {
	attrs := make([]Attribute, 0, len(h.n.Attr))
	for _, a := range h.n.Attr {
		attrs = append(attrs, Attribute{Namespace: a.Namespace, Name: a.Key, Value: a.Val})
	}
	return attrs
}

func (h htmlNode) index(name string) int {
	for i, a := range h.n.Attr {
		if a.Namespace == "" && a.Key == name {
			return i
		}
	}
	return -1
}

func (h htmlNode) Attr(name string) (string, bool) {
	if i := h.index(name); i >= 0 {
		return h.n.Attr[i].Val, true
	}
	return "", false
}

// SetAttr overwrites the first attribute with that name in place, or
// appends a new one.
func (h htmlNode) SetAttr(name, value string) {
	if name == "" {
		return
	}
	if i := h.index(name); i >= 0 {
		h.n.Attr[i].Val = value
		return
	}
	h.n.Attr = append(h.n.Attr, html.Attribute{Key: name, Val: value})
}

// RemoveAttr drops every attribute with that name.
func (h htmlNode) RemoveAttr(name string) {
	kept := h.n.Attr[:0]
	for _, a := range h.n.Attr {
		if a.Namespace == "" && a.Key == name {
			continue
		}
		kept = append(kept, a)
	}
	h.n.Attr = kept
}

func (h htmlNode) firstText() *html.Node {
	for c := h.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			return c
		}
	}
	return nil
}

func (h htmlNode) Text() string {
	if t := h.firstText(); t != nil {
		return t.Data
	}
	return ""
}

func (h htmlNode) SetText(text string) {
	if t := h.firstText(); t != nil {
		t.Data = text
		return
	}
	h.n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

func (h htmlNode) Children() []Node {
	var children []Node
	for c := h.n.FirstChild; c != nil; c = c.NextSibling {
		children = append(children, htmlNode{n: c})
	}
	return children
}

func (h htmlNode) Parent() Node {
	return wrapNode(h.n.Parent)
}
