// Package rewriter turns origin HTML into proxied HTML and back.
//
// Process walks the parsed tree, routes every attribute through a fixed
// table (url, html, srcset, css, delete) and stores the pre-rewrite value of
// url, srcset and html attributes in a shadow attribute. Source uses the
// shadow attributes to restore the original values.
package rewriter

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/andesco/portal/pkg/meta"
)

const (
	// ShadowPrefix names the attribute holding a pre-rewrite value.
	ShadowPrefix = "__portal_"
	// InjectedAttr marks elements added by the head injector.
	InjectedAttr = ShadowPrefix + "injected"
)

// URLRewriter encodes references so they route through the proxy.
type URLRewriter interface {
	Wrap(value string, m *meta.Meta) (string, error)
	Unwrap(value string, m *meta.Meta) (string, error)
}

// CSSRewriter rewrites references inside a stylesheet or declaration list.
type CSSRewriter interface {
	Process(text string, m *meta.Meta) string
}

// JSRewriter rewrites executable script text.
type JSRewriter interface {
	Process(text string) string
}

// Config is fixed for the lifetime of a Rewriter.
type Config struct {
	Codec  string
	Prefix string
	Title  Override
	// WS and Cookie are handed to the client as true, false or undefined (nil).
	WS     *bool
	Cookie *bool
}

// ProcessOptions describe one forward transform.
type ProcessOptions struct {
	Document bool
	Base     string
	Origin   string
}

// SourceOptions describe one reverse transform.
type SourceOptions struct {
	Document bool
}

// Rewriter is safe for concurrent use.
type Rewriter struct {
	cfg   Config
	title Override
	urls  URLRewriter
	css   CSSRewriter
	js    JSRewriter
	log   *zap.Logger
}

type Option func(*Rewriter)

// WithLogger sets the logger used for skipped attributes and bad base hrefs.
func WithLogger(l *zap.Logger) Option {
	return func(r *Rewriter) {
		if l != nil {
			r.log = l
		}
	}
}

// WithExternalTitle sets the startup-resolved title, which outranks Config.Title.
func WithExternalTitle(title string) Option {
	return func(r *Rewriter) {
		r.title = ResolveTitle(title, r.cfg.Title)
	}
}

// New builds a Rewriter. All three collaborators are required.
func New(cfg Config, urls URLRewriter, css CSSRewriter, js JSRewriter, opts ...Option) (*Rewriter, error) {
	switch {
	case urls == nil:
		return nil, fmt.Errorf("%w: url rewriter", ErrMissingCollaborator)
	case css == nil:
		return nil, fmt.Errorf("%w: css rewriter", ErrMissingCollaborator)
	case js == nil:
		return nil, fmt.Errorf("%w: js rewriter", ErrMissingCollaborator)
	}
	if cfg.Codec == "" {
		cfg.Codec = "plain"
	}

	r := &Rewriter{
		cfg:   cfg,
		title: ResolveTitle("", cfg.Title),
		urls:  urls,
		css:   css,
		js:    js,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Title returns the resolved title override.
func (r *Rewriter) Title() Override {
	return r.title
}

// Process rewrites origin markup into proxied markup. In document mode the
// bootstrap elements are prepended to <head>.
func (r *Rewriter) Process(src string, opts ProcessOptions) (string, error) {
	base, err := url.Parse(opts.Base)
	if err != nil || !base.IsAbs() {
		return "", fmt.Errorf("%w: %q", ErrInvalidBase, opts.Base)
	}
	return r.process(src, opts.Document, &meta.Meta{Origin: opts.Origin, Base: base})
}

func (r *Rewriter) process(src string, document bool, m *meta.Meta) (string, error) {
	root, err := parse(src, document)
	if err != nil {
		return "", err
	}

	Walk(wrapNode(root), func(n Node) { r.visit(n, m) })

	if document {
		r.injectHead(root)
	}
	return render(root)
}

// Source restores every shadowed attribute and drops injected elements.
func (r *Rewriter) Source(src string, opts SourceOptions) (string, error) {
	root, err := parse(src, opts.Document)
	if err != nil {
		return "", err
	}

	Walk(wrapNode(root), restore)
	goquery.NewDocumentFromNode(root).Find("[" + InjectedAttr + "]").Remove()

	return render(root)
}

func restore(n Node) {
	if n.TagName() == "" {
		return
	}
	for _, a := range n.Attrs() {
		if a.Namespace != "" || strings.HasPrefix(a.Name, ShadowPrefix) {
			continue
		}
		shadow := ShadowPrefix + a.Name
		if orig, ok := n.Attr(shadow); ok {
			n.SetAttr(a.Name, orig)
			n.RemoveAttr(shadow)
		}
	}
}

var fragmentContext = &html.Node{
	Type:     html.ElementNode,
	Data:     "template",
	DataAtom: atom.Template,
}

// parse returns a document node. Fragments are hung under a synthetic
// document node so both modes walk and render the same way.
func parse(src string, document bool) (*html.Node, error) {
	if document {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		return doc.Nodes[0], nil
	}

	nodes, err := html.ParseFragment(strings.NewReader(src), fragmentContext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	root := &html.Node{Type: html.DocumentNode}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return root, nil
}

func render(root *html.Node) (string, error) {
	out, err := goquery.NewDocumentFromNode(root).Html()
	if err != nil {
		return "", fmt.Errorf("rendering html: %w", err)
	}
	return out, nil
}
