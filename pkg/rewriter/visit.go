package rewriter

import (
	"strings"

	"go.uber.org/zap"

	"github.com/andesco/portal/pkg/meta"
)

func (r *Rewriter) visit(n Node, m *meta.Meta) {
	tag := n.TagName()
	if tag == "" {
		return
	}

	switch tag {
	case "style":
		if text := n.Text(); text != "" {
			n.SetText(r.css.Process(text, m.WithContext(meta.Stylesheet)))
		}
	case "title":
		if r.title.Replaces() {
			n.SetText(r.title.Text)
		}
	case "script":
		// JSON data blocks are not executable.
		if typ, _ := n.Attr("type"); typ == "application/json" {
			break
		}
		if text := n.Text(); text != "" {
			n.SetText(r.js.Process(text))
		}
	case "base":
		href, ok := n.Attr("href")
		if !ok {
			break
		}
		base, err := m.Base.Parse(href)
		if err != nil {
			r.log.Debug("ignoring base href", zap.String("href", href), zap.Error(err))
			break
		}
		m.Base = base
	}

	// Only the first of duplicated attributes is live, so only it is rewritten.
	seen := make(map[string]bool)
	for _, a := range n.Attrs() {
		if a.Namespace != "" || seen[a.Name] {
			continue
		}
		seen[a.Name] = true
		r.rewriteAttr(n, tag, a, m)
	}
}

func (r *Rewriter) rewriteAttr(n Node, tag string, a Attribute, m *meta.Meta) {
	if strings.HasPrefix(a.Name, ShadowPrefix) {
		return
	}

	switch Route(tag, a.Name) {
	case HandleURL:
		wrapped, err := r.urls.Wrap(a.Value, m.With(flagsFor(n, tag, a.Name)...))
		if err != nil {
			r.skip(tag, a, err)
			return
		}
		n.SetAttr(ShadowPrefix+a.Name, a.Value)
		n.SetAttr(a.Name, wrapped)
	case HandleSrcset:
		n.SetAttr(ShadowPrefix+a.Name, a.Value)
		n.SetAttr(a.Name, Srcset(a.Value, m, r.urls))
	case HandleCSS:
		n.SetAttr(a.Name, r.css.Process(a.Value, m.WithContext(meta.DeclarationList)))
	case HandleHTML:
		inner, err := r.process(a.Value, false, &meta.Meta{Origin: m.Origin, Base: m.Base})
		if err != nil {
			r.skip(tag, a, err)
			return
		}
		n.SetAttr(ShadowPrefix+a.Name, a.Value)
		n.SetAttr(a.Name, inner)
	case HandleDelete:
		n.RemoveAttr(a.Name)
	}
}

func (r *Rewriter) skip(tag string, a Attribute, err error) {
	r.log.Debug("leaving attribute unrewritten",
		zap.String("tag", tag),
		zap.String("attr", a.Name),
		zap.Error(err))
}

func flagsFor(n Node, tag, attr string) []meta.Flag {
	var flags []meta.Flag
	if tag == "script" && attr == "src" {
		flags = append(flags, meta.FlagJS)
	}
	if tag == "link" {
		if rel, _ := n.Attr("rel"); rel == "stylesheet" {
			flags = append(flags, meta.FlagCSS)
		}
	}
	return flags
}
