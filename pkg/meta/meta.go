// Package meta holds the per-call context threaded through a rewrite.
package meta

import "net/url"

// Flag is a content-type hint attached to a single URL.
type Flag string

const (
	FlagJS  Flag = "js"
	FlagCSS Flag = "css"
)

// CSSContext tells a CSS processor what kind of text it is looking at.
type CSSContext int

const (
	// Stylesheet is a full sheet, as found in <style> or a .css response.
	Stylesheet CSSContext = iota
	// DeclarationList is the body of a style="" attribute.
	DeclarationList
)

// Meta is created once per Process/Source call and passed by pointer.
// Base is replaced in place when a <base href> is visited, so every node
// visited afterwards resolves against the new base.
type Meta struct {
	Origin  string
	Base    *url.URL
	Flags   []Flag
	Context CSSContext
}

// With returns a shallow copy carrying the given flags.
func (m *Meta) With(flags ...Flag) *Meta {
	c := *m
	c.Flags = flags
	return &c
}

// WithContext returns a shallow copy for the given CSS context.
func (m *Meta) WithContext(ctx CSSContext) *Meta {
	c := *m
	c.Context = ctx
	return &c
}
