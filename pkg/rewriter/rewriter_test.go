package rewriter

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andesco/portal/pkg/meta"
)

type fakeURLs struct{}

func (fakeURLs) Wrap(v string, m *meta.Meta) (string, error) {
	if v == "bad" {
		return "", errors.New("bad url")
	}
	u, err := m.Base.Parse(v)
	if err != nil {
		return "", err
	}
	prefix := "/p/"
	if len(m.Flags) > 0 {
		prefix += "_" + string(m.Flags[0]) + "/"
	}
	return prefix + u.String(), nil
}

func (fakeURLs) Unwrap(v string, _ *meta.Meta) (string, error) {
	return strings.TrimPrefix(v, "/p/"), nil
}

type fakeCSS struct{}

func (fakeCSS) Process(text string, m *meta.Meta) string {
	if m.Context == meta.DeclarationList {
		return "decl(" + text + ")"
	}
	return "sheet(" + text + ")"
}

type fakeJS struct{}

func (fakeJS) Process(text string) string { return "js(" + text + ")" }

const testBase = "https://example.com/"

func newTestRewriter(t *testing.T, cfg Config, opts ...Option) *Rewriter {
	t.Helper()
	if cfg.Prefix == "" {
		cfg.Prefix = "/app/"
	}
	r, err := New(cfg, fakeURLs{}, fakeCSS{}, fakeJS{}, opts...)
	require.NoError(t, err)
	return r
}

func processFragment(t *testing.T, r *Rewriter, src string) *goquery.Document {
	t.Helper()
	out, err := r.Process(src, ProcessOptions{Base: testBase, Origin: "http://proxy"})
	require.NoError(t, err)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(out))
	require.NoError(t, err)
	return doc
}

func processDocument(t *testing.T, r *Rewriter, src string) *goquery.Document {
	t.Helper()
	out, err := r.Process(src, ProcessOptions{Document: true, Base: testBase, Origin: "http://proxy"})
	require.NoError(t, err)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(out))
	require.NoError(t, err)
	return doc
}

func attr(t *testing.T, s *goquery.Selection, name string) string {
	t.Helper()
	v, ok := s.Attr(name)
	require.True(t, ok, "missing attribute %s", name)
	return v
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, nil, fakeCSS{}, fakeJS{})
	assert.ErrorIs(t, err, ErrMissingCollaborator)
	_, err = New(Config{}, fakeURLs{}, nil, fakeJS{})
	assert.ErrorIs(t, err, ErrMissingCollaborator)
	_, err = New(Config{}, fakeURLs{}, fakeCSS{}, nil)
	assert.ErrorIs(t, err, ErrMissingCollaborator)
}

func TestProcessInvalidBase(t *testing.T) {
	r := newTestRewriter(t, Config{})
	_, err := r.Process("<a href=x></a>", ProcessOptions{Base: "not a url"})
	assert.ErrorIs(t, err, ErrInvalidBase)
}

func TestProcessAnchor(t *testing.T) {
	r := newTestRewriter(t, Config{})
	a := processFragment(t, r, `<a href="x">link</a>`).Find("a")

	assert.Equal(t, "/p/https://example.com/x", attr(t, a, "href"))
	assert.Equal(t, "x", attr(t, a, ShadowPrefix+"href"))
	assert.Equal(t, "link", a.Text())
}

func TestProcessStyleAttribute(t *testing.T) {
	r := newTestRewriter(t, Config{})
	div := processFragment(t, r, `<div style="color:red"></div>`).Find("div")

	assert.Equal(t, "decl(color:red)", attr(t, div, "style"))
	_, shadowed := div.Attr(ShadowPrefix + "style")
	assert.False(t, shadowed)
}

func TestProcessDeletesAttributes(t *testing.T) {
	r := newTestRewriter(t, Config{})
	src := `<meta http-equiv="refresh" content="0"><script src="a.js" integrity="sha-x" nonce="n" crossorigin="anonymous"></script>`

	out, err := r.Process(src, ProcessOptions{Base: testBase})
	require.NoError(t, err)
	again, err := r.Process(out, ProcessOptions{Base: testBase})
	require.NoError(t, err)

	for _, html := range []string{out, again} {
		for _, name := range []string{"http-equiv", "integrity", "nonce", "crossorigin"} {
			assert.NotContains(t, html, name+"=")
		}
		assert.Contains(t, html, `content="0"`)
	}
}

func TestProcessSrcset(t *testing.T) {
	r := newTestRewriter(t, Config{})
	img := processFragment(t, r, `<img srcset="a.png 1x, b.png 2x">`).Find("img")

	assert.Equal(t, "/p/https://example.com/a.png 1x, /p/https://example.com/b.png 2x", attr(t, img, "srcset"))
	assert.Equal(t, "a.png 1x, b.png 2x", attr(t, img, ShadowPrefix+"srcset"))
}

func TestProcessSrcdoc(t *testing.T) {
	r := newTestRewriter(t, Config{})
	iframe := processFragment(t, r, `<iframe srcdoc='<a href="z">z</a>'></iframe>`).Find("iframe")

	inner := attr(t, iframe, "srcdoc")
	assert.Contains(t, inner, `href="/p/https://example.com/z"`)
	assert.Contains(t, inner, ShadowPrefix+`href="z"`)
	assert.NotContains(t, inner, "new Portal", "srcdoc is processed as a fragment")
	assert.Equal(t, `<a href="z">z</a>`, attr(t, iframe, ShadowPrefix+"srcdoc"))
}

func TestProcessFlags(t *testing.T) {
	r := newTestRewriter(t, Config{})
	doc := processFragment(t, r, `<script src="s.js"></script><link rel="stylesheet" href="c.css"><link rel="icon" href="f.ico">`)

	assert.Equal(t, "/p/_js/https://example.com/s.js", attr(t, doc.Find("script"), "src"))
	assert.Equal(t, "/p/_css/https://example.com/c.css", attr(t, doc.Find("link").Eq(0), "href"))
	assert.Equal(t, "/p/https://example.com/f.ico", attr(t, doc.Find("link").Eq(1), "href"))
}

func TestProcessUnroutedAttributesUntouched(t *testing.T) {
	r := newTestRewriter(t, Config{})
	doc := processFragment(t, r, `<div href="x" data-src="y"></div><img alt="a" src="i.png">`)

	assert.Equal(t, "x", attr(t, doc.Find("div"), "href"))
	assert.Equal(t, "y", attr(t, doc.Find("div"), "data-src"))
	assert.Equal(t, "a", attr(t, doc.Find("img"), "alt"))
}

func TestProcessSkipsUnwrappableURL(t *testing.T) {
	r := newTestRewriter(t, Config{})
	doc := processFragment(t, r, `<a href="bad">x</a><a href="good">y</a>`)

	assert.Equal(t, "bad", attr(t, doc.Find("a").Eq(0), "href"))
	_, shadowed := doc.Find("a").Eq(0).Attr(ShadowPrefix + "href")
	assert.False(t, shadowed)
	assert.Equal(t, "/p/https://example.com/good", attr(t, doc.Find("a").Eq(1), "href"))
}

func TestProcessElementText(t *testing.T) {
	r := newTestRewriter(t, Config{})
	out, err := r.Process(`<style>a{}</style><script>go()</script><script type="application/json">{"a":1}</script><script></script>`,
		ProcessOptions{Base: testBase})
	require.NoError(t, err)

	assert.Contains(t, out, "<style>sheet(a{})</style>")
	assert.Contains(t, out, "<script>js(go())</script>")
	assert.Contains(t, out, `<script type="application/json">{"a":1}</script>`)
	assert.Contains(t, out, "<script></script>")
}

func TestProcessBaseOrdering(t *testing.T) {
	r := newTestRewriter(t, Config{})
	doc := processDocument(t, r, `<html><head><base href="/x/"></head><body><a href="y">y</a></body></html>`)

	assert.Equal(t, "/p/https://example.com/x/y", attr(t, doc.Find("a"), "href"))
	assert.Equal(t, "/p/https://example.com/x/", attr(t, doc.Find("base"), "href"))
}

func TestProcessBaseAppliesOnlyAfterward(t *testing.T) {
	r := newTestRewriter(t, Config{})
	doc := processFragment(t, r, `<a href="before">b</a><base href="/x/"><a href="after">a</a>`)

	assert.Equal(t, "/p/https://example.com/before", attr(t, doc.Find("a").Eq(0), "href"))
	assert.Equal(t, "/p/https://example.com/x/after", attr(t, doc.Find("a").Eq(1), "href"))
}

func TestProcessIgnoresUnparseableBase(t *testing.T) {
	r := newTestRewriter(t, Config{})
	doc := processFragment(t, r, `<base href="http://[::1"><a href="y">y</a>`)

	assert.Equal(t, "/p/https://example.com/y", attr(t, doc.Find("a"), "href"))
	assert.Equal(t, "http://[::1", attr(t, doc.Find("base"), "href"))
}

func TestProcessDuplicateAttributes(t *testing.T) {
	r := newTestRewriter(t, Config{})
	src := `<a href="x" href="y">t</a>`

	processed, err := r.Process(src, ProcessOptions{Base: testBase})
	require.NoError(t, err)
	assert.Equal(t, `<a href="/p/https://example.com/x" href="y" __portal_href="x">t</a>`, processed)

	restored, err := r.Source(processed, SourceOptions{})
	require.NoError(t, err)
	assert.Equal(t, src, restored)
}

func TestProcessLeavesNamespacedAttributes(t *testing.T) {
	r := newTestRewriter(t, Config{})
	src := `<svg><a xlink:href="x.svg">t</a></svg>`

	processed, err := r.Process(src, ProcessOptions{Base: testBase})
	require.NoError(t, err)
	assert.NotContains(t, processed, ShadowPrefix)

	restored, err := r.Source(processed, SourceOptions{})
	require.NoError(t, err)
	assert.Equal(t, src, restored)
}

func TestTitleCascade(t *testing.T) {
	const page = `<html><head><title>Original</title></head><body></body></html>`

	tests := []struct {
		name     string
		external string
		instance Override
		want     string
	}{
		{"external wins", "A", Title("B"), "A"},
		{"instance only", "", Title("B"), "B"},
		{"neither", "", Override{}, "Original"},
		{"suppressed", "", Suppress(), "Original"},
		{"external beats suppressed", "A", Suppress(), "A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRewriter(t, Config{Title: tt.instance}, WithExternalTitle(tt.external))
			doc := processDocument(t, r, page)

			titles := doc.Find("title")
			assert.Equal(t, 1, titles.Length(), "existing title is overwritten, not duplicated")
			assert.Equal(t, tt.want, titles.Text())
		})
	}
}

func TestHeadInjection(t *testing.T) {
	yes := true
	r := newTestRewriter(t, Config{Codec: "xor", Prefix: "/app/", Title: Title("it's <b>"), WS: &yes})
	doc := processDocument(t, r, `<html><head><meta charset="utf-8"></head><body></body></html>`)

	head := doc.Find("head").Children()
	require.Equal(t, 4, head.Length())

	assert.Equal(t, "title", goquery.NodeName(head.Eq(0)))
	assert.Equal(t, "it's <b>", head.Eq(0).Text())

	assert.Equal(t, "script", goquery.NodeName(head.Eq(1)))
	assert.Equal(t, "/app/index.js", attr(t, head.Eq(1), "src"))

	inline := head.Eq(2).Text()
	assert.Contains(t, inline, "window.$portal = new Portal({ window, codec: 'xor', prefix: '/app/', ws: true, cookie: undefined, title: 'it\\'s \\x3cb>', });")
	assert.Contains(t, inline, "$portal.init(); document.currentScript.remove();")

	assert.Equal(t, "meta", goquery.NodeName(head.Eq(3)))
}

func TestHeadInjectionWithoutOverride(t *testing.T) {
	tests := []struct {
		name    string
		title   Override
		literal string
	}{
		{"absent", Override{}, "title: undefined"},
		{"suppressed", Suppress(), "title: false"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRewriter(t, Config{Title: tt.title})
			doc := processDocument(t, r, `<html><head></head><body></body></html>`)

			assert.Equal(t, 0, doc.Find("title").Length())
			assert.Equal(t, 2, doc.Find("head script").Length())
			assert.Contains(t, doc.Find("head script").Eq(1).Text(), tt.literal)
			assert.Contains(t, doc.Find("head script").Eq(1).Text(), "codec: 'plain'")
		})
	}
}

func TestFragmentHasNoInjection(t *testing.T) {
	r := newTestRewriter(t, Config{Title: Title("T")})
	out, err := r.Process(`<p>hi</p>`, ProcessOptions{Base: testBase})
	require.NoError(t, err)
	assert.Equal(t, "<p>hi</p>", out)
}

func TestSourceRoundTripFragment(t *testing.T) {
	r := newTestRewriter(t, Config{})
	src := `<a href="x" ping="/p">a</a><img src="i.png" srcset="a.png 1x, b.png 2x"><iframe srcdoc="<p>hi</p>"></iframe><form action="/go"><input src="b.png"></form>`

	processed, err := r.Process(src, ProcessOptions{Base: testBase})
	require.NoError(t, err)
	require.NotEqual(t, src, processed)

	restored, err := r.Source(processed, SourceOptions{})
	require.NoError(t, err)
	normalized, err := r.Source(src, SourceOptions{})
	require.NoError(t, err)

	assert.Equal(t, normalized, restored)
	assert.NotContains(t, restored, ShadowPrefix)
}

func TestSourceRoundTripDocument(t *testing.T) {
	r := newTestRewriter(t, Config{Title: Title("Portal")})
	src := `<!DOCTYPE html><html><head><link rel="stylesheet" href="s.css"></head><body><a href="/x">x</a><video poster="p.jpg"></video></body></html>`

	processed, err := r.Process(src, ProcessOptions{Document: true, Base: testBase})
	require.NoError(t, err)
	require.Contains(t, processed, "<title")

	restored, err := r.Source(processed, SourceOptions{Document: true})
	require.NoError(t, err)
	normalized, err := r.Source(src, SourceOptions{Document: true})
	require.NoError(t, err)

	assert.Equal(t, normalized, restored)
}

func TestSourceToleratesMismatches(t *testing.T) {
	r := newTestRewriter(t, Config{})
	out, err := r.Source(`<a __portal_href="orphan">a</a><img src="/p/i.png">`, SourceOptions{})
	require.NoError(t, err)

	assert.Contains(t, out, `__portal_href="orphan"`)
	assert.Contains(t, out, `src="/p/i.png"`)
}

func TestProcessConcurrent(t *testing.T) {
	r := newTestRewriter(t, Config{Title: Title("T")})
	const page = `<html><head><base href="/x/"></head><body><a href="y">y</a></body></html>`

	var wg sync.WaitGroup
	results := make([]string, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := r.Process(page, ProcessOptions{Document: true, Base: testBase})
			assert.NoError(t, err)
			results[i] = out
		}(i)
	}
	wg.Wait()

	for _, out := range results[1:] {
		assert.Equal(t, results[0], out)
	}
}
