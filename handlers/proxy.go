package handlers

import (
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/andesco/portal/pkg/codec"
	"github.com/andesco/portal/pkg/css"
	"github.com/andesco/portal/pkg/js"
	"github.com/andesco/portal/pkg/meta"
	"github.com/andesco/portal/pkg/rewriter"
	"github.com/andesco/portal/pkg/upstream"
)

//go:embed assets/index.js
var bootstrapJS []byte

// response headers that do not survive the rewrite
var dropHeaders = map[string]bool{
	"Content-Length":                      true,
	"Content-Encoding":                    true,
	"Transfer-Encoding":                   true,
	"Connection":                          true,
	"Content-Security-Policy":             true,
	"Content-Security-Policy-Report-Only": true,
	"Strict-Transport-Security":           true,
	"X-Frame-Options":                     true,
	"Set-Cookie":                          true,
}

// Proxy serves proxied pages under Prefix.
type Proxy struct {
	Prefix         string
	BlockedMessage string
	Rewriter       *rewriter.Rewriter
	URLs           *codec.URL
	CSS            *css.Processor
	JS             *js.Processor
	Fetcher        *upstream.Fetcher
	Log            *zap.Logger
}

// Register mounts the proxy routes on app.
func (p *Proxy) Register(app *fiber.App) {
	app.Get(p.Prefix+rewriter.BootstrapFile, p.Bootstrap)
	app.Get("/raw/*", p.Raw)
	app.Post("/api/process", p.Process)
	app.Post("/api/source", p.Source)
	app.Get(p.Prefix+"*", p.ProxySite)
}

// Bootstrap serves the client script every proxied page loads.
func (p *Proxy) Bootstrap(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "application/javascript; charset=utf-8")
	return c.Send(bootstrapJS)
}

// ProxySite decodes the target from the path, fetches it and rewrites the
// body according to its content type.
func (p *Proxy) ProxySite(c *fiber.Ctx) error {
	target, flags, err := p.target(c)
	if err != nil {
		p.Log.Warn("could not decode target", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusBadRequest).SendString("Could not decode URL")
	}

	headers := requestHeaders(c)
	if ref := headers.Get("Referer"); ref != "" {
		if orig, err := p.URLs.Unwrap(ref, &meta.Meta{Origin: c.BaseURL()}); err == nil {
			headers.Set("Referer", orig)
		}
	}

	resp, err := p.Fetcher.Fetch(c.UserContext(), target, headers)
	if err != nil {
		return p.fetchError(c, target, err)
	}

	body, err := p.rewrite(c.BaseURL(), resp, flags)
	if err != nil {
		p.Log.Error("rewrite failed", zap.String("url", target), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
	}

	copyHeaders(c, resp)
	return c.Status(resp.Status).Send(body)
}

// Raw fetches a plain target URL without rewriting it.
func (p *Proxy) Raw(c *fiber.Ctx) error {
	target, err := url.QueryUnescape(c.Params("*"))
	if err != nil {
		target = c.Params("*")
	}
	resp, err := p.Fetcher.Fetch(c.UserContext(), target, requestHeaders(c))
	if err != nil {
		return p.fetchError(c, target, err)
	}
	c.Set(fiber.HeaderContentType, resp.Header.Get("Content-Type"))
	return c.Status(resp.Status).Send(resp.Body)
}

// Process runs the forward transform on the request body.
// Query: document=true|false, base=<absolute url>.
func (p *Proxy) Process(c *fiber.Ctx) error {
	out, err := p.Rewriter.Process(string(c.Body()), rewriter.ProcessOptions{
		Document: c.Query("document") == "true",
		Base:     c.Query("base"),
		Origin:   c.BaseURL(),
	})
	if err != nil {
		if errors.Is(err, rewriter.ErrInvalidBase) {
			return c.Status(fiber.StatusBadRequest).SendString(err.Error())
		}
		return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString(out)
}

// Source runs the reverse transform on the request body.
func (p *Proxy) Source(c *fiber.Ctx) error {
	out, err := p.Rewriter.Source(string(c.Body()), rewriter.SourceOptions{
		Document: c.Query("document") == "true",
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString(err.Error())
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString(out)
}

// target decodes the raw request path. A query string on the proxied path
// comes from a GET form submit and is merged into the target.
func (p *Proxy) target(c *fiber.Ctx) (string, []meta.Flag, error) {
	target, flags, err := p.URLs.Target(string(c.Request().URI().PathOriginal()))
	if err != nil {
		return "", nil, err
	}
	q := string(c.Request().URI().QueryString())
	if q == "" {
		return target, flags, nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", nil, fmt.Errorf("error parsing target URL '%s': %w", target, err)
	}
	if u.RawQuery == "" {
		u.RawQuery = q
	} else {
		u.RawQuery += "&" + q
	}
	return u.String(), flags, nil
}

func (p *Proxy) rewrite(origin string, resp *upstream.Response, flags []meta.Flag) ([]byte, error) {
	ct := resp.Header.Get("Content-Type")
	m := &meta.Meta{Origin: origin, Base: resp.URL}

	switch {
	case resp.IsHTML():
		out, err := p.Rewriter.Process(string(resp.Body), rewriter.ProcessOptions{
			Document: true,
			Base:     resp.URL.String(),
			Origin:   origin,
		})
		return []byte(out), err
	case strings.Contains(ct, "text/css") || hasFlag(flags, meta.FlagCSS):
		return []byte(p.CSS.Process(string(resp.Body), m)), nil
	case strings.Contains(ct, "javascript") || hasFlag(flags, meta.FlagJS):
		return []byte(p.JS.Process(string(resp.Body))), nil
	}
	return resp.Body, nil
}

func (p *Proxy) fetchError(c *fiber.Ctx, target string, err error) error {
	switch {
	case errors.Is(err, upstream.ErrBlocked):
		return c.Status(fiber.StatusForbidden).SendString(p.BlockedMessage)
	case errors.Is(err, upstream.ErrUnsupportedScheme):
		return c.Status(fiber.StatusBadRequest).SendString(err.Error())
	}
	p.Log.Error("upstream fetch failed", zap.String("url", target), zap.Error(err))
	return c.Status(fiber.StatusBadGateway).SendString(err.Error())
}

func requestHeaders(c *fiber.Ctx) http.Header {
	headers := make(http.Header)
	c.Request().Header.VisitAll(func(key, value []byte) {
		headers.Add(string(key), string(value))
	})
	return headers
}

func copyHeaders(c *fiber.Ctx, resp *upstream.Response) {
	for key, values := range resp.Header {
		key = http.CanonicalHeaderKey(key)
		if dropHeaders[key] && !(key == "Content-Security-Policy" && resp.Rule.Headers.CSP != "") {
			continue
		}
		for _, v := range values {
			c.Append(key, v)
		}
	}
}

func hasFlag(flags []meta.Flag, f meta.Flag) bool {
	for _, x := range flags {
		if x == f {
			return true
		}
	}
	return false
}
