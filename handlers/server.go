package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	"github.com/andesco/portal/pkg/codec"
	"github.com/andesco/portal/pkg/config"
	"github.com/andesco/portal/pkg/css"
	"github.com/andesco/portal/pkg/js"
	"github.com/andesco/portal/pkg/rewriter"
	"github.com/andesco/portal/pkg/upstream"
)

// NewProxy wires the codec, processors, rewriter and fetcher described by cfg.
func NewProxy(cfg config.Config, log *zap.Logger) (*Proxy, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pc := cfg.ProxyConfig

	c, err := codec.Lookup(pc.Codec)
	if err != nil {
		return nil, err
	}
	urls := codec.NewURL(pc.Prefix, c)
	cssProc := css.New(urls, log.Named("css"))
	jsProc := js.New()

	rw, err := rewriter.New(rewriter.Config{
		Codec:  c.Name(),
		Prefix: pc.Prefix,
		Title:  pc.Title.Override(),
		WS:     pc.WS,
		Cookie: pc.Cookie,
	}, urls, cssProc, jsProc,
		rewriter.WithExternalTitle(cfg.ExternalTitle()),
		rewriter.WithLogger(log.Named("rewriter")))
	if err != nil {
		return nil, err
	}

	fetcher, err := upstream.New(pc, cfg.LogURLs, log.Named("upstream"))
	if err != nil {
		return nil, err
	}

	return &Proxy{
		Prefix:         pc.Prefix,
		BlockedMessage: pc.BlacklistMessage,
		Rewriter:       rw,
		URLs:           urls,
		CSS:            cssProc,
		JS:             jsProc,
		Fetcher:        fetcher,
		Log:            log,
	}, nil
}

// NewApp builds the fiber app serving p.
func NewApp(p *Proxy) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             16 * 1024 * 1024,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} ${method} ${path} ${latency}\n",
	}))
	p.Register(app)
	return app
}
