// Package css rewrites URL references inside stylesheets and style attributes.
package css

import (
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
	"go.uber.org/zap"

	"github.com/andesco/portal/pkg/meta"
)

// URLWrapper is the part of a URL codec the processor needs.
type URLWrapper interface {
	Wrap(value string, m *meta.Meta) (string, error)
}

// Processor rewrites url() tokens, and @import strings in stylesheets.
type Processor struct {
	urls URLWrapper
	log  *zap.Logger
}

func New(urls URLWrapper, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{urls: urls, log: log}
}

// Process returns text with every reference wrapped. Text the lexer cannot
// tokenize is copied through unchanged.
func (p *Processor) Process(text string, m *meta.Meta) string {
	l := css.NewLexer(parse.NewInputString(text))
	var b strings.Builder
	b.Grow(len(text))

	afterImport := false
	for {
		tt, data := l.Next()
		if tt == css.ErrorToken {
			break
		}

		switch tt {
		case css.URLToken:
			b.WriteString(p.rewriteURLToken(string(data), m))
			afterImport = false
			continue
		case css.AtKeywordToken:
			afterImport = m.Context == meta.Stylesheet && strings.EqualFold(string(data), "@import")
		case css.StringToken:
			if afterImport {
				b.WriteString(p.rewriteString(string(data), m))
				afterImport = false
				continue
			}
		case css.WhitespaceToken, css.CommentToken:
		default:
			afterImport = false
		}
		b.Write(data)
	}
	return b.String()
}

// rewriteURLToken handles url(x), url('x') and url("x").
func (p *Processor) rewriteURLToken(tok string, m *meta.Meta) string {
	open := strings.IndexByte(tok, '(')
	if open < 0 || !strings.HasSuffix(tok, ")") {
		return tok
	}
	inner := strings.TrimSpace(tok[open+1 : len(tok)-1])
	quote := ""
	if len(inner) >= 2 && (inner[0] == '"' || inner[0] == '\'') && inner[len(inner)-1] == inner[0] {
		quote = inner[:1]
		inner = inner[1 : len(inner)-1]
	}
	wrapped, ok := p.wrap(inner, m)
	if !ok {
		return tok
	}
	if quote == "" {
		quote = `"`
	}
	return tok[:open+1] + quote + escape(wrapped, quote) + quote + ")"
}

func (p *Processor) rewriteString(tok string, m *meta.Meta) string {
	if len(tok) < 2 {
		return tok
	}
	quote := tok[:1]
	wrapped, ok := p.wrap(tok[1:len(tok)-1], m)
	if !ok {
		return tok
	}
	return quote + escape(wrapped, quote) + quote
}

func (p *Processor) wrap(value string, m *meta.Meta) (string, bool) {
	if value == "" || strings.HasPrefix(value, "data:") {
		return "", false
	}
	wrapped, err := p.urls.Wrap(value, m.With())
	if err != nil {
		p.log.Debug("leaving css url unrewritten", zap.String("url", value), zap.Error(err))
		return "", false
	}
	return wrapped, true
}

func escape(s, quote string) string {
	return strings.ReplaceAll(s, quote, `\`+quote)
}
