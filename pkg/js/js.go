// Package js rewrites script text so page code reads the proxied location
// through the client bootstrap instead of the proxy's own address.
package js

import (
	"errors"
	"io"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/js"
)

// Global is the client-side object installed by the bootstrap script.
const Global = "$portal"

var rewritten = map[string]bool{
	"location": true,
}

type token struct {
	tt   js.TokenType
	data string
}

// Processor replaces free references to location with $portal.location.
// Property accesses (a.location), object keys ({location: 1}) and
// declarations are left alone.
type Processor struct{}

func New() *Processor {
	return &Processor{}
}

func (p *Processor) Process(text string) string {
	tokens, ok := lex(text)
	if !ok {
		return text
	}

	var b strings.Builder
	b.Grow(len(text) + 16)
	for i, t := range tokens {
		if t.tt == js.IdentifierToken && rewritten[t.data] && free(tokens, i) {
			b.WriteString(Global + "." + t.data)
			continue
		}
		b.WriteString(t.data)
	}
	return b.String()
}

// lex tokenizes the whole script; ok is false when the lexer fails before
// the end of the input.
func lex(text string) ([]token, bool) {
	l := js.NewLexer(parse.NewInputString(text))
	var tokens []token
	prev := ""
	for {
		tt, data := l.Next()
		if (tt == js.DivToken || tt == js.DivEqToken) && regexpAllowed(prev) {
			tt, data = l.RegExp()
		}
		if tt == js.ErrorToken {
			err := l.Err()
			return tokens, err == nil || errors.Is(err, io.EOF)
		}
		tokens = append(tokens, token{tt: tt, data: string(data)})
		if !blank(data) {
			prev = string(data)
		}
	}
}

// blank reports whitespace, line terminators and comments.
func blank(data []byte) bool {
	s := strings.TrimSpace(string(data))
	return s == "" || strings.HasPrefix(s, "//") || strings.HasPrefix(s, "/*")
}

// regexpAllowed reports whether a slash after prev starts a regular
// expression rather than a division.
func regexpAllowed(prev string) bool {
	if prev == "" {
		return true
	}
	switch prev {
	case ")", "]", "}", "++", "--":
		return false
	case "return", "typeof", "instanceof", "in", "of", "new", "delete", "void", "throw", "case", "do", "else", "yield", "await":
		return true
	}
	c := prev[len(prev)-1]
	isWord := c == '_' || c == '$' || c == '"' || c == '\'' || c == '`' ||
		(c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
	return !isWord
}

func free(tokens []token, i int) bool {
	prev, next := neighbour(tokens, i, -1), neighbour(tokens, i, 1)
	switch prev {
	case ".", "?.", "var", "let", "const", "function", "class":
		return false
	}
	return next != ":" || prev == "?"
}

func neighbour(tokens []token, i, dir int) string {
	for j := i + dir; j >= 0 && j < len(tokens); j += dir {
		if !blank([]byte(tokens[j].data)) {
			return tokens[j].data
		}
	}
	return ""
}
