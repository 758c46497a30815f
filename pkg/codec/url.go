package codec

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/andesco/portal/pkg/meta"
)

// ErrNotProxied is returned by Target for paths outside the prefix.
var ErrNotProxied = errors.New("codec: not a proxied url")

// browsing-context keywords share the target attribute with real URLs
var contextKeywords = map[string]bool{
	"_blank":  true,
	"_self":   true,
	"_parent": true,
	"_top":    true,
}

// URL wraps references as {origin}{prefix}[_{flags}/]{encoded target}.
type URL struct {
	Prefix string
	Codec  Codec
}

func NewURL(prefix string, c Codec) *URL {
	return &URL{Prefix: prefix, Codec: c}
}

// Wrap resolves value against m.Base and encodes it. Values that do not
// resolve to http(s) or ws(s), fragments and empty values come back as-is.
func (u *URL) Wrap(value string, m *meta.Meta) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" || strings.HasPrefix(v, "#") || contextKeywords[strings.ToLower(v)] {
		return value, nil
	}

	var target *url.URL
	var err error
	if m != nil && m.Base != nil {
		target, err = m.Base.Parse(v)
	} else {
		target, err = url.Parse(v)
	}
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", value, err)
	}

	switch target.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return value, nil
	}

	var b strings.Builder
	if m != nil {
		b.WriteString(m.Origin)
	}
	b.WriteString(u.Prefix)
	if m != nil && len(m.Flags) > 0 {
		b.WriteByte('_')
		for i, f := range m.Flags {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteString(string(f))
		}
		b.WriteByte('/')
	}
	b.WriteString(u.Codec.Encode(target.String()))
	return b.String(), nil
}

// Unwrap reverses Wrap. Values that were never wrapped come back as-is.
func (u *URL) Unwrap(value string, m *meta.Meta) (string, error) {
	v := value
	if m != nil && m.Origin != "" {
		v = strings.TrimPrefix(v, m.Origin)
	}
	if !strings.HasPrefix(v, u.Prefix) {
		return value, nil
	}
	target, _, err := u.Target(v)
	if err != nil {
		return "", err
	}
	return target, nil
}

// Target decodes a request path of the form {prefix}[_{flags}/]{encoded}.
func (u *URL) Target(path string) (string, []meta.Flag, error) {
	rest, ok := strings.CutPrefix(path, u.Prefix)
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrNotProxied, path)
	}

	var flags []meta.Flag
	if strings.HasPrefix(rest, "_") {
		if seg, tail, found := strings.Cut(rest[1:], "/"); found {
			for _, f := range strings.Split(seg, "_") {
				if f != "" {
					flags = append(flags, meta.Flag(f))
				}
			}
			rest = tail
		}
	}

	target, err := u.Codec.Decode(rest)
	if err != nil {
		return "", nil, fmt.Errorf("decoding %q with %s: %w", rest, u.Codec.Name(), err)
	}
	return target, flags, nil
}
