// Package codec encodes target URLs into proxy-relative paths.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"unicode/utf16"
)

// ErrUnknownCodec is returned by Lookup for an unregistered name.
var ErrUnknownCodec = errors.New("codec: unknown codec")

// Codec is a reversible string transform whose output is safe in a single
// path segment.
type Codec interface {
	Name() string
	Encode(s string) string
	Decode(s string) (string, error)
}

var registry = map[string]Codec{
	"plain":  Plain{},
	"xor":    XOR{},
	"base64": Base64{},
}

// Lookup returns the codec registered under name.
func Lookup(name string) (Codec, error) {
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return c, nil
}

// Names lists the registered codecs.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Plain percent-escapes the URL.
type Plain struct{}

func (Plain) Name() string { return "plain" }

func (Plain) Encode(s string) string { return url.PathEscape(s) }

func (Plain) Decode(s string) (string, error) { return url.PathUnescape(s) }

// XOR flips bit 1 of every second UTF-16 code unit before escaping, which
// keeps target URLs out of naive keyword filters.
type XOR struct{}

func (XOR) Name() string { return "xor" }

func (XOR) Encode(s string) string { return url.PathEscape(xor(s)) }

func (XOR) Decode(s string) (string, error) {
	raw, err := url.PathUnescape(s)
	if err != nil {
		return "", err
	}
	return xor(raw), nil
}

// xor works on UTF-16 code units to match the browser client. Flipping bit
// 1 keeps a surrogate within its half of the surrogate range.
func xor(s string) string {
	units := utf16.Encode([]rune(s))
	for i := 1; i < len(units); i += 2 {
		units[i] ^= 2
	}
	return string(utf16.Decode(units))
}

// Base64 uses unpadded URL-safe base64.
type Base64 struct{}

func (Base64) Name() string { return "base64" }

func (Base64) Encode(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

func (Base64) Decode(s string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
