// Package upstream fetches origin resources on behalf of the proxy.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/andesco/portal/pkg/config"
)

var (
	// ErrBlocked is returned for blacklisted hosts.
	ErrBlocked = errors.New("upstream: host is blocked")
	// ErrUnsupportedScheme is returned for targets that are not http(s).
	ErrUnsupportedScheme = errors.New("upstream: unsupported scheme")
)

// forwarded request headers
var passHeaders = []string{"Accept", "Accept-Language", "Cache-Control", "Range"}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
	// URL is the final URL after redirects; rewrite relative to it.
	URL  *url.URL
	Rule Rule
}

// IsHTML reports whether the response is an HTML page.
func (r *Response) IsHTML() bool {
	return strings.Contains(r.Header.Get("Content-Type"), "text/html")
}

type Fetcher struct {
	UserAgent  string
	Rules      RuleSet
	Blacklist  []string
	ForceHTTPS bool
	LogURLs    bool
	Client     *http.Client
	log        *zap.Logger
}

// New builds a Fetcher from the proxy config, loading its rulesets.
func New(cfg config.ProxyConfig, logURLs bool, log *zap.Logger) (*Fetcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	rules, err := LoadRuleSet(cfg.Rulesets, log)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15
	}
	return &Fetcher{
		UserAgent:  cfg.UserAgent,
		Rules:      rules,
		Blacklist:  cfg.Blacklist,
		ForceHTTPS: cfg.ForceHTTPS,
		LogURLs:    logURLs,
		Client:     &http.Client{Timeout: time.Second * time.Duration(timeout)},
		log:        log,
	}, nil
}

// Blocked reports whether host is on the blacklist.
func (f *Fetcher) Blocked(host string) bool {
	host = strings.Split(host, ":")[0]
	for _, b := range f.Blacklist {
		if hostMatches(host, b) {
			return true
		}
	}
	return false
}

// Fetch issues a GET for target. Rule headers take precedence over the
// forwarded request headers.
func (f *Fetcher) Fetch(ctx context.Context, target string, reqHeader http.Header) (*Response, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("error parsing target URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if f.Blocked(u.Host) {
		return nil, fmt.Errorf("%w: %s", ErrBlocked, u.Host)
	}
	if f.ForceHTTPS {
		u.Scheme = "https"
	}
	if f.LogURLs {
		f.log.Info("fetching", zap.String("url", u.String()))
	}

	rule := f.Rules.Match(u.Hostname(), u.Path)
	finalURL, err := rule.ModifyURL(u)
	if err != nil {
		return nil, fmt.Errorf("error modifying URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("error building request: %w", err)
	}
	for _, h := range passHeaders {
		if v := reqHeader.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}

	req.Header.Set("User-Agent", f.UserAgent)
	if rule.Headers.UserAgent != "" {
		req.Header.Set("User-Agent", rule.Headers.UserAgent)
	}

	switch {
	case rule.Headers.Referer == "none":
	case rule.Headers.Referer != "":
		req.Header.Set("Referer", rule.Headers.Referer)
	case reqHeader.Get("Referer") != "":
		req.Header.Set("Referer", reqHeader.Get("Referer"))
	}

	// The proxy origin's cookies belong to every proxied site at once, so
	// only rule cookies are sent upstream.
	if rule.Headers.Cookie != "" {
		req.Header.Set("Cookie", rule.Headers.Cookie)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching site: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}

	if rule.Headers.CSP != "" {
		resp.Header.Set("Content-Security-Policy", rule.Headers.CSP)
	}

	out := &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
		URL:    resp.Request.URL,
		Rule:   rule,
	}
	if out.IsHTML() && (len(rule.RegexRules) > 0 || len(rule.Injections) > 0) {
		out.Body = []byte(rule.Patch(string(body), f.log))
	}
	return out, nil
}
