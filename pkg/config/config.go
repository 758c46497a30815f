// Package config loads the proxy configuration file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/andesco/portal/pkg/rewriter"
)

// TitleSetting is a title that may be a string, false, or omitted.
type TitleSetting struct {
	Set      bool
	Disabled bool
	Text     string
}

func (t *TitleSetting) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: title must be a string or a boolean", value.Line)
	}
	if value.ShortTag() == "!!bool" {
		var b bool
		if err := value.Decode(&b); err != nil {
			return err
		}
		// title: true carries no text, so it behaves like an omitted title.
		*t = TitleSetting{Set: true, Disabled: !b}
		return nil
	}
	if value.ShortTag() == "!!null" {
		*t = TitleSetting{}
		return nil
	}
	*t = TitleSetting{Set: true, Text: value.Value}
	return nil
}

func (t TitleSetting) MarshalYAML() (interface{}, error) {
	switch {
	case !t.Set:
		return nil, nil
	case t.Disabled:
		return false, nil
	}
	return t.Text, nil
}

// Override converts the setting into the rewriter's title policy.
func (t TitleSetting) Override() rewriter.Override {
	switch {
	case !t.Set:
		return rewriter.Override{}
	case t.Disabled:
		return rewriter.Suppress()
	}
	return rewriter.Title(t.Text)
}

type ProxyConfig struct {
	Prefix           string       `yaml:"prefix"`
	Codec            string       `yaml:"codec"`
	Title            TitleSetting `yaml:"title,omitempty"`
	WS               *bool        `yaml:"ws,omitempty"`
	Cookie           *bool        `yaml:"cookie,omitempty"`
	ForceHTTPS       bool         `yaml:"forceHttps,omitempty"`
	Blacklist        []string     `yaml:"blacklist,omitempty"`
	BlacklistMessage string       `yaml:"blacklistMessage,omitempty"`
	Rulesets         string       `yaml:"rulesets,omitempty"`
	Timeout          int          `yaml:"timeout,omitempty"`
	UserAgent        string       `yaml:"userAgent,omitempty"`
}

type Config struct {
	Port        string      `yaml:"port"`
	Title       string      `yaml:"title,omitempty"`
	LogURLs     bool        `yaml:"logUrls,omitempty"`
	ProxyConfig ProxyConfig `yaml:"proxyConfig"`
}

// Default mirrors the stock config file.
func Default() Config {
	return Config{
		Port: "8080",
		ProxyConfig: ProxyConfig{
			Prefix:           "/app/",
			Codec:            "xor",
			BlacklistMessage: "Page is blocked",
			Timeout:          15,
			UserAgent:        "Mozilla/5.0 (compatible; portal/1.0)",
		},
	}
}

// Load reads path over Default and applies environment overrides.
// An empty path only applies the overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("syntax error in config file '%s': %w", path, err)
		}
	}
	cfg.applyEnv()

	if !strings.HasPrefix(cfg.ProxyConfig.Prefix, "/") || !strings.HasSuffix(cfg.ProxyConfig.Prefix, "/") {
		return cfg, fmt.Errorf("prefix %q must start and end with '/'", cfg.ProxyConfig.Prefix)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getenv("PORT", c.Port)
	c.Title = getenv("PORTAL_TITLE", c.Title)
	c.ProxyConfig.Rulesets = getenv("RULESET", c.ProxyConfig.Rulesets)
	c.ProxyConfig.UserAgent = getenv("USER_AGENT", c.ProxyConfig.UserAgent)
	if s := os.Getenv("HTTP_TIMEOUT"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			c.ProxyConfig.Timeout = n
		}
	}
	if os.Getenv("LOG_URLS") == "true" {
		c.LogURLs = true
	}
}

// ExternalTitle is the startup-resolved title: the top-level title, then
// proxyConfig.title. Blank values do not count.
func (c Config) ExternalTitle() string {
	if strings.TrimSpace(c.Title) != "" {
		return c.Title
	}
	pt := c.ProxyConfig.Title
	if pt.Set && !pt.Disabled && strings.TrimSpace(pt.Text) != "" {
		return pt.Text
	}
	return ""
}

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
