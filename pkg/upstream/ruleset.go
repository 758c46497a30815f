package upstream

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Regex struct {
	Match   string `yaml:"match"`
	Replace string `yaml:"replace"`
}

type KV struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

type Injection struct {
	Position string `yaml:"position,omitempty"`
	Append   string `yaml:"append,omitempty"`
	Prepend  string `yaml:"prepend,omitempty"`
	Replace  string `yaml:"replace,omitempty"`
}

// Rule patches requests to, and origin markup from, matching domains.
// Patches apply to origin markup, before the proxy rewrite.
type Rule struct {
	Domain  string   `yaml:"domain,omitempty"`
	Domains []string `yaml:"domains,omitempty"`
	Paths   []string `yaml:"paths,omitempty"`
	Headers struct {
		UserAgent string `yaml:"user-agent,omitempty"`
		Referer   string `yaml:"referer,omitempty"`
		Cookie    string `yaml:"cookie,omitempty"`
		CSP       string `yaml:"content-security-policy,omitempty"`
	} `yaml:"headers,omitempty"`
	RegexRules []Regex `yaml:"regexRules,omitempty"`

	URLMods struct {
		Domain []Regex `yaml:"domain,omitempty"`
		Path   []Regex `yaml:"path,omitempty"`
		Query  []KV    `yaml:"query,omitempty"`
	} `yaml:"urlMods,omitempty"`

	Injections []Injection `yaml:"injections,omitempty"`
}

type RuleSet []Rule

// LoadRuleSet reads every .yml/.yaml file under the ';'-separated paths.
func LoadRuleSet(rulePaths string, log *zap.Logger) (RuleSet, error) {
	if rulePaths == "" {
		return RuleSet{}, nil
	}

	var ruleSet RuleSet
	var errs []string

	for _, rulePath := range strings.Split(rulePaths, ";") {
		trimmedPath := strings.TrimSpace(rulePath)
		if trimmedPath == "" {
			continue
		}

		var rules RuleSet
		err := filepath.Walk(trimmedPath, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() || !(strings.HasSuffix(path, ".yml") || strings.HasSuffix(path, ".yaml")) {
				return nil
			}
			yamlFile, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read rules file '%s': %w", path, err)
			}
			var r RuleSet
			if err := yaml.Unmarshal(yamlFile, &r); err != nil {
				return fmt.Errorf("syntax error in rules file '%s': %w", path, err)
			}
			rules = append(rules, r...)
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Sprintf("'%s': %v", trimmedPath, err))
			continue
		}
		ruleSet = append(ruleSet, rules...)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("errors while loading rulesets: %s", strings.Join(errs, "; "))
	}

	log.Info("loaded rulesets",
		zap.Int("rules", ruleSet.Count()),
		zap.Int("domains", len(ruleSet.Domains())))
	return ruleSet, nil
}

func (rs RuleSet) Domains() []string {
	var domains []string
	for _, rule := range rs {
		if rule.Domain != "" {
			domains = append(domains, rule.Domain)
		}
		domains = append(domains, rule.Domains...)
	}
	return domains
}

func (rs RuleSet) Count() int {
	return len(rs)
}

// Match returns the first rule for host and path, or an empty rule.
func (rs RuleSet) Match(host, path string) Rule {
	for _, rule := range rs {
		domains := rule.Domains
		if rule.Domain != "" {
			domains = append(append([]string{}, domains...), rule.Domain)
		}
		for _, d := range domains {
			if !hostMatches(host, d) {
				continue
			}
			if len(rule.Paths) > 0 && !hasPrefix(path, rule.Paths) {
				continue
			}
			return rule
		}
	}
	return Rule{}
}

// ModifyURL applies the rule's domain, path and query mods.
func (rule Rule) ModifyURL(u *url.URL) (*url.URL, error) {
	out := *u
	for _, mod := range rule.URLMods.Domain {
		re, err := regexp.Compile(mod.Match)
		if err != nil {
			return nil, fmt.Errorf("bad domain mod %q: %w", mod.Match, err)
		}
		out.Host = re.ReplaceAllString(out.Host, mod.Replace)
	}
	for _, mod := range rule.URLMods.Path {
		re, err := regexp.Compile(mod.Match)
		if err != nil {
			return nil, fmt.Errorf("bad path mod %q: %w", mod.Match, err)
		}
		out.Path = re.ReplaceAllString(out.Path, mod.Replace)
	}
	if len(rule.URLMods.Query) > 0 {
		v := out.Query()
		for _, q := range rule.URLMods.Query {
			if q.Value == "" {
				v.Del(q.Key)
				continue
			}
			v.Set(q.Key, q.Value)
		}
		out.RawQuery = v.Encode()
	}
	return &out, nil
}

// Patch applies regex rules and goquery injections to an HTML body.
func (rule Rule) Patch(body string, log *zap.Logger) string {
	for _, rr := range rule.RegexRules {
		re, err := regexp.Compile(rr.Match)
		if err != nil {
			log.Warn("skipping bad regex rule", zap.String("match", rr.Match), zap.Error(err))
			continue
		}
		body = re.ReplaceAllString(body, rr.Replace)
	}
	if len(rule.Injections) == 0 {
		return body
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		log.Warn("could not parse html for injection", zap.Error(err))
		return body
	}
	for _, inj := range rule.Injections {
		sel := doc.Find(inj.Position)
		if inj.Replace != "" {
			sel.ReplaceWithHtml(inj.Replace)
		}
		if inj.Append != "" {
			sel.AppendHtml(inj.Append)
		}
		if inj.Prepend != "" {
			sel.PrependHtml(inj.Prepend)
		}
	}
	out, err := doc.Html()
	if err != nil {
		log.Warn("could not render html after injection", zap.Error(err))
		return body
	}
	return out
}

func hostMatches(host, domain string) bool {
	host = strings.ToLower(host)
	domain = strings.ToLower(domain)
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func hasPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
