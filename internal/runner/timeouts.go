package runner

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultJobTimeout bounds jobs whose target hostname matches no rule.
const DefaultJobTimeout = 5 * time.Minute

// timeoutRule pairs a hostname pattern with the watchdog duration for
// platforms matching it.
type timeoutRule struct {
	pattern *regexp.Regexp
	timeout time.Duration
}

// TimeoutResolver resolves the per-platform watchdog timeout for a job
// target URL. Rules are ordered; the first hostname match wins.
type TimeoutResolver struct {
	rules    []timeoutRule
	fallback time.Duration
}

// DefaultTimeoutResolver returns the built-in platform rules.
func DefaultTimeoutResolver() *TimeoutResolver {
	return &TimeoutResolver{
		fallback: DefaultJobTimeout,
		rules: []timeoutRule{
			// Workday flows are slow. The pattern covers workday.com as
			// well as the myworkdayjobs/myworkdaysite tenant hosts.
			{regexp.MustCompile(`(?i)workday`), 8 * time.Minute},
			{regexp.MustCompile(`(?i)greenhouse\.io`), 8 * time.Minute},
			{regexp.MustCompile(`(?i)lever\.co`), 6 * time.Minute},
		},
	}
}

// timeoutRulesFile is the YAML shape of a rules override file.
type timeoutRulesFile struct {
	Default   time.Duration `yaml:"default"`
	Platforms []struct {
		Pattern string        `yaml:"pattern"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"platforms"`
}

// LoadTimeoutRules reads an ordered rule list from a YAML file.
func LoadTimeoutRules(path string) (*TimeoutResolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timeout rules: %w", err)
	}

	var file timeoutRulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse timeout rules: %w", err)
	}

	resolver := &TimeoutResolver{fallback: file.Default}
	if resolver.fallback <= 0 {
		resolver.fallback = DefaultJobTimeout
	}

	for i, p := range file.Platforms {
		if p.Timeout <= 0 {
			return nil, fmt.Errorf("timeout rule %d: timeout must be positive", i)
		}
		re, err := regexp.Compile("(?i)" + p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("timeout rule %d: %w", i, err)
		}
		resolver.rules = append(resolver.rules, timeoutRule{pattern: re, timeout: p.Timeout})
	}
	return resolver, nil
}

// Resolve returns the watchdog duration for a job target URL.
// Missing or unparseable URLs fall back to the default.
func (t *TimeoutResolver) Resolve(applyURL string) time.Duration {
	if applyURL == "" {
		return t.fallback
	}

	parsed, err := url.Parse(applyURL)
	if err != nil {
		return t.fallback
	}
	hostname := strings.ToLower(parsed.Hostname())
	if hostname == "" {
		return t.fallback
	}

	for _, rule := range t.rules {
		if rule.pattern.MatchString(hostname) {
			return rule.timeout
		}
	}
	return t.fallback
}
