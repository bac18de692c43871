package components

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/aretw0/cocoon/pkg/domain"
)

// patternCache compiles each pattern once.
type patternCache struct {
	compile  func(string) (*regexp.Regexp, error)
	patterns sync.Map // string -> *regexp.Regexp
}

func (c *patternCache) get(pattern string) (*regexp.Regexp, error) {
	if re, ok := c.patterns.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := c.compile(pattern)
	if err != nil {
		return nil, err
	}
	c.patterns.Store(pattern, re)
	return re, nil
}

func groups(re *regexp.Regexp, value string) map[string]string {
	m := re.FindStringSubmatch(value)
	if m == nil {
		return nil
	}
	result := make(map[string]string, len(m))
	for i, g := range m {
		result[strconv.Itoa(i)] = g
	}
	for i, name := range re.SubexpNames() {
		if name != "" {
			result[name] = m[i]
		}
	}
	return result
}

// WildcardMatcher matches the sitemap URI against a wildcard pattern.
// "*" matches within one path segment, "**" across segments and "\" escapes
// the next character. Captured parts are numbered from 1; "0" is the URI.
type WildcardMatcher struct {
	cache *patternCache
}

// NewWildcardMatcher creates a WildcardMatcher.
func NewWildcardMatcher() *WildcardMatcher {
	return &WildcardMatcher{cache: &patternCache{compile: CompileWildcard}}
}

func (m *WildcardMatcher) Match(pattern string, env *domain.Environment, _ domain.Parameters) (map[string]string, error) {
	re, err := m.cache.get(pattern)
	if err != nil {
		return nil, err
	}
	return groups(re, env.URI()), nil
}

// CompileWildcard turns a wildcard pattern into an anchored regular expression.
func CompileWildcard(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '\\' && i+1 < len(pattern):
			i++
			sb.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
		case c == '*' && i+1 < len(pattern) && pattern[i+1] == '*':
			i++
			sb.WriteString("(.*)")
		case c == '*':
			sb.WriteString("([^/]*)")
		default:
			sb.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, fmt.Errorf("invalid wildcard pattern %q: %w", pattern, err)
	}
	return re, nil
}

// RegexpMatcher matches the sitemap URI against a regular expression.
// Numbered and named groups become sitemap variables.
type RegexpMatcher struct {
	cache *patternCache
}

// NewRegexpMatcher creates a RegexpMatcher.
func NewRegexpMatcher() *RegexpMatcher {
	return &RegexpMatcher{cache: &patternCache{compile: regexp.Compile}}
}

func (m *RegexpMatcher) Match(pattern string, env *domain.Environment, _ domain.Parameters) (map[string]string, error) {
	re, err := m.cache.get(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regexp pattern %q: %w", pattern, err)
	}
	return groups(re, env.URI()), nil
}

// RequestParameterMatcher matches when the request parameter named by the
// pattern is present. Its value is available as {1}.
type RequestParameterMatcher struct{}

func (RequestParameterMatcher) Match(pattern string, env *domain.Environment, _ domain.Parameters) (map[string]string, error) {
	v, ok := env.Request.Param(pattern)
	if !ok {
		return nil, nil
	}
	return map[string]string{"1": v}, nil
}

// HeaderMatcher matches when the request header named by the pattern is
// present. Its value is available as {1}.
type HeaderMatcher struct{}

func (HeaderMatcher) Match(pattern string, env *domain.Environment, _ domain.Parameters) (map[string]string, error) {
	v := env.Request.HeaderValue(pattern)
	if v == "" {
		return nil, nil
	}
	return map[string]string{"1": v}, nil
}
