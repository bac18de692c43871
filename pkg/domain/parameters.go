package domain

import (
	"sort"
	"strconv"
	"time"
)

// Parameters are the name/value pairs configured on sitemap components
// (<map:parameter name="..." value="..."/>), already resolved for the
// current request.
type Parameters map[string]string

// Get returns the named parameter or def when it is absent.
func (p Parameters) Get(name, def string) string {
	if v, ok := p[name]; ok {
		return v
	}
	return def
}

// Int returns the named parameter as an integer, or def when it is absent
// or not a number.
func (p Parameters) Int(name string, def int) int {
	v, ok := p[name]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Bool returns the named parameter as a boolean, or def when it is absent.
func (p Parameters) Bool(name string, def bool) bool {
	v, ok := p[name]
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Duration returns the named parameter parsed with time.ParseDuration.
func (p Parameters) Duration(name string, def time.Duration) time.Duration {
	v, ok := p[name]
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// Names returns the parameter names in sorted order.
func (p Parameters) Names() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy.
func (p Parameters) Clone() Parameters {
	c := make(Parameters, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

// ToMap converts the parameters into a generic map, e.g. for mapstructure decoding.
func (p Parameters) ToMap() map[string]any {
	m := make(map[string]any, len(p))
	for k, v := range p {
		m[k] = v
	}
	return m
}
