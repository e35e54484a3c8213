package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Settings are addressed by dot-separated paths of their file field names,
// such as "preferences.continue_mode" or "storage.redis_addr". The key set
// and each key's type come from Default.

var secretKeys = map[string]bool{
	"gemini.api_key": true,
}

// IsSecretKey reports whether the value under key must be masked on output.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Mask hides all but the last four characters of a secret string.
func Mask(v any) any {
	s, ok := v.(string)
	if !ok || s == "" {
		return v
	}
	if len(s) > 4 {
		s = s[len(s)-4:]
	}
	return "***" + s
}

// Keys returns every known key, sorted.
func Keys() []string {
	known := schema()
	keys := make([]string, 0, len(known))
	for k := range known {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// schema maps every known key to its default value.
func schema() map[string]any {
	m, err := ToMap(Default())
	if err != nil {
		panic(fmt.Sprintf("config: default does not encode: %v", err))
	}
	return flatten(m)
}

// flatten turns nested sections into dot-keyed leaves. Empty sections
// produce no keys.
func flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			if section, ok := v.(map[string]any); ok {
				walk(k, section)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}

// setPath stores v under key inside the nested map m, creating sections as
// needed. A scalar in the way of a section is an error.
func setPath(m map[string]any, key string, v any) error {
	parts := strings.Split(key, ".")
	cur := m
	for i, part := range parts[:len(parts)-1] {
		next, ok := cur[part]
		if !ok {
			section := make(map[string]any)
			cur[part] = section
			cur = section
			continue
		}
		section, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%s is not a section", strings.Join(parts[:i+1], "."))
		}
		cur = section
	}
	cur[parts[len(parts)-1]] = v
	return nil
}

// coerce parses raw into the type of key's default value.
func coerce(key, raw string) (any, error) {
	def, ok := schema()[key]
	if !ok {
		return nil, unknownKeyError(key)
	}
	switch def.(type) {
	case bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%s expects true or false, got %q", key, raw)
		}
		return b, nil
	case float64:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s expects an integer, got %q", key, raw)
		}
		return n, nil
	}
	return raw, nil
}

// unknownKeyError names the keys of the section the caller was aiming at,
// if any.
func unknownKeyError(key string) error {
	section, _, found := strings.Cut(key, ".")
	if found {
		var siblings []string
		for _, k := range Keys() {
			if strings.HasPrefix(k, section+".") {
				siblings = append(siblings, k)
			}
		}
		if len(siblings) > 0 {
			return fmt.Errorf("unknown config key: %s (known %s keys: %s)", key, section, strings.Join(siblings, ", "))
		}
	}
	return fmt.Errorf("unknown config key: %s", key)
}
