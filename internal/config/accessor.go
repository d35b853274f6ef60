package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Setting is one leaf of the config tree, addressed by its dot path.
type Setting struct {
	Path  string
	Value any
}

// tree returns cfg as the generic JSON tree the dot paths address.
func tree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetByPath returns the value at a dot path such as "api.baseURL" or
// "speech.captureCommand.0".
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := tree(cfg)
	if err != nil {
		return nil, err
	}

	var current any = m
	for _, key := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("unknown config key: %s", path)
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid index %q in %s", key, path)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("%s is not a section", strings.TrimSuffix(path, "."+key))
		}
	}
	return current, nil
}

// settable is the tree of every known setting, with the optional ones
// filled in so that each leaf carries its JSON type.
func settable() map[string]any {
	cfg := Defaults()
	cfg.General.LogFile = "-"
	cfg.Speech.CaptureCommand = []string{"-"}
	cfg.Locale.CatalogFile = "-"
	m, _ := tree(cfg)
	return m
}

// lookup walks m along parts and returns the section holding the leaf.
func lookup(m map[string]any, parts []string) (map[string]any, error) {
	section := m
	for _, key := range parts[:len(parts)-1] {
		child, ok := section[key].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unknown config section %q", key)
		}
		section = child
	}
	return section, nil
}

// SetByPath parses raw according to the type of the setting at path and
// stores it in cfg. Only known leaf settings can be set.
func SetByPath(cfg *Config, path, raw string) error {
	parts := strings.Split(path, ".")
	known, err := lookup(settable(), parts)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	leaf := parts[len(parts)-1]
	template, ok := known[leaf]
	if !ok {
		return fmt.Errorf("unknown config key: %s", path)
	}
	if _, nested := template.(map[string]any); nested {
		return fmt.Errorf("%s is a section, set one of its keys", path)
	}

	val, err := parseSetting(template, raw)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	m, err := tree(cfg)
	if err != nil {
		return err
	}
	section, err := lookup(m, parts)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	section[leaf] = val

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

// parseSetting converts raw to the JSON type of template. Lists accept a JSON
// array or a whitespace-separated command line.
func parseSetting(template any, raw string) (any, error) {
	switch template.(type) {
	case bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("expected true or false, got %q", raw)
		}
		return b, nil
	case float64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected a whole number, got %q", raw)
		}
		return n, nil
	case []any:
		if strings.HasPrefix(strings.TrimSpace(raw), "[") {
			var list []string
			if err := json.Unmarshal([]byte(raw), &list); err != nil {
				return nil, fmt.Errorf("invalid list: %w", err)
			}
			return list, nil
		}
		return strings.Fields(raw), nil
	default:
		return raw, nil
	}
}

// Sanitize returns a copy of the config with credentials in the base URL masked.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var copy Config
	if err := json.Unmarshal(data, &copy); err != nil {
		return cfg
	}

	if u, err := url.Parse(copy.API.BaseURL); err == nil && u.User != nil {
		if pw, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), maskString(pw))
			copy.API.BaseURL = u.String()
		}
	}

	return &copy
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every settable path with its current value, sorted by
// path. Unset optional settings have a nil value.
func ListPaths(cfg *Config) []Setting {
	var known []Setting
	flatten("", settable(), &known)
	sort.Slice(known, func(i, j int) bool { return known[i].Path < known[j].Path })

	settings := make([]Setting, 0, len(known))
	for _, k := range known {
		val, err := GetByPath(cfg, k.Path)
		if err != nil {
			val = nil
		}
		settings = append(settings, Setting{Path: k.Path, Value: val})
	}
	return settings
}

func flatten(prefix string, m map[string]any, out *[]Setting) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if section, ok := v.(map[string]any); ok {
			flatten(path, section, out)
			continue
		}
		*out = append(*out, Setting{Path: path, Value: v})
	}
}
