// Package locale holds the user-facing strings of the chat client. Catalogs
// ship embedded as YAML and can be overridden key by key from a file.
package locale

import (
	"embed"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalogs/*.yaml
var builtin embed.FS

// Catalog is the set of localized strings shown to the user.
type Catalog struct {
	Title            string `yaml:"title"`
	Subtitle         string `yaml:"subtitle"`
	WelcomeTitle     string `yaml:"welcome_title"`
	WelcomeBody      string `yaml:"welcome_body"`
	Placeholder      string `yaml:"placeholder"`
	Thinking         string `yaml:"thinking"`
	QueryFallback    string `yaml:"query_fallback"`
	ImageFallback    string `yaml:"image_fallback"`
	VoiceUnsupported string `yaml:"voice_unsupported"`
	VoiceListening   string `yaml:"voice_listening"`
	VoiceStopped     string `yaml:"voice_stopped"`
	ImageAttached    string `yaml:"image_attached"`
	ImageRemoved     string `yaml:"image_removed"`
	ChatReset        string `yaml:"chat_reset"`
	UserLabel        string `yaml:"user_label"`
	AssistantLabel   string `yaml:"assistant_label"`
}

// Available lists the embedded catalog names.
func Available() []string {
	entries, err := builtin.ReadDir("catalogs")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	return names
}

// Builtin returns an embedded catalog by name ("bn", "en").
func Builtin(name string) (*Catalog, error) {
	data, err := builtin.ReadFile("catalogs/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown catalog %q", name)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog %q: %w", name, err)
	}
	return &c, nil
}

// Load returns the named embedded catalog with the keys present in
// overrideFile replaced. An empty overrideFile means no overrides.
func Load(name, overrideFile string, logger *slog.Logger) (*Catalog, error) {
	c, err := Builtin(name)
	if err != nil {
		return nil, err
	}
	if overrideFile == "" {
		return c, nil
	}

	data, err := os.ReadFile(overrideFile)
	if err != nil {
		return nil, fmt.Errorf("read catalog override: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse catalog override %s: %w", overrideFile, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("catalog override %s: %w", overrideFile, err)
	}
	logger.Info("loaded catalog override", "catalog", name, "path", overrideFile)
	return c, nil
}

// Validate checks that the strings the session depends on are present.
func (c *Catalog) Validate() error {
	var missing []string
	if strings.TrimSpace(c.QueryFallback) == "" {
		missing = append(missing, "query_fallback")
	}
	if strings.TrimSpace(c.ImageFallback) == "" {
		missing = append(missing, "image_fallback")
	}
	if strings.TrimSpace(c.VoiceUnsupported) == "" {
		missing = append(missing, "voice_unsupported")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing catalog keys: %s", strings.Join(missing, ", "))
	}
	return nil
}
