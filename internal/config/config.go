package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"tiaapa/internal/locale"
)

// Config is the root configuration for tiaapa.
type Config struct {
	General GeneralConfig `json:"general"`
	API     APIConfig     `json:"api"`
	Speech  SpeechConfig  `json:"speech"`
	History HistoryConfig `json:"history"`
	Locale  LocaleConfig  `json:"locale"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
	Frontend string `json:"frontend"`          // "cli" | "tui"
}

// APIConfig points the client at the assistant backend.
type APIConfig struct {
	BaseURL        string `json:"baseURL"`
	Language       string `json:"language"`
	TimeoutSeconds int    `json:"timeoutSeconds"` // 0 = no client timeout
}

// SpeechConfig configures voice capture. CaptureCommand must write audio to
// stdout until it is killed (e.g. arecord, sox's rec, ffmpeg).
type SpeechConfig struct {
	Enabled           bool     `json:"enabled"`
	Locale            string   `json:"locale"`
	CaptureCommand    []string `json:"captureCommand,omitempty"`
	AudioFilename     string   `json:"audioFilename"`
	PartialIntervalMs int      `json:"partialIntervalMs"` // 0 = only transcribe on stop
}

type HistoryConfig struct {
	Enabled   bool   `json:"enabled"`
	DBPath    string `json:"dbPath"`
	ListLimit int    `json:"listLimit"`
}

type LocaleConfig struct {
	Catalog     string `json:"catalog"`               // "bn" | "en"
	CatalogFile string `json:"catalogFile,omitempty"` // optional YAML override
}

// DefaultConfigDir returns the default config directory (~/.tiaapa).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tiaapa"
	}
	return filepath.Join(home, ".tiaapa")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	cfg.ExpandPaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides the backend base URL from the environment. TIAAPA_API_URL
// wins over NEXT_PUBLIC_API_URL, the variable the web client was built with.
func ApplyEnv(cfg *Config) {
	for _, key := range []string{"TIAAPA_API_URL", "NEXT_PUBLIC_API_URL"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			cfg.API.BaseURL = v
			return
		}
	}
}

// ExpandPaths resolves ~/ in every path setting.
func (c *Config) ExpandPaths() {
	c.General.LogFile = ExpandPath(c.General.LogFile)
	c.History.DBPath = ExpandPath(c.History.DBPath)
	c.Locale.CatalogFile = ExpandPath(c.Locale.CatalogFile)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		val, exists := os.LookupEnv(groups[1])
		if exists && val != "" {
			return val
		}
		if len(groups) >= 3 && groups[2] != "" {
			return groups[2]
		}
		return match // Keep original if no env var and no default
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.Frontend {
	case "cli", "tui":
	default:
		errs = append(errs, "general.frontend must be one of: cli, tui")
	}

	if !strings.HasPrefix(cfg.API.BaseURL, "http://") && !strings.HasPrefix(cfg.API.BaseURL, "https://") {
		errs = append(errs, "api.baseURL must start with http:// or https://")
	}
	if cfg.API.Language == "" {
		errs = append(errs, "api.language is required")
	}
	if cfg.API.TimeoutSeconds < 0 {
		errs = append(errs, "api.timeoutSeconds must be >= 0")
	}

	if cfg.Speech.Locale == "" {
		errs = append(errs, "speech.locale is required")
	}
	if cfg.Speech.PartialIntervalMs < 0 {
		errs = append(errs, "speech.partialIntervalMs must be >= 0")
	}

	if cfg.History.Enabled && cfg.History.DBPath == "" {
		errs = append(errs, "history.dbPath is required when history is enabled")
	}
	if cfg.History.ListLimit < 1 {
		errs = append(errs, "history.listLimit must be >= 1")
	}

	if catalogs := locale.Available(); !slices.Contains(catalogs, cfg.Locale.Catalog) {
		errs = append(errs, "locale.catalog must be one of: "+strings.Join(catalogs, ", "))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
