package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"tiaapa/internal/config"
	"tiaapa/internal/domain"
	"tiaapa/internal/media"
	"tiaapa/internal/speech"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// A missing .env is fine; the variables may come from the shell.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("cannot load .env", "err", err)
	}

	root := &cobra.Command{
		Use:   "tiaapa",
		Short: "Tia Apa: agricultural assistant chat client",
		Long:  "Tia Apa answers farming questions in Bangla. Ask by text, voice, or a photo of the affected plant.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.tiaapa/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(askCmd())
	root.AddCommand(analyzeCmd())
	root.AddCommand(transcribeCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func chatCmd() *cobra.Command {
	var tui bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if tui {
				cfg.General.Frontend = "tui"
			}
			return runChat(cfg)
		},
	}
	cmd.Flags().BoolVar(&tui, "tui", false, "use the full-screen terminal UI")
	return cmd
}

func runChat(cfg *config.Config) error {
	closeLog, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	// Graceful shutdown on signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	ch := a.channel(cfg.General.Frontend)
	logger.Info("chat started", "frontend", ch.Name(), "backend", cfg.API.BaseURL, "session", a.session.Snapshot().SessionID)
	return ch.Start(ctx)
}

func askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <text...>",
		Short: "Ask a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			closeLog, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			a.session.SetDraft(strings.Join(args, " "))
			if err := a.session.Submit(ctx); err != nil {
				return err
			}
			return printAnswer(cmd.OutOrStdout(), a.session.Snapshot().Messages)
		},
	}
}

func analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <image> [prompt...]",
		Short: "Analyze a plant photo and print the diagnosis",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			closeLog, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			img, err := media.OpenImage(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			a.session.StageImage(img)
			a.session.SetDraft(strings.Join(args[1:], " "))
			if err := a.session.Submit(ctx); err != nil {
				return err
			}
			return printAnswer(cmd.OutOrStdout(), a.session.Snapshot().Messages)
		},
	}
}

// printAnswer writes the last assistant message of msgs.
func printAnswer(w io.Writer, msgs []domain.Message) error {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == domain.RoleAssistant {
			_, err := fmt.Fprintln(w, msgs[i].Text())
			return err
		}
	}
	return fmt.Errorf("no answer received")
}

func transcribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe a recorded audio file through the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			closeLog, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			text, err := newBackend(cfg).Transcribe(ctx, f, filepath.Base(args[0]), speech.LanguageOf(cfg.Speech.Locale))
			if err != nil {
				return fmt.Errorf("transcribe: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file and applies the environment overrides.
// Only a missing file falls back to defaults; a file that cannot be parsed or
// fails validation is an error.
func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load config: %w", err)
		}
		logger.Warn("config not found, using defaults", "path", cfgPath)
		cfg = config.Defaults()
	}
	config.ApplyEnv(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config after environment overrides: %w", err)
	}
	cfg.ExpandPaths()
	return cfg, nil
}

// setupLogger replaces the global logger according to cfg. Without a log
// file the TUI only lets errors through so log lines do not paint over the
// screen. The returned func closes the log file, if any.
func setupLogger(cfg *config.Config) (func(), error) {
	var level slog.Level
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	if cfg.General.LogFile == "" {
		if cfg.General.Frontend == "tui" {
			level = slog.LevelError
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		return func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
		return func() {}, err
	}
	f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return func() {}, err
	}
	logger = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	return func() { f.Close() }, nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. api.baseURL)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. locale.catalog en)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	var paths bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			if !paths {
				data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
				fmt.Fprintln(out, string(data))
				return nil
			}
			for _, s := range config.ListPaths(config.Sanitize(cfg)) {
				val := ""
				if s.Value != nil {
					data, _ := json.Marshal(s.Value)
					val = string(data)
				}
				fmt.Fprintf(out, "%-26s %s\n", s.Path, val)
			}
			return nil
		},
	}
	list.Flags().BoolVar(&paths, "paths", false, "print one settable path per line")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})

	return cmd
}
