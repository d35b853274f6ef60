package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"tiaapa/internal/config"
	"tiaapa/internal/history"
	"tiaapa/internal/locale"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check configuration, backend, and optional features",
		Long: `Verifies that the config file loads, the assistant backend answers,
and that voice capture and the history archive are usable when enabled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Tia Apa status v%s\n", version)
			fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed, failed, warned := 0, 0, 0

			// 1. Config file
			var cfg *config.Config
			if _, err := os.Stat(cfgPath); err != nil {
				printWarn(out, "Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
				warned++
				cfg = config.Defaults()
			} else if loaded, err := config.Load(cfgPath); err != nil {
				printFail(out, "Config validation", err.Error())
				failed++
				cfg = config.Defaults()
			} else {
				printPass(out, "Config file", cfgPath)
				passed++
				cfg = loaded
			}
			config.ApplyEnv(cfg)
			if err := config.Validate(cfg); err != nil {
				printFail(out, "Environment", err.Error())
				failed++
			}
			cfg.ExpandPaths()

			// 2. Backend
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			client := newBackend(cfg)
			if err := client.Healthy(ctx); err != nil {
				printFail(out, "Backend", fmt.Sprintf("%s: %v", client.BaseURL(), err))
				failed++
			} else {
				printPass(out, "Backend", client.BaseURL())
				passed++
			}

			// 3. Locale catalog
			if _, err := locale.Load(cfg.Locale.Catalog, cfg.Locale.CatalogFile, logger); err != nil {
				printFail(out, "Locale catalog", err.Error())
				failed++
			} else {
				printPass(out, "Locale catalog", cfg.Locale.Catalog)
				passed++
			}

			// 4. Voice capture
			switch {
			case !cfg.Speech.Enabled:
				printWarn(out, "Voice input", "disabled (speech.enabled=false)")
				warned++
			case len(cfg.Speech.CaptureCommand) == 0:
				printFail(out, "Voice input", "speech.captureCommand is empty")
				failed++
			default:
				if path, err := exec.LookPath(cfg.Speech.CaptureCommand[0]); err != nil {
					printFail(out, "Voice input", fmt.Sprintf("capture command not found: %s", cfg.Speech.CaptureCommand[0]))
					failed++
				} else {
					printPass(out, "Voice input", path)
					passed++
				}
			}

			// 5. History archive
			if cfg.History.Enabled {
				if err := checkDatabase(cfg.History.DBPath); err != nil {
					printFail(out, "History archive", err.Error())
					failed++
				} else {
					printPass(out, "History archive", cfg.History.DBPath)
					passed++
				}
			}

			fmt.Fprintf(out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

// checkDatabase opens the archive, which creates and migrates it if needed.
func checkDatabase(dbPath string) error {
	store, err := history.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := store.ListSessions(ctx, 1); err != nil {
		store.Close()
		return fmt.Errorf("cannot read: %w", err)
	}
	return store.Close()
}

func printPass(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  [PASS] %-20s %s\n", check, detail)
}

func printFail(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(w io.Writer, check, detail string) {
	fmt.Fprintf(w, "  [WARN] %-20s %s\n", check, detail)
}
