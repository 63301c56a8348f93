// Package cli is the innkeeper command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/avstrong/innkeeper/internal/config"
	"github.com/avstrong/innkeeper/internal/logger"
)

var (
	outputJSON bool
	envFiles   []string
)

var rootCmd = &cobra.Command{
	Use:          "innkeeper",
	Short:        "Room inventory and reservations for small properties",
	SilenceUsage: true,
}

func Execute() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(availabilityCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output JSON")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Files to load variables from (default .env)")
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}

	return cfg, nil
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}

	return level
}

// newLogger writes JSON for the server and text for interactive commands.
func newLogger(cfg config.Config, w io.Writer, asJSON bool) *logger.Logger {
	if asJSON {
		return logger.NewJSON(w, parseLevel(cfg.LogLevel))
	}

	return logger.NewText(w, parseLevel(cfg.LogLevel))
}

// wantJSON is true with --json or when stdout is not a terminal.
func wantJSON() bool {
	return outputJSON || !term.IsTerminal(int(os.Stdout.Fd()))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
