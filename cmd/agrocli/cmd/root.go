// Package cmd implements the agrocli terminal client. It talks to the same
// inference backend as the bot but keeps its profile in a local sqlite file.
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"agrobot/internal/inference"
	"agrobot/internal/localstore"
)

// cliScope is the single profile scope used by the terminal client.
const cliScope = "cli"

var (
	flagBackend string
	flagDBPath  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "agrocli",
	Short: "AgroHelp terminal client",
	Long: `agrocli is a terminal client for the AgroHelp assistant.
It keeps chat history and preferences in a local sqlite file and
sends questions (text or crop photos) to the inference backend.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&flagBackend, "backend", envOr("AGRO_BACKEND_URL", "http://127.0.0.1:8000"), "inference backend base URL")
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "sqlite database path (default $HOME/.agrobot/agrocli.db)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
}

// env is the shared wiring every subcommand builds on.
type env struct {
	db     *localstore.DB
	prefs  *localstore.Store
	client *inference.Client
	logger zerolog.Logger
}

func openEnv(ctx context.Context) (*env, error) {
	level := zerolog.WarnLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	path := flagDBPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		dir := filepath.Join(home, ".agrobot")
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		path = filepath.Join(dir, "agrocli.db")
	}

	db, err := localstore.Open(ctx, "sqlite", "file:"+path+"?_pragma=busy_timeout(5000)", true, "")
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	return &env{
		db:    db,
		prefs: db.Scope(cliScope, logger),
		client: inference.New(inference.Config{
			BaseURL:    flagBackend,
			HTTPClient: &http.Client{Timeout: 60 * time.Second},
			MaxRetries: 2,
		}),
		logger: logger,
	}, nil
}

func (e *env) Close() {
	_ = e.db.Close()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
