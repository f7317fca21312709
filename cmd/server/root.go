package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/edvengers/zera-pilot/internal/config"
	"github.com/edvengers/zera-pilot/internal/store"
)

// app carries what every command needs after startup.
type app struct {
	envFile string
	cfg     *config.Config
	logger  *slog.Logger
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "zera-pilot",
		Short:         "Zera Pilot: classroom raid server with a hidden support channel",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logOut := cmd.ErrOrStderr()
			if cmd.Name() == "serve" {
				logOut = os.Stdout
			}
			return a.load(logOut)
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	rootCmd.AddCommand(
		newServeCmd(a),
		newRaidCmd(a),
		newAlertsCmd(a),
	)
	return rootCmd
}

// load reads .env and the environment, then installs the JSON logger.
func (a *app) load(logOut io.Writer) error {
	envErr := godotenv.Load(a.envFile)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	a.cfg = cfg

	a.logger = slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(a.logger)

	if envErr != nil {
		a.logger.Debug("No .env file found, using environment variables", "path", a.envFile)
	}
	return nil
}

func (a *app) openStore() (*store.SQLiteStore, error) {
	st, err := store.NewSQLite(a.cfg.DBPath,
		store.WithMaxOpenConns(a.cfg.DBMaxOpenConns),
		store.WithLogger(a.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func closeStore(st *store.SQLiteStore) {
	if err := st.Close(); err != nil {
		slog.Error("Failed to close store", "error", err)
	}
}
