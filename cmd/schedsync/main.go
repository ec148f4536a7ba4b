package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sonroyaalmerol/schedsync/internal/config"
	"github.com/sonroyaalmerol/schedsync/internal/logging"
	"github.com/sonroyaalmerol/schedsync/internal/pipeline"
	"github.com/sonroyaalmerol/schedsync/internal/state"
	"github.com/sonroyaalmerol/schedsync/internal/state/filestore"
	"github.com/sonroyaalmerol/schedsync/internal/state/postgres"
	"github.com/sonroyaalmerol/schedsync/internal/state/sqlite"
	"github.com/sonroyaalmerol/schedsync/internal/syncerr"
)

var (
	envFile string
	verbose bool
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(syncerr.ExitCode(err))
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "schedsync",
		Short:         "Bidirectional sync between a calendar feed and the player schedule",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				return godotenv.Load(envFile)
			}
			_ = godotenv.Load()
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "config", "", "path to a .env file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	root.AddCommand(planCmd(), applyCmd(), adoptCmd(), exportCmd())
	return root
}

func setup() (*config.Config, zerolog.Logger, state.Store, *pipeline.Pipeline, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Logger{}, nil, nil, err
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	logger := logging.New(cfg.LogLevel)
	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, logger, nil, nil, err
	}
	p, err := pipeline.New(cfg, store, logger)
	if err != nil {
		store.Close()
		return nil, logger, nil, nil, err
	}
	return cfg, logger, store, p, nil
}

func openStore(cfg *config.Config, logger zerolog.Logger) (state.Store, error) {
	switch cfg.State.Backend {
	case "sqlite":
		return sqlite.New(cfg.State.SQLiteDSN, logger)
	case "postgres":
		return postgres.New(cfg.State.PGURL, logger)
	default:
		return filestore.New(cfg.State.Dir, logger)
	}
}

func planCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute the reconciliation plan without applying it",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, store, p, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()

			plan, err := p.Plan(cmd.Context())
			if err != nil {
				return err
			}
			for _, w := range plan.Warnings {
				logger.Warn().Str("code", string(w.Code)).Fields(w.Context).Msg(w.Message)
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(plan.Result.Actions)
			}
			for _, a := range plan.Result.Actions {
				fmt.Printf("%-6s %-9s %s (%s)\n", a.Type, a.Target, a.IdentityHash, a.Reason)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the plan as JSON")
	return cmd
}

func applyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Compute the plan and apply it to both sides",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, store, p, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()

			plan, err := p.Plan(cmd.Context())
			if err != nil {
				return err
			}
			return p.Apply(cmd.Context(), plan)
		},
	}
}

func adoptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "adopt [identity-hash...]",
		Short: "Tag unmanaged scheduler rows so they become managed",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, store, p, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := p.Adopt(cmd.Context(), args)
			if err != nil {
				return err
			}
			logger.Info().Int("rows", n).Msg("adoption finished")
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export unmanaged scheduler rows as an ICS document",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, store, p, err := setup()
			if err != nil {
				return err
			}
			defer store.Close()

			body, err := p.ExportICS(cmd.Context())
			if err != nil {
				return err
			}
			if out == "" {
				_, err = os.Stdout.Write(body)
				return err
			}
			return os.WriteFile(out, body, 0o644)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write the document to a file instead of stdout")
	return cmd
}
