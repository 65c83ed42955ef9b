// Package main is the operator CLI: migrations, lookup checks and the
// maintenance sweeps the worker also runs on a schedule.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/oriyet/backend/config"
	"github.com/oriyet/backend/internal/lookup"
	"github.com/oriyet/backend/internal/store"
	"github.com/oriyet/backend/pkg/database"
)

var Version = "dev"

// cli carries what every subcommand needs.
type cli struct {
	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	c := &cli{}
	rootCmd := &cobra.Command{
		Use:           "oriyetctl",
		Short:         "ORIYET operator tool",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			c.logger = newLogger(verbose)
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			c.cfg = cfg
			return nil
		},
	}
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log at debug level")

	rootCmd.AddCommand(migrateCmd(c))
	rootCmd.AddCommand(lookupsCmd(c))
	rootCmd.AddCommand(paymentsCmd(c))
	rootCmd.AddCommand(eventsCmd(c))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// open connects to the database and validates the lookup tables.
func (c *cli) open(ctx context.Context) (*pgxpool.Pool, *store.Postgres, error) {
	pool, err := database.NewPostgresPool(ctx, c.cfg.Database.DSN(), database.PoolOptions{MaxConns: 4}, c.logger)
	if err != nil {
		return nil, nil, err
	}
	resolver := lookup.NewResolver(lookup.NewRepository(pool), c.logger)
	if err := resolver.Validate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, store.NewPostgres(pool, resolver), nil
}

func newLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, _ := config.Build()
	return logger
}
