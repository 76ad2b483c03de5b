package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	appcfg "github.com/park285/checkmate-server/internal/config"
	"github.com/park285/checkmate-server/internal/obslog"
	"github.com/park285/checkmate-server/internal/store/pgstore"
)

func newMigrateCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the postgres schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := appcfg.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}
			log, err := obslog.Init(obslog.OptionsFromEnv())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			pg, err := pgstore.Open(ctx, cfg.DatabaseURL, log)
			if err != nil {
				return err
			}
			defer func() { _ = pg.Close() }()
			if err := pgstore.Migrate(ctx, pg.DB()); err != nil {
				return err
			}
			log.Info("migrate_done")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "overall migration deadline")
	return cmd
}
