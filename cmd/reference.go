package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/aureeaubert/hull-closeio/internal/agent"
	"github.com/aureeaubert/hull-closeio/internal/app"
	"github.com/aureeaubert/hull-closeio/internal/cache"
	"github.com/aureeaubert/hull-closeio/internal/db"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var referenceCmd = &cobra.Command{
	Use:   "reference",
	Short: "Print Close.io lead statuses and custom fields as the sync sees them",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		rdb, err := db.OpenRedis(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = rdb.Close() }()

		// reference data needs neither the traits store nor the event log
		a := agent.New(cfg.Sync, cfg.CloseIO.APIKey,
			app.CRMClient(cfg, app.Dispatchers(cfg.CloseIO)),
			cache.NewRedisCache(rdb, cfg.Redis.KeyPrefix),
			nil, nil, log)

		ref, err := a.ReferenceData(ctx)
		if err != nil {
			return err
		}
		log.Debug("reference data loaded",
			zap.Int("lead_statuses", len(ref.LeadStatuses)),
			zap.Int("custom_fields", len(ref.CustomFields)))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ref)
	},
}
