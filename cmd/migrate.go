package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aureeaubert/hull-closeio/internal/db"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrationsDir string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the MySQL traits store and the ClickHouse sync event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		mysqlDB, err := db.OpenMySQL(ctx, cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		// the MySQL DSN enables multiStatements so the file runs in one Exec
		if err := execFile(mysqlDB, filepath.Join(migrationsDir, "001_init.sql"), false); err != nil {
			return err
		}
		log.Info("mysql migration complete")

		chDB, err := db.OpenClickHouse(ctx, cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer chDB.Close()

		if err := execFile(chDB, filepath.Join(migrationsDir, "clickhouse", "001_sync_events.sql"), true); err != nil {
			return err
		}
		log.Info("clickhouse migration complete", zap.String("dir", migrationsDir))
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrationsDir, "dir", "migrations", "directory holding the SQL migrations")
}

// execFile runs a schema file. ClickHouse accepts one statement per Exec,
// so split breaks the file on ';'.
func execFile(x *sqlx.DB, path string, split bool) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read migration file %s: %w", path, err)
	}

	stmts := []string{string(raw)}
	if split {
		stmts = splitStatements(string(raw))
	}
	for _, s := range stmts {
		if _, err := x.Exec(s); err != nil {
			return fmt.Errorf("exec %s: %w", path, err)
		}
	}
	return nil
}

func splitStatements(sql string) []string {
	var out []string
	for _, part := range strings.Split(sql, ";") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
