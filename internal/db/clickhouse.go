package db

import (
	"context"
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/aureeaubert/hull-closeio/internal/config"
	"github.com/jmoiron/sqlx"
)

// OpenClickHouse opens the sync event log, e.g.
// clickhouse://default:@localhost:9000/hullcloseio?dial_timeout=5s
func OpenClickHouse(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("empty ClickHouse DSN")
	}
	return openPool(ctx, "clickhouse", cfg, 3*time.Second)
}
