package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/tokenprinter/powfaucet/pkg/common"
	config_pkg "github.com/tokenprinter/powfaucet/pkg/config"
)

const clickHouseNativePort = 9000

//go:embed migrations/clickhouse/*.sql
var clickhouseMigrationsFS embed.FS

func clickHouseOptions(cfg common.ConfigStore, admin bool) (*clickhouse.Options, bool) {
	host := cfg.Get(common.ClickHouseHostKey).Value()
	if len(host) == 0 {
		return nil, false
	}

	creds := credentials(cfg, admin, common.ClickHouseUserKey, common.ClickHousePasswordKey,
		common.ClickHouseAdminKey, common.ClickHouseAdminPasswordKey)

	return &clickhouse.Options{
		Addr: []string{hostPort(host, clickHouseNativePort)},
		Auth: clickhouse.Auth{
			Database: cfg.Get(common.ClickHouseDBKey).Value(),
			Username: creds.user,
			Password: creds.password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		ReadTimeout: 15 * time.Second,
		DialTimeout: 30 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		Debug: config_pkg.AsBool(cfg.Get(common.VerboseKey)),
	}, true
}

func connectClickhouse(ctx context.Context, options *clickhouse.Options) (*sql.DB, error) {
	slog.DebugContext(ctx, "Connecting to ClickHouse", "addr", options.Addr, "db", options.Auth.Database,
		"user", options.Auth.Username)

	options.Debugf = func(format string, v ...any) {
		slog.Log(ctx, common.LevelTrace, fmt.Sprintf(format, v...), common.TraceIDAttr("clickhouse"))
	}

	conn := clickhouse.OpenDB(options)
	// transfer logs are written in batches by a single goroutine
	conn.SetMaxIdleConns(2)
	conn.SetMaxOpenConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	return conn, nil
}
