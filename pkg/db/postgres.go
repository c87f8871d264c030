package db

import (
	"context"
	"embed"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tokenprinter/powfaucet/pkg/common"
)

const (
	pgDefaultPort                     = 5432
	pgIdleInTransactionSessionTimeout = 10 * time.Second
	pgStatementTimeout                = 10 * time.Second
)

//go:embed migrations/postgres/*.sql
var postgresMigrationsFS embed.FS

type queryTracer struct{}

func (tracer *queryTracer) TraceQueryStart(
	ctx context.Context,
	_ *pgx.Conn,
	data pgx.TraceQueryStartData) context.Context {
	slog.Log(ctx, common.LevelTrace, "Starting SQL command", "sql", data.SQL, "args", data.Args, "source", "postgres")
	return context.WithValue(ctx, common.TimeContextKey, time.Now())
}

func (tracer *queryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if data.Err != nil {
		slog.Log(ctx, common.LevelTrace, "SQL command failed", common.ErrAttr(data.Err), "source", "postgres")
	} else {
		t, ok := ctx.Value(common.TimeContextKey).(time.Time)
		if !ok {
			t = time.Now()
		}
		slog.Log(ctx, common.LevelTrace, "SQL command finished", "source", "postgres", "duration", time.Since(t).Milliseconds())
	}
}

func createPgxConfig(ctx context.Context, cfg common.ConfigStore, admin bool) (config *pgxpool.Config, err error) {
	dbURL := cfg.Get(common.PostgresKey).Value()
	config, err = pgxpool.ParseConfig(dbURL)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to parse Postgres URL", "url", dbURL, common.ErrAttr(err))
		return nil, err
	}

	if len(dbURL) == 0 {
		host, port, perr := net.SplitHostPort(hostPort(cfg.Get(common.PostgresHostKey).Value(), pgDefaultPort))
		if perr != nil {
			return nil, perr
		}
		portNum, perr := strconv.ParseUint(port, 10, 16)
		if perr != nil {
			return nil, perr
		}

		creds := credentials(cfg, admin, common.PostgresUserKey, common.PostgresPasswordKey,
			common.PostgresAdminKey, common.PostgresAdminPasswordKey)

		config.ConnConfig.Host = host
		config.ConnConfig.Port = uint16(portNum)
		config.ConnConfig.Database = cfg.Get(common.PostgresDBKey).Value()
		config.ConnConfig.User = creds.user
		config.ConnConfig.Password = creds.password
		// no TLS without a full URL
		config.ConnConfig.TLSConfig = nil
	}

	config.ConnConfig.Tracer = &queryTracer{}

	config.ConnConfig.RuntimeParams["application_name"] = "powfaucet"
	config.ConnConfig.RuntimeParams["idle_in_transaction_session_timeout"] =
		strconv.Itoa(int(pgIdleInTransactionSessionTimeout.Milliseconds()))
	config.ConnConfig.RuntimeParams["statement_timeout"] =
		strconv.Itoa(int(pgStatementTimeout.Milliseconds()))

	return
}

func connectPostgres(ctx context.Context, config *pgxpool.Config, timeout time.Duration) (*pgxpool.Pool, error) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	timeoutExceeded := time.After(timeout)
	for {
		select {
		case <-timeoutExceeded:
			slog.ErrorContext(ctx, "Connection to Postgres failed", "timeout", timeout)
			return nil, errConnectionTimeout

		case <-ticker.C:
			slog.DebugContext(ctx, "Connecting to Postgres...")
			pool, err := pgxpool.NewWithConfig(ctx, config)
			if err == nil {
				return pool, nil
			}

			slog.ErrorContext(ctx, "Failed to create pgxpool", common.ErrAttr(err))
		}
	}
}
