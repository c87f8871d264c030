package db

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tokenprinter/powfaucet/pkg/common"
	"golang.org/x/sync/errgroup"
)

var (
	connectOnce          sync.Once
	globalPool           *pgxpool.Pool
	globalClickhouse     *sql.DB
	globalDBErr          error
	errConnectionTimeout = errors.New("connection timeout")
)

type dbCredentials struct {
	user     string
	password string
}

// credentials prefers the admin pair (used for migrations) when it is set.
func credentials(cfg common.ConfigStore, admin bool, userKey, passwordKey, adminKey, adminPasswordKey common.ConfigKey) dbCredentials {
	creds := dbCredentials{
		user:     cfg.Get(userKey).Value(),
		password: cfg.Get(passwordKey).Value(),
	}

	if admin {
		if user := cfg.Get(adminKey).Value(); len(user) > 0 {
			creds.user = user
			creds.password = cfg.Get(adminPasswordKey).Value()
		}
	}

	return creds
}

// hostPort appends defaultPort unless host already has one.
func hostPort(host string, defaultPort int) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}

	return net.JoinHostPort(host, strconv.Itoa(defaultPort))
}

// Connect opens both databases once per process. The ClickHouse handle is
// nil when its host is not configured.
func Connect(ctx context.Context, cfg common.ConfigStore, timeout time.Duration, admin bool) (*pgxpool.Pool, *sql.DB, error) {
	connectOnce.Do(func() {
		globalPool, globalClickhouse, globalDBErr = connectAll(ctx, cfg, timeout, admin)
	})
	return globalPool, globalClickhouse, globalDBErr
}

func connectAll(ctx context.Context, cfg common.ConfigStore, timeout time.Duration, admin bool) (pool *pgxpool.Pool, ch *sql.DB, err error) {
	errs, ctx := errgroup.WithContext(ctx)

	errs.Go(func() error {
		options, ok := clickHouseOptions(cfg, admin)
		if !ok {
			slog.WarnContext(ctx, "ClickHouse host is empty, transfer logs will be kept in memory")
			return nil
		}

		var cerr error
		ch, cerr = connectClickhouse(ctx, options)
		return cerr
	})

	errs.Go(func() error {
		config, perr := createPgxConfig(ctx, cfg, admin)
		if perr != nil {
			return perr
		}

		if pool, perr = connectPostgres(ctx, config, timeout); perr != nil {
			return perr
		}

		return pool.Ping(ctx)
	})

	err = errs.Wait()

	return
}
