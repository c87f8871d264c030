package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	chmigrate "github.com/golang-migrate/migrate/v4/database/clickhouse"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/tokenprinter/powfaucet/pkg/common"
	config_pkg "github.com/tokenprinter/powfaucet/pkg/config"
)

const (
	pgMigrationsSchema = "public"
	pgMigrationsPath   = "migrations/postgres"
	chMigrationsPath   = "migrations/clickhouse"
)

// migrateLogger routes golang-migrate output into slog
type migrateLogger struct {
	common.FmtLogger
	verbose bool
}

func (l *migrateLogger) Verbose() bool {
	return l.verbose
}

// applyMigrations moves the schema all the way up or down and closes m.
func applyMigrations(ctx context.Context, engine string, m *migrate.Migrate, up, verbose bool) error {
	mlog := slog.With("engine", engine, "up", up)

	m.Log = &migrateLogger{
		FmtLogger: common.FmtLogger{Ctx: ctx, Level: slog.LevelDebug},
		verbose:   verbose,
	}

	defer func() {
		srcErr, dstErr := m.Close()
		if srcErr != nil || dstErr != nil {
			mlog.ErrorContext(ctx, "Failed to close migrations", "source", srcErr, "destination", dstErr)
		}
	}()

	mlog.DebugContext(ctx, "Running migrations")

	var err error
	if up {
		err = m.Up()
	} else {
		err = m.Down()
	}

	changed := !errors.Is(err, migrate.ErrNoChange)
	if err != nil && changed {
		mlog.ErrorContext(ctx, "Failed to apply migrations", common.ErrAttr(err))
		return fmt.Errorf("%s migrations: %w", engine, err)
	}

	version, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		mlog.WarnContext(ctx, "Failed to read schema version", common.ErrAttr(verr))
	}

	mlog.InfoContext(ctx, "Migrated", "changes", changed, "version", version, "dirty", dirty)

	return nil
}

func MigratePostgres(ctx context.Context, pool *pgxpool.Pool, cfg common.ConfigStore, up bool) error {
	ctx = common.TraceContext(ctx, "postgres")

	src, err := iofs.New(postgresMigrationsFS, pgMigrationsPath)
	if err != nil {
		return err
	}

	// migrations table is pinned to one schema, otherwise search_path can
	// make golang-migrate apply everything twice
	driver, err := pgxmigrate.WithInstance(stdlib.OpenDBFromPool(pool), &pgxmigrate.Config{
		MigrationsTable: migrationsTable,
		SchemaName:      pgMigrationsSchema,
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to create Postgres migrate driver", common.ErrAttr(err))
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return err
	}

	return applyMigrations(ctx, "postgres", m, up, config_pkg.AsBool(cfg.Get(common.VerboseKey)))
}

// MigrateClickHouse is a no-op for a nil handle, i.e. when transfer logs
// are kept in memory.
func MigrateClickHouse(ctx context.Context, db *sql.DB, cfg common.ConfigStore, up bool) error {
	if db == nil {
		return nil
	}

	ctx = common.TraceContext(ctx, "clickhouse")

	src, err := iofs.New(clickhouseMigrationsFS, chMigrationsPath)
	if err != nil {
		return err
	}

	driver, err := chmigrate.WithInstance(db, &chmigrate.Config{
		MigrationsTable:       migrationsTable,
		MigrationsTableEngine: chmigrate.DefaultMigrationsTableEngine,
		DatabaseName:          cfg.Get(common.ClickHouseDBKey).Value(),
		MultiStatementEnabled: true,
		MultiStatementMaxSize: chmigrate.DefaultMultiStatementMaxSize,
	})
	if err != nil {
		slog.ErrorContext(ctx, "Failed to create ClickHouse migrate driver", common.ErrAttr(err))
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, "clickhouse", driver)
	if err != nil {
		return err
	}

	return applyMigrations(ctx, "clickhouse", m, up, config_pkg.AsBool(cfg.Get(common.VerboseKey)))
}
