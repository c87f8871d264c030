package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rs/xid"
	"github.com/tokenprinter/powfaucet/pkg/common"
	"github.com/tokenprinter/powfaucet/pkg/db"
	"golang.org/x/sync/errgroup"
)

const (
	maxParallel = 4
)

func accountID(runID string, i int) string {
	return fmt.Sprintf("load-%s-%d.test", runID, i)
}

// seed registers accountsCount accounts under a fresh run ID.
func seed(ctx context.Context, cfg common.ConfigStore, accountsCount int) (string, error) {
	pool, clickhouse, dberr := db.Connect(ctx, cfg, 5*time.Second, false /*admin*/)
	if dberr != nil {
		return "", dberr
	}

	defer pool.Close()
	if clickhouse != nil {
		clickhouse.Close()
	}

	businessDB, err := db.NewBusiness(pool)
	if err != nil {
		return "", err
	}

	runID := xid.New().String()

	errs, ctx := errgroup.WithContext(ctx)
	errs.SetLimit(maxParallel)

	for i := 0; i < accountsCount; i++ {
		errs.Go(func() error {
			id := accountID(runID, i)
			if _, err := businessDB.CreateAccount(ctx, id); err != nil && !errors.Is(err, db.ErrDuplicate) {
				return err
			}
			slog.Log(ctx, common.LevelTrace, "Seeded account", common.AccountIDAttr(id))
			return nil
		})
	}

	if err := errs.Wait(); err != nil {
		return "", err
	}

	slog.InfoContext(ctx, "Finished seeding accounts", "count", accountsCount, "run", runID)

	return runID, nil
}
