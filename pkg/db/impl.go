package db

import (
	"context"
	"math/big"
	"time"
)

type storeImpl interface {
	ping(ctx context.Context) error
	ensureSettings(ctx context.Context, minDifficulty uint32, amount *big.Int) (*Settings, error)
	retrieveSettings(ctx context.Context) (*Settings, error)
	updateMinDifficulty(ctx context.Context, difficulty uint32) (*Settings, error)
	updateTransferAmount(ctx context.Context, amount *big.Int) (*Settings, error)
	accountExists(ctx context.Context, id string) (bool, error)
	createAccount(ctx context.Context, id string) (*Account, error)
	createTransfer(ctx context.Context, t *Transfer) (*Transfer, error)
	retrieveTransfer(ctx context.Context, id int64) (*Transfer, error)
	hashUsed(ctx context.Context, hash []byte) (bool, error)
	countTransfers(ctx context.Context, since time.Time) (int64, error)
	acquireLock(ctx context.Context, name string, expiration time.Time) error
	releaseLock(ctx context.Context, name string) error
}
