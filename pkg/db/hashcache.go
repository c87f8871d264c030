package db

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/tokenprinter/powfaucet/pkg/common"
)

type ProofHash = [sha256.Size]byte

// hashCache remembers recently accepted proof hashes so that replays are
// rejected before touching the database.
type hashCache struct {
	store *otter.Cache[ProofHash, time.Time]
}

type otterLogger struct{}

func (otterLogger) Warn(ctx context.Context, msg string, err error) {
	slog.WarnContext(ctx, msg, "source", "otter", common.ErrAttr(err))
}

func (otterLogger) Error(ctx context.Context, msg string, err error) {
	slog.ErrorContext(ctx, msg, "source", "otter", common.ErrAttr(err))
}

func newHashCache(maxSize int, expiryTTL time.Duration) *hashCache {
	const initialSize = 1_000

	return &hashCache{
		store: otter.Must(&otter.Options[ProofHash, time.Time]{
			MaximumSize:      maxSize,
			InitialCapacity:  initialSize,
			ExpiryCalculator: otter.ExpiryWriting[ProofHash, time.Time](expiryTTL),
			Logger:           otterLogger{},
		}),
	}
}

func (hc *hashCache) Seen(hash ProofHash) bool {
	_, ok := hc.store.GetIfPresent(hash)
	return ok
}

// Add returns false if the hash was already present.
func (hc *hashCache) Add(hash ProofHash, tnow time.Time) bool {
	added := false
	hc.store.ComputeIfAbsent(hash, func() (time.Time, bool) {
		added = true
		return tnow, false
	})
	return added
}

func (hc *hashCache) Remove(hash ProofHash) {
	hc.store.Invalidate(hash)
}
