package db

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
	"github.com/tokenprinter/powfaucet/pkg/common"
)

var (
	ErrNegativeCacheHit = errors.New("negative hit")
	ErrCacheMiss        = errors.New("cache miss")
)

type absentEntry struct{}

// absent marks keys that are known to have no row in the database
var absent any = &absentEntry{}

type cacheKeyPrefix byte

const (
	accountCacheKeyPrefix cacheKeyPrefix = iota
	settingsCacheKeyPrefix
	transferCacheKeyPrefix
)

var cacheKeyPrefixes = [...]string{
	accountCacheKeyPrefix:  "account/",
	settingsCacheKeyPrefix: "settings",
	transferCacheKeyPrefix: "transfer/",
}

// CacheKey is either an account name, a transfer id or the settings row.
type CacheKey struct {
	Prefix   cacheKeyPrefix
	IntValue int64
	StrValue string
}

func (ck CacheKey) String() string {
	prefix := cacheKeyPrefixes[ck.Prefix]

	switch ck.Prefix {
	case accountCacheKeyPrefix:
		return prefix + ck.StrValue
	case transferCacheKeyPrefix:
		return prefix + strconv.FormatInt(ck.IntValue, 10)
	default:
		return prefix
	}
}

func (ck CacheKey) LogValue() slog.Value {
	return slog.StringValue(ck.String())
}

func accountCacheKey(id string) CacheKey {
	return CacheKey{Prefix: accountCacheKeyPrefix, StrValue: id}
}

func settingsCacheKey() CacheKey {
	return CacheKey{Prefix: settingsCacheKeyPrefix}
}

func transferCacheKey(id int64) CacheKey {
	return CacheKey{Prefix: transferCacheKeyPrefix, IntValue: id}
}

// entityCache fronts BusinessStore reads. Rows that do not exist are
// remembered for absentTTL so that lookups of unknown accounts stay cheap.
type entityCache struct {
	store     *otter.Cache[CacheKey, any]
	counter   *stats.Counter
	absentTTL time.Duration
}

func newEntityCache(maxSize int, expiryTTL, refreshTTL, absentTTL time.Duration) (*entityCache, error) {
	counter := stats.NewCounter()

	store, err := otter.New(&otter.Options[CacheKey, any]{
		MaximumSize:       maxSize,
		ExpiryCalculator:  otter.ExpiryAccessing[CacheKey, any](expiryTTL),
		RefreshCalculator: otter.RefreshWriting[CacheKey, any](refreshTTL),
		StatsRecorder:     counter,
		Logger:            otterLogger{},
	})
	if err != nil {
		return nil, err
	}

	return &entityCache{store: store, counter: counter, absentTTL: absentTTL}, nil
}

func (c *entityCache) hitRatio() float64 {
	return c.counter.Snapshot().HitRatio()
}

func (c *entityCache) result(ctx context.Context, key CacheKey, data any) (any, error) {
	if data == absent {
		slog.Log(ctx, common.LevelTrace, "Cached as absent", "key", key)
		return nil, ErrNegativeCacheHit
	}

	slog.Log(ctx, common.LevelTrace, "Cache hit", "key", key)
	return data, nil
}

func (c *entityCache) get(ctx context.Context, key CacheKey) (any, error) {
	data, found := c.store.GetIfPresent(key)
	if !found {
		slog.Log(ctx, common.LevelTrace, "Cache miss", "key", key)
		return nil, ErrCacheMiss
	}

	return c.result(ctx, key, data)
}

// load calls loader on a miss. A loader returning absent caches the key as
// absent for absentTTL.
func (c *entityCache) load(ctx context.Context, key CacheKey, loader func(context.Context, CacheKey) (any, error)) (any, error) {
	data, err := c.store.Get(ctx, key, otter.LoaderFunc[CacheKey, any](loader))
	if err != nil {
		if errors.Is(err, otter.ErrNotFound) {
			return nil, ErrCacheMiss
		}

		slog.ErrorContext(ctx, "Failed to load cache entry", "key", key, common.ErrAttr(err))
		return nil, err
	}

	if data == absent {
		c.store.SetExpiresAfter(key, c.absentTTL)
	}

	return c.result(ctx, key, data)
}

func (c *entityCache) put(ctx context.Context, key CacheKey, value any) {
	c.store.Set(key, value)
	slog.Log(ctx, common.LevelTrace, "Cached entry", "key", key)
}

func (c *entityCache) putAbsent(ctx context.Context, key CacheKey) {
	c.store.Set(key, absent)
	c.store.SetExpiresAfter(key, c.absentTTL)
	slog.Log(ctx, common.LevelTrace, "Cached entry as absent", "key", key)
}

func fetchCached[T any](ctx context.Context, cache *entityCache, key CacheKey) (T, error) {
	var zero T

	data, err := cache.get(ctx, key)
	if err != nil {
		return zero, err
	}

	if t, ok := data.(T); ok {
		return t, nil
	}

	slog.ErrorContext(ctx, "Failed to cast cached value", "key", key)
	return zero, errInvalidCacheType
}
