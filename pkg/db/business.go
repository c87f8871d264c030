package db

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tokenprinter/powfaucet/pkg/common"
)

const (
	defaultCacheTTL     = 10 * time.Minute
	defaultCacheRefresh = 29 * time.Minute
	negativeCacheTTL    = 1 * time.Minute
	usedHashTTL         = 24 * time.Hour
	maxCacheSize        = 1_000_000
	maxHashCacheSize    = 100_000
)

// BusinessStore fronts the faucet tables with in-memory caches. In
// maintenance mode reads are served from cache only and writes fail.
type BusinessStore struct {
	Pool            *pgxpool.Pool
	impl            storeImpl
	cache           *entityCache
	hashes          *hashCache
	MaintenanceMode atomic.Bool
}

func NewBusiness(pool *pgxpool.Pool) (*BusinessStore, error) {
	return newBusinessEx(pool, &postgresImpl{pool: pool})
}

func NewMemoryBusiness() *BusinessStore {
	s, err := newBusinessEx(nil, newMemoryImpl())
	if err != nil {
		panic(err)
	}
	return s
}

func newBusinessEx(pool *pgxpool.Pool, impl storeImpl) (*BusinessStore, error) {
	cache, err := newEntityCache(maxCacheSize, defaultCacheTTL, defaultCacheRefresh, negativeCacheTTL)
	if err != nil {
		slog.Error("Failed to create memory cache", common.ErrAttr(err))
		return nil, err
	}

	return &BusinessStore{
		Pool:   pool,
		impl:   impl,
		cache:  cache,
		hashes: newHashCache(maxHashCacheSize, usedHashTTL),
	}, nil
}

func (s *BusinessStore) UpdateConfig(maintenanceMode bool) {
	s.MaintenanceMode.Store(maintenanceMode)
}

func (s *BusinessStore) Ping(ctx context.Context) error {
	return s.impl.ping(ctx)
}

func (s *BusinessStore) CacheHitRatio() float64 {
	return s.cache.hitRatio()
}

// EnsureSettings creates the settings row with defaults if it does not exist.
func (s *BusinessStore) EnsureSettings(ctx context.Context, minDifficulty uint32, amount *big.Int) (*Settings, error) {
	if s.MaintenanceMode.Load() {
		return nil, ErrMaintenance
	}

	settings, err := s.impl.ensureSettings(ctx, minDifficulty, amount)
	if err != nil {
		return nil, err
	}

	s.cache.put(ctx, settingsCacheKey(), settings)

	return settings, nil
}

func (s *BusinessStore) RetrieveSettings(ctx context.Context) (*Settings, error) {
	if settings, err := fetchCached[*Settings](ctx, s.cache, settingsCacheKey()); err == nil {
		return settings, nil
	} else if errors.Is(err, ErrNegativeCacheHit) {
		return nil, ErrRecordNotFound
	}

	if s.MaintenanceMode.Load() {
		return nil, ErrMaintenance
	}

	settings, err := s.impl.retrieveSettings(ctx)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			s.cache.putAbsent(ctx, settingsCacheKey())
		}
		return nil, err
	}

	s.cache.put(ctx, settingsCacheKey(), settings)

	return settings, nil
}

func (s *BusinessStore) UpdateMinDifficulty(ctx context.Context, difficulty uint32) (*Settings, error) {
	if s.MaintenanceMode.Load() {
		return nil, ErrMaintenance
	}

	settings, err := s.impl.updateMinDifficulty(ctx, difficulty)
	if err != nil {
		return nil, err
	}

	s.cache.put(ctx, settingsCacheKey(), settings)

	slog.InfoContext(ctx, "Updated min difficulty", "difficulty", difficulty)

	return settings, nil
}

func (s *BusinessStore) UpdateTransferAmount(ctx context.Context, amount *big.Int) (*Settings, error) {
	if s.MaintenanceMode.Load() {
		return nil, ErrMaintenance
	}

	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidInput
	}

	settings, err := s.impl.updateTransferAmount(ctx, amount)
	if err != nil {
		return nil, err
	}

	s.cache.put(ctx, settingsCacheKey(), settings)

	slog.InfoContext(ctx, "Updated transfer amount", "amount", amount.String())

	return settings, nil
}

// AccountExists caches both outcomes, unknown accounts only for negativeCacheTTL.
func (s *BusinessStore) AccountExists(ctx context.Context, id string) (bool, error) {
	key := accountCacheKey(id)

	if s.MaintenanceMode.Load() {
		if _, err := s.cache.get(ctx, key); err == nil {
			return true, nil
		} else if errors.Is(err, ErrNegativeCacheHit) {
			return false, nil
		}
		return false, ErrMaintenance
	}

	_, err := s.cache.load(ctx, key, func(ctx context.Context, key CacheKey) (any, error) {
		exists, err := s.impl.accountExists(ctx, key.StrValue)
		if err != nil {
			return nil, err
		}

		if !exists {
			return absent, nil
		}

		return true, nil
	})

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNegativeCacheHit):
		return false, nil
	default:
		return false, err
	}
}

func (s *BusinessStore) CreateAccount(ctx context.Context, id string) (*Account, error) {
	if s.MaintenanceMode.Load() {
		return nil, ErrMaintenance
	}

	if len(id) == 0 {
		return nil, ErrInvalidInput
	}

	account, err := s.impl.createAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cache.put(ctx, accountCacheKey(id), true)

	slog.InfoContext(ctx, "Created account", common.AccountIDAttr(id))

	return account, nil
}

// HashUsed checks the recent hashes first and falls back to the table.
func (s *BusinessStore) HashUsed(ctx context.Context, hash []byte) (bool, error) {
	key, ok := hashKey(hash)
	if !ok {
		return false, ErrInvalidInput
	}

	if s.hashes.Seen(key) {
		slog.Log(ctx, common.LevelTrace, "Proof hash found in cache")
		return true, nil
	}

	if s.MaintenanceMode.Load() {
		return false, ErrMaintenance
	}

	used, err := s.impl.hashUsed(ctx, hash)
	if err != nil {
		return false, err
	}

	if used {
		s.hashes.Add(key, time.Now())
	}

	return used, nil
}

// CreateTransfer records the payout. A proof hash can only be recorded
// once, the second attempt returns ErrDuplicate.
func (s *BusinessStore) CreateTransfer(ctx context.Context, t *Transfer) (*Transfer, error) {
	if s.MaintenanceMode.Load() {
		return nil, ErrMaintenance
	}

	key, ok := hashKey(t.Hash)
	if !ok || t.Amount == nil || len(t.AccountID) == 0 {
		return nil, ErrInvalidInput
	}

	// concurrent submissions of the same proof are rejected here before
	// one of them reaches the unique constraint
	if !s.hashes.Add(key, time.Now()) {
		return nil, ErrDuplicate
	}

	result, err := s.impl.createTransfer(ctx, t)
	if err != nil {
		if !errors.Is(err, ErrDuplicate) {
			s.hashes.Remove(key)
		}
		return nil, err
	}

	s.cache.put(ctx, transferCacheKey(result.ID), result)

	return result, nil
}

func (s *BusinessStore) RetrieveTransfer(ctx context.Context, id int64) (*Transfer, error) {
	key := transferCacheKey(id)
	if t, err := fetchCached[*Transfer](ctx, s.cache, key); err == nil {
		return t, nil
	} else if errors.Is(err, ErrNegativeCacheHit) {
		return nil, ErrRecordNotFound
	}

	if s.MaintenanceMode.Load() {
		return nil, ErrMaintenance
	}

	t, err := s.impl.retrieveTransfer(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			s.cache.putAbsent(ctx, key)
		}
		return nil, err
	}

	s.cache.put(ctx, key, t)

	return t, nil
}

// CountTransfers counts transfers created at or after since, zero since counts all.
func (s *BusinessStore) CountTransfers(ctx context.Context, since time.Time) (int64, error) {
	if s.MaintenanceMode.Load() {
		return 0, ErrMaintenance
	}

	return s.impl.countTransfers(ctx, since)
}

// AcquireLock returns ErrLocked while another holder's lock is not expired.
func (s *BusinessStore) AcquireLock(ctx context.Context, name string, expiration time.Time) error {
	if s.MaintenanceMode.Load() {
		return ErrMaintenance
	}

	if len(name) == 0 {
		return ErrInvalidInput
	}

	return s.impl.acquireLock(ctx, name, expiration)
}

func (s *BusinessStore) ReleaseLock(ctx context.Context, name string) error {
	if s.MaintenanceMode.Load() {
		return ErrMaintenance
	}

	return s.impl.releaseLock(ctx, name)
}
