package db

import (
	"context"
	"math/big"
	"sync"
	"time"
)

// memoryImpl keeps everything in process memory. It backs tests and
// single-node runs without Postgres.
type memoryImpl struct {
	lock      sync.Mutex
	settings  *Settings
	accounts  map[string]*Account
	transfers []*Transfer
	hashes    map[ProofHash]int64
	locks     map[string]time.Time
}

var _ storeImpl = (*memoryImpl)(nil)

func newMemoryImpl() *memoryImpl {
	return &memoryImpl{
		accounts: make(map[string]*Account),
		hashes:   make(map[ProofHash]int64),
		locks:    make(map[string]time.Time),
	}
}

func copySettings(s *Settings) *Settings {
	return &Settings{
		MinDifficulty:  s.MinDifficulty,
		TransferAmount: new(big.Int).Set(s.TransferAmount),
		UpdatedAt:      s.UpdatedAt,
	}
}

func (impl *memoryImpl) ping(context.Context) error { return nil }

func (impl *memoryImpl) ensureSettings(ctx context.Context, minDifficulty uint32, amount *big.Int) (*Settings, error) {
	impl.lock.Lock()
	defer impl.lock.Unlock()

	if impl.settings == nil {
		impl.settings = &Settings{
			MinDifficulty:  minDifficulty,
			TransferAmount: new(big.Int).Set(amount),
			UpdatedAt:      time.Now().UTC(),
		}
	}

	return copySettings(impl.settings), nil
}

func (impl *memoryImpl) retrieveSettings(context.Context) (*Settings, error) {
	impl.lock.Lock()
	defer impl.lock.Unlock()

	if impl.settings == nil {
		return nil, ErrRecordNotFound
	}

	return copySettings(impl.settings), nil
}

func (impl *memoryImpl) updateSettings(f func(s *Settings)) (*Settings, error) {
	impl.lock.Lock()
	defer impl.lock.Unlock()

	if impl.settings == nil {
		return nil, ErrRecordNotFound
	}

	f(impl.settings)
	impl.settings.UpdatedAt = time.Now().UTC()

	return copySettings(impl.settings), nil
}

func (impl *memoryImpl) updateMinDifficulty(_ context.Context, difficulty uint32) (*Settings, error) {
	return impl.updateSettings(func(s *Settings) { s.MinDifficulty = difficulty })
}

func (impl *memoryImpl) updateTransferAmount(_ context.Context, amount *big.Int) (*Settings, error) {
	return impl.updateSettings(func(s *Settings) { s.TransferAmount = new(big.Int).Set(amount) })
}

func (impl *memoryImpl) accountExists(_ context.Context, id string) (bool, error) {
	impl.lock.Lock()
	defer impl.lock.Unlock()

	_, ok := impl.accounts[id]
	return ok, nil
}

func (impl *memoryImpl) createAccount(_ context.Context, id string) (*Account, error) {
	impl.lock.Lock()
	defer impl.lock.Unlock()

	if a, ok := impl.accounts[id]; ok {
		return a, nil
	}

	a := &Account{ID: id, CreatedAt: time.Now().UTC()}
	impl.accounts[id] = a

	return a, nil
}

func (impl *memoryImpl) createTransfer(_ context.Context, t *Transfer) (*Transfer, error) {
	key, ok := hashKey(t.Hash)
	if !ok || t.Amount == nil {
		return nil, ErrInvalidInput
	}

	impl.lock.Lock()
	defer impl.lock.Unlock()

	if _, used := impl.hashes[key]; used {
		return nil, ErrDuplicate
	}

	result := *t
	result.ID = int64(len(impl.transfers) + 1)
	result.CreatedAt = time.Now().UTC()
	result.Amount = new(big.Int).Set(t.Amount)

	impl.transfers = append(impl.transfers, &result)
	impl.hashes[key] = result.ID

	copied := result
	return &copied, nil
}

func (impl *memoryImpl) retrieveTransfer(_ context.Context, id int64) (*Transfer, error) {
	impl.lock.Lock()
	defer impl.lock.Unlock()

	if id <= 0 || id > int64(len(impl.transfers)) {
		return nil, ErrRecordNotFound
	}

	copied := *impl.transfers[id-1]
	return &copied, nil
}

func (impl *memoryImpl) hashUsed(_ context.Context, hash []byte) (bool, error) {
	key, ok := hashKey(hash)
	if !ok {
		return false, ErrInvalidInput
	}

	impl.lock.Lock()
	defer impl.lock.Unlock()

	_, used := impl.hashes[key]
	return used, nil
}

func (impl *memoryImpl) countTransfers(_ context.Context, since time.Time) (int64, error) {
	impl.lock.Lock()
	defer impl.lock.Unlock()

	if since.IsZero() {
		return int64(len(impl.transfers)), nil
	}

	var count int64
	for _, t := range impl.transfers {
		if !t.CreatedAt.Before(since) {
			count++
		}
	}

	return count, nil
}

func (impl *memoryImpl) acquireLock(_ context.Context, name string, expiration time.Time) error {
	impl.lock.Lock()
	defer impl.lock.Unlock()

	if expiresAt, ok := impl.locks[name]; ok && time.Now().Before(expiresAt) {
		return ErrLocked
	}

	impl.locks[name] = expiration
	return nil
}

func (impl *memoryImpl) releaseLock(_ context.Context, name string) error {
	impl.lock.Lock()
	defer impl.lock.Unlock()

	delete(impl.locks, name)
	return nil
}
