package db

import (
	"context"
	"crypto/sha256"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/tokenprinter/powfaucet/pkg/common"
	"github.com/tokenprinter/powfaucet/pkg/config"
)

var (
	pgStore *BusinessStore
)

func TestMain(m *testing.M) {
	flag.Parse()

	common.SetupLogs(common.StageTest, true)

	if testing.Short() {
		os.Exit(m.Run())
	}

	cfg := config.NewEnvConfig(os.Getenv)
	ctx := context.Background()

	pool, _, err := Connect(ctx, cfg, 10*time.Second, true /*admin*/)
	if err != nil {
		panic(err)
	}

	if err := MigratePostgres(ctx, pool, cfg, true /*up*/); err != nil {
		panic(err)
	}

	if pgStore, err = NewBusiness(pool); err != nil {
		panic(err)
	}

	os.Exit(m.Run())
}

func testHash(t *testing.T) []byte {
	digest := sha256.Sum256([]byte(t.Name() + time.Now().String()))
	return digest[:]
}

func storesUnderTest() map[string]*BusinessStore {
	stores := map[string]*BusinessStore{"memory": NewMemoryBusiness()}
	if pgStore != nil {
		stores["postgres"] = pgStore
	}
	return stores
}

func TestSettings(t *testing.T) {
	t.Parallel()

	for name, store := range storesUnderTest() {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()

			settings, err := store.EnsureSettings(ctx, 10, big.NewInt(1_000))
			if err != nil {
				t.Fatal(err)
			}

			// second call does not overwrite
			if _, err := store.EnsureSettings(ctx, 99, big.NewInt(5)); err != nil {
				t.Fatal(err)
			}

			updated, err := store.UpdateMinDifficulty(ctx, settings.MinDifficulty+1)
			if err != nil {
				t.Fatal(err)
			}
			if updated.MinDifficulty != settings.MinDifficulty+1 {
				t.Errorf("Unexpected min difficulty: %v", updated.MinDifficulty)
			}

			amount, _ := new(big.Int).SetString("340282366920938463463374607431768211455", 10)
			if _, err := store.UpdateTransferAmount(ctx, amount); err != nil {
				t.Fatal(err)
			}

			actual, err := store.RetrieveSettings(ctx)
			if err != nil {
				t.Fatal(err)
			}

			if actual.TransferAmount.Cmp(amount) != 0 {
				t.Errorf("Transfer amount (%v) is different from expected (%v)", actual.TransferAmount, amount)
			}

			if actual.MinDifficulty != settings.MinDifficulty+1 {
				t.Errorf("Cached min difficulty was not updated: %v", actual.MinDifficulty)
			}

			if _, err := store.UpdateTransferAmount(ctx, big.NewInt(-1)); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Expected invalid input for negative amount, got %v", err)
			}
		})
	}
}

func TestSettingsMissing(t *testing.T) {
	t.Parallel()

	store := NewMemoryBusiness()
	if _, err := store.RetrieveSettings(t.Context()); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Expected missing settings, got %v", err)
	}
}

func TestAccounts(t *testing.T) {
	t.Parallel()

	for name, store := range storesUnderTest() {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			id := fmt.Sprintf("acc-%v.near", time.Now().UnixNano())

			exists, err := store.AccountExists(ctx, id)
			if err != nil {
				t.Fatal(err)
			}
			if exists {
				t.Fatal("Account exists before creation")
			}

			if _, err := store.CreateAccount(ctx, id); err != nil {
				t.Fatal(err)
			}

			// creation overrides the negative cache entry
			if exists, err = store.AccountExists(ctx, id); err != nil || !exists {
				t.Errorf("Account does not exist after creation: %v", err)
			}

			// creating twice is not an error
			if _, err := store.CreateAccount(ctx, id); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestTransfers(t *testing.T) {
	t.Parallel()

	for name, store := range storesUnderTest() {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()

			countBefore, err := store.CountTransfers(ctx, time.Time{})
			if err != nil {
				t.Fatal(err)
			}

			transfer := &Transfer{
				AccountID:  "alice.near",
				Salt:       ^uint64(0),
				Hash:       testHash(t),
				Difficulty: 21,
				Amount:     big.NewInt(1_000_000),
				Client:     "printer",
			}

			used, err := store.HashUsed(ctx, transfer.Hash)
			if err != nil || used {
				t.Fatalf("Fresh hash is reported as used: %v", err)
			}

			created, err := store.CreateTransfer(ctx, transfer)
			if err != nil {
				t.Fatal(err)
			}

			if created.ID <= 0 || created.Salt != transfer.Salt {
				t.Errorf("Unexpected transfer: %+v", created)
			}

			if _, err := store.CreateTransfer(ctx, transfer); !errors.Is(err, ErrDuplicate) {
				t.Errorf("Expected duplicate error, got %v", err)
			}

			if used, err := store.HashUsed(ctx, transfer.Hash); err != nil || !used {
				t.Errorf("Recorded hash is not reported as used: %v", err)
			}

			retrieved, err := store.RetrieveTransfer(ctx, created.ID)
			if err != nil {
				t.Fatal(err)
			}
			if retrieved.Amount.Cmp(transfer.Amount) != 0 || retrieved.AccountID != transfer.AccountID {
				t.Errorf("Retrieved transfer is different: %+v", retrieved)
			}

			countAfter, err := store.CountTransfers(ctx, time.Time{})
			if err != nil {
				t.Fatal(err)
			}
			if countAfter != countBefore+1 {
				t.Errorf("Transfer count (%v) is different from expected (%v)", countAfter, countBefore+1)
			}
		})
	}
}

func TestConcurrentTransfersSameHash(t *testing.T) {
	t.Parallel()

	store := NewMemoryBusiness()
	hash := testHash(t)

	const concurrency = 16
	var wg sync.WaitGroup
	var lock sync.Mutex
	succeeded := 0

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CreateTransfer(t.Context(), &Transfer{
				AccountID: "alice.near",
				Hash:      hash,
				Amount:    big.NewInt(1),
			})
			if err == nil {
				lock.Lock()
				succeeded++
				lock.Unlock()
			}
		}()
	}

	wg.Wait()

	if succeeded != 1 {
		t.Errorf("Expected exactly one transfer to succeed, got %v", succeeded)
	}
}

func TestRetrieveMissingTransfer(t *testing.T) {
	t.Parallel()

	store := NewMemoryBusiness()
	for i := 0; i < 2; i++ {
		if _, err := store.RetrieveTransfer(t.Context(), 12345); !errors.Is(err, ErrRecordNotFound) {
			t.Errorf("Expected record not found, got %v", err)
		}
	}
}

func TestMaintenanceMode(t *testing.T) {
	t.Parallel()

	store := NewMemoryBusiness()
	ctx := t.Context()

	if _, err := store.EnsureSettings(ctx, 5, big.NewInt(10)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.CreateAccount(ctx, "bob.near"); err != nil {
		t.Fatal(err)
	}

	store.UpdateConfig(true /*maintenance mode*/)

	if _, err := store.RetrieveSettings(ctx); err != nil {
		t.Errorf("Cached settings are not available in maintenance mode: %v", err)
	}

	if exists, err := store.AccountExists(ctx, "bob.near"); err != nil || !exists {
		t.Errorf("Cached account is not available in maintenance mode: %v", err)
	}

	if _, err := store.AccountExists(ctx, "carol.near"); !errors.Is(err, ErrMaintenance) {
		t.Errorf("Expected maintenance error, got %v", err)
	}

	if _, err := store.CreateTransfer(ctx, &Transfer{AccountID: "bob.near", Hash: testHash(t), Amount: big.NewInt(1)}); !errors.Is(err, ErrMaintenance) {
		t.Errorf("Expected maintenance error, got %v", err)
	}
}

func TestNumericConversion(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		value    int64
		exp      int32
		expected string
	}{
		{1, 0, "1"},
		{1, 6, "1000000"},
		{123, 2, "12300"},
		{12300, -2, "123"},
	}

	for i, tc := range testCases {
		t.Run(fmt.Sprintf("numeric_%v", i), func(t *testing.T) {
			n := Numeric(big.NewInt(tc.value))
			n.Exp = tc.exp

			actual, err := BigInt(n)
			if err != nil {
				t.Fatal(err)
			}

			if actual.String() != tc.expected {
				t.Errorf("Actual value (%v) is different from expected (%v)", actual, tc.expected)
			}
		})
	}

	if _, err := BigInt(Numeric(nil)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected invalid input for NULL numeric, got %v", err)
	}
}

func TestLocks(t *testing.T) {
	t.Parallel()

	for name, store := range storesUnderTest() {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			lockName := t.Name() + time.Now().String()

			if err := store.AcquireLock(ctx, lockName, time.Now().Add(time.Minute)); err != nil {
				t.Fatal(err)
			}

			if err := store.AcquireLock(ctx, lockName, time.Now().Add(time.Minute)); !errors.Is(err, ErrLocked) {
				t.Errorf("Expected lock to be held, got %v", err)
			}

			if err := store.ReleaseLock(ctx, lockName); err != nil {
				t.Fatal(err)
			}

			if err := store.AcquireLock(ctx, lockName, time.Now().Add(-time.Second)); err != nil {
				t.Errorf("Failed to acquire released lock: %v", err)
			}

			// expired lock can be taken over
			if err := store.AcquireLock(ctx, lockName, time.Now().Add(time.Minute)); err != nil {
				t.Errorf("Failed to acquire expired lock: %v", err)
			}
		})
	}
}
