package db

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tokenprinter/powfaucet/pkg/common"
)

const (
	settingsColumns  = `min_difficulty, transfer_amount, updated_at`
	transfersColumns = `id, account_id, salt, hash, difficulty, amount, client, created_at`
)

var (
	ten = big.NewInt(10)
)

func Numeric(v *big.Int) pgtype.Numeric {
	if v == nil {
		return pgtype.Numeric{Valid: false}
	}

	return pgtype.Numeric{Int: new(big.Int).Set(v), Exp: 0, Valid: true}
}

func NumericUint64(v uint64) pgtype.Numeric {
	return pgtype.Numeric{Int: new(big.Int).SetUint64(v), Exp: 0, Valid: true}
}

// BigInt converts an integral NUMERIC back, Postgres may return it with a
// positive exponent.
func BigInt(n pgtype.Numeric) (*big.Int, error) {
	if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite || n.Int == nil {
		return nil, ErrInvalidInput
	}

	v := new(big.Int).Set(n.Int)
	switch {
	case n.Exp > 0:
		v.Mul(v, new(big.Int).Exp(ten, big.NewInt(int64(n.Exp)), nil))
	case n.Exp < 0:
		v.Quo(v, new(big.Int).Exp(ten, big.NewInt(int64(-n.Exp)), nil))
	}

	return v, nil
}

func Timestampz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{Valid: false}
	}

	return pgtype.Timestamptz{
		Time:             t,
		InfinityModifier: pgtype.Finite,
		Valid:            true,
	}
}

type postgresImpl struct {
	pool *pgxpool.Pool
}

var _ storeImpl = (*postgresImpl)(nil)

func (impl *postgresImpl) ping(ctx context.Context) error {
	var v int32
	if err := impl.pool.QueryRow(ctx, "SELECT 1").Scan(&v); err != nil {
		slog.ErrorContext(ctx, "Failed to ping Postgres", common.ErrAttr(err))
		return err
	}

	slog.Log(ctx, common.LevelTrace, "Pinged Postgres", "result", v)

	return nil
}

func scanSettings(row pgx.Row) (*Settings, error) {
	var difficulty int32
	var amount pgtype.Numeric
	var updatedAt pgtype.Timestamptz

	if err := row.Scan(&difficulty, &amount, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	value, err := BigInt(amount)
	if err != nil {
		return nil, err
	}

	return &Settings{
		MinDifficulty:  uint32(difficulty),
		TransferAmount: value,
		UpdatedAt:      updatedAt.Time,
	}, nil
}

func scanTransfer(row pgx.Row) (*Transfer, error) {
	var t Transfer
	var salt, amount pgtype.Numeric
	var difficulty int32
	var createdAt pgtype.Timestamptz

	if err := row.Scan(&t.ID, &t.AccountID, &salt, &t.Hash, &difficulty, &amount, &t.Client, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	saltValue, err := BigInt(salt)
	if err != nil || !saltValue.IsUint64() {
		return nil, ErrInvalidInput
	}

	if t.Amount, err = BigInt(amount); err != nil {
		return nil, err
	}

	t.Salt = saltValue.Uint64()
	t.Difficulty = uint32(difficulty)
	t.CreatedAt = createdAt.Time

	return &t, nil
}

func (impl *postgresImpl) ensureSettings(ctx context.Context, minDifficulty uint32, amount *big.Int) (*Settings, error) {
	_, err := impl.pool.Exec(ctx,
		`INSERT INTO settings (id, min_difficulty, transfer_amount) VALUES (1, $1, $2) ON CONFLICT (id) DO NOTHING`,
		int32(minDifficulty), Numeric(amount))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to insert default settings", common.ErrAttr(err))
		return nil, err
	}

	return impl.retrieveSettings(ctx)
}

func (impl *postgresImpl) retrieveSettings(ctx context.Context) (*Settings, error) {
	settings, err := scanSettings(impl.pool.QueryRow(ctx, `SELECT `+settingsColumns+` FROM settings WHERE id = 1`))
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		slog.ErrorContext(ctx, "Failed to retrieve settings", common.ErrAttr(err))
	}

	return settings, err
}

func (impl *postgresImpl) updateMinDifficulty(ctx context.Context, difficulty uint32) (*Settings, error) {
	settings, err := scanSettings(impl.pool.QueryRow(ctx,
		`UPDATE settings SET min_difficulty = $1, updated_at = NOW() WHERE id = 1 RETURNING `+settingsColumns,
		int32(difficulty)))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to update min difficulty", "difficulty", difficulty, common.ErrAttr(err))
	}

	return settings, err
}

func (impl *postgresImpl) updateTransferAmount(ctx context.Context, amount *big.Int) (*Settings, error) {
	settings, err := scanSettings(impl.pool.QueryRow(ctx,
		`UPDATE settings SET transfer_amount = $1, updated_at = NOW() WHERE id = 1 RETURNING `+settingsColumns,
		Numeric(amount)))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to update transfer amount", "amount", amount.String(), common.ErrAttr(err))
	}

	return settings, err
}

func (impl *postgresImpl) accountExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := impl.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to check account", common.AccountIDAttr(id), common.ErrAttr(err))
		return false, err
	}

	return exists, nil
}

func (impl *postgresImpl) createAccount(ctx context.Context, id string) (*Account, error) {
	var createdAt pgtype.Timestamptz
	err := impl.pool.QueryRow(ctx,
		`INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id RETURNING created_at`,
		id).Scan(&createdAt)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to create account", common.AccountIDAttr(id), common.ErrAttr(err))
		return nil, err
	}

	return &Account{ID: id, CreatedAt: createdAt.Time}, nil
}

func (impl *postgresImpl) createTransfer(ctx context.Context, t *Transfer) (*Transfer, error) {
	result, err := scanTransfer(impl.pool.QueryRow(ctx,
		`INSERT INTO transfers (account_id, salt, hash, difficulty, amount, client) VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+transfersColumns,
		t.AccountID, NumericUint64(t.Salt), t.Hash, int32(t.Difficulty), Numeric(t.Amount), t.Client))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			slog.WarnContext(ctx, "Proof hash was already used", common.AccountIDAttr(t.AccountID))
			return nil, ErrDuplicate
		}

		slog.ErrorContext(ctx, "Failed to create transfer", common.AccountIDAttr(t.AccountID), common.ErrAttr(err))
		return nil, err
	}

	return result, nil
}

func (impl *postgresImpl) retrieveTransfer(ctx context.Context, id int64) (*Transfer, error) {
	t, err := scanTransfer(impl.pool.QueryRow(ctx, `SELECT `+transfersColumns+` FROM transfers WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		slog.ErrorContext(ctx, "Failed to retrieve transfer", "transferID", id, common.ErrAttr(err))
	}

	return t, err
}

func (impl *postgresImpl) hashUsed(ctx context.Context, hash []byte) (bool, error) {
	var used bool
	err := impl.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM transfers WHERE hash = $1)`, hash).Scan(&used)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to check proof hash", common.ErrAttr(err))
		return false, err
	}

	return used, nil
}

func (impl *postgresImpl) countTransfers(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	var err error
	if since.IsZero() {
		err = impl.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transfers`).Scan(&count)
	} else {
		err = impl.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transfers WHERE created_at >= $1`, Timestampz(since)).Scan(&count)
	}

	if err != nil {
		slog.ErrorContext(ctx, "Failed to count transfers", common.ErrAttr(err))
		return 0, err
	}

	return count, nil
}

func (impl *postgresImpl) acquireLock(ctx context.Context, name string, expiration time.Time) error {
	var acquired string
	err := impl.pool.QueryRow(ctx,
		`INSERT INTO locks (name, expires_at) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET expires_at = EXCLUDED.expires_at WHERE locks.expires_at < NOW()
RETURNING name`,
		name, Timestampz(expiration)).Scan(&acquired)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrLocked
		}
		slog.ErrorContext(ctx, "Failed to acquire lock", "name", name, common.ErrAttr(err))
		return err
	}

	return nil
}

func (impl *postgresImpl) releaseLock(ctx context.Context, name string) error {
	if _, err := impl.pool.Exec(ctx, `DELETE FROM locks WHERE name = $1`, name); err != nil {
		slog.ErrorContext(ctx, "Failed to release lock", "name", name, common.ErrAttr(err))
		return err
	}

	return nil
}
