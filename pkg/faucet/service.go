package faucet

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/tokenprinter/powfaucet/pkg/account"
	"github.com/tokenprinter/powfaucet/pkg/common"
	config_pkg "github.com/tokenprinter/powfaucet/pkg/config"
	"github.com/tokenprinter/powfaucet/pkg/db"
	"github.com/tokenprinter/powfaucet/pkg/leakybucket"
	"github.com/tokenprinter/powfaucet/pkg/solver"
)

const (
	DefaultMinDifficulty = 20
	maxCooldownBuckets   = 100_000
	// every account can burst cooldownCapacity transfers and then gets one
	// more every cooldownInterval
	cooldownCapacity = 5
	cooldownInterval = 1 * time.Minute
)

var (
	DefaultTransferAmount = big.NewInt(1_000_000)
)

type Store interface {
	EnsureSettings(ctx context.Context, minDifficulty uint32, amount *big.Int) (*db.Settings, error)
	RetrieveSettings(ctx context.Context) (*db.Settings, error)
	UpdateMinDifficulty(ctx context.Context, difficulty uint32) (*db.Settings, error)
	UpdateTransferAmount(ctx context.Context, amount *big.Int) (*db.Settings, error)
	AccountExists(ctx context.Context, id string) (bool, error)
	CreateAccount(ctx context.Context, id string) (*db.Account, error)
	HashUsed(ctx context.Context, hash []byte) (bool, error)
	CreateTransfer(ctx context.Context, t *db.Transfer) (*db.Transfer, error)
	RetrieveTransfer(ctx context.Context, id int64) (*db.Transfer, error)
	CountTransfers(ctx context.Context, since time.Time) (int64, error)
}

var _ Store = (*db.BusinessStore)(nil)

type Settings struct {
	MinDifficulty  uint32 `json:"min_difficulty"`
	TransferAmount Amount `json:"transfer_amount"`
}

type Receipt struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	Amount     Amount    `json:"amount"`
	Difficulty uint32    `json:"difficulty"`
	Timestamp  time.Time `json:"timestamp"`
}

type cooldownBuckets = leakybucket.Manager[string]

// Service verifies proofs of work and records the resulting payouts.
type Service struct {
	Store           Store
	Hash            solver.HashFunc
	Hasher          common.IdentifierHasher
	TransferLogChan chan *common.TransferRecord
	cooldown        *cooldownBuckets
	cleanupCancel   context.CancelFunc
	accountsOpen    atomic.Bool
	minDifficulty   common.ConfigItem
	transferAmount  common.ConfigItem
}

func NewService(cfg common.ConfigStore, store Store, logChan chan *common.TransferRecord) (*Service, error) {
	hash, err := solver.HashByName(cfg.Get(common.HashAlgorithmKey).Value())
	if err != nil {
		return nil, err
	}

	s := &Service{
		Store:           store,
		Hash:            hash,
		Hasher:          common.NewIDHasher(cfg.Get(common.IDSaltKey)),
		TransferLogChan: logChan,
		cooldown:        leakybucket.NewManager[string](maxCooldownBuckets, leakybucket.Limits{Capacity: cooldownCapacity, LeakInterval: cooldownInterval}),
		cleanupCancel:   func() {},
		minDifficulty:   cfg.Get(common.MinDifficultyKey),
		transferAmount:  cfg.Get(common.TransferAmountKey),
	}

	s.UpdateConfig(cfg)

	return s, nil
}

func (s *Service) UpdateConfig(cfg common.ConfigStore) {
	s.accountsOpen.Store(config_pkg.AsBool(cfg.Get(common.AccountsOpenKey)))
}

func (s *Service) defaultAmount(ctx context.Context) *big.Int {
	if value := s.transferAmount.Value(); len(value) > 0 {
		amount, err := ParseAmount(value)
		if err == nil {
			return amount.BigInt()
		}
		slog.ErrorContext(ctx, "Failed to parse default transfer amount", "amount", value, common.ErrAttr(err))
	}

	return DefaultTransferAmount
}

// Init seeds the settings from config on the first start and starts the
// cooldown buckets cleanup.
func (s *Service) Init(ctx context.Context) error {
	minDifficulty := uint32(config_pkg.AsUint(s.minDifficulty, DefaultMinDifficulty))
	settings, err := s.Store.EnsureSettings(ctx, minDifficulty, s.defaultAmount(ctx))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to initialize faucet settings", common.ErrAttr(err))
		return err
	}

	slog.InfoContext(ctx, "Faucet settings", "minDifficulty", settings.MinDifficulty,
		"amount", settings.TransferAmount.String(), "accountsOpen", s.accountsOpen.Load())

	var cleanupCtx context.Context
	cleanupCtx, s.cleanupCancel = context.WithCancel(common.TraceContext(context.Background(), "cooldown_cleanup"))
	go common.ChunkedCleanup(cleanupCtx, 5*time.Second, 1*time.Minute, 500 /*chunkSize*/, func(ctx context.Context, t time.Time, size int) int {
		return s.cooldown.Cleanup(t, size)
	})

	return nil
}

func (s *Service) Shutdown() {
	s.cleanupCancel()
}

func (s *Service) Settings(ctx context.Context) (*Settings, error) {
	settings, err := s.Store.RetrieveSettings(ctx)
	if err != nil {
		return nil, err
	}

	amount, err := NewAmount(settings.TransferAmount)
	if err != nil {
		slog.ErrorContext(ctx, "Stored transfer amount is invalid", "amount", settings.TransferAmount.String(), common.ErrAttr(err))
		return nil, err
	}

	return &Settings{
		MinDifficulty:  settings.MinDifficulty,
		TransferAmount: amount,
	}, nil
}

func (s *Service) NumTransfers(ctx context.Context) (int64, error) {
	return s.Store.CountTransfers(ctx, time.Time{})
}

// AccountExists expects a valid account id.
func (s *Service) AccountExists(ctx context.Context, id string) (bool, error) {
	if s.accountsOpen.Load() {
		return true, nil
	}

	return s.Store.AccountExists(ctx, id)
}

func (s *Service) RegisterAccount(ctx context.Context, id string) error {
	if err := account.Validate(id); err != nil {
		return err
	}

	_, err := s.Store.CreateAccount(ctx, id)
	return err
}

func (s *Service) SetMinDifficulty(ctx context.Context, difficulty uint32) (*Settings, error) {
	if difficulty > maxDifficulty(s.Hash) {
		return nil, errDifficultyTooHigh
	}

	if _, err := s.Store.UpdateMinDifficulty(ctx, difficulty); err != nil {
		return nil, err
	}

	return s.Settings(ctx)
}

func (s *Service) SetTransferAmount(ctx context.Context, amount Amount) (*Settings, error) {
	if _, err := s.Store.UpdateTransferAmount(ctx, amount.BigInt()); err != nil {
		return nil, err
	}

	return s.Settings(ctx)
}

func maxDifficulty(hash solver.HashFunc) uint32 {
	if hash == nil {
		return 256
	}
	return uint32(hash().Size() * 8)
}

func verifyErrorFromDB(err error) VerifyError {
	if errors.Is(err, db.ErrMaintenance) {
		return MaintenanceModeError
	}
	return VerifyErrorOther
}

// RequestTransfer checks the proof in order: account id format, digest
// difficulty, digest reuse, account existence and the account cooldown.
// Client-visible rejections are returned as VerifyError with a nil error.
func (s *Service) RequestTransfer(ctx context.Context, id string, salt uint64, client string) (*Receipt, VerifyError, error) {
	tnow := time.Now().UTC()
	ctx = common.AccountContext(ctx, id)

	var difficulty uint32
	receipt, verr, err := s.requestTransfer(ctx, id, salt, client, tnow, &difficulty)

	s.logTransfer(ctx, &common.TransferRecord{
		AccountID:  id,
		Salt:       salt,
		Difficulty: uint8(min(difficulty, 255)),
		Result:     uint8(verr),
		Client:     client,
		Timestamp:  tnow,
	})

	return receipt, verr, err
}

func (s *Service) requestTransfer(ctx context.Context, id string, salt uint64, client string, tnow time.Time, difficulty *uint32) (*Receipt, VerifyError, error) {
	if err := account.Validate(id); err != nil {
		slog.DebugContext(ctx, "Invalid account id", common.ErrAttr(err))
		return nil, InvalidAccountError, nil
	}

	settings, err := s.Store.RetrieveSettings(ctx)
	if err != nil {
		return nil, verifyErrorFromDB(err), err
	}

	digest := solver.Digest(s.Hash, id, salt)
	*difficulty = solver.LeadingZeroBits(digest)
	if *difficulty < settings.MinDifficulty {
		slog.DebugContext(ctx, "Proof is too weak", "difficulty", *difficulty, "minDifficulty", settings.MinDifficulty)
		return nil, WeakProofError, nil
	}

	used, err := s.Store.HashUsed(ctx, digest)
	if err != nil {
		return nil, verifyErrorFromDB(err), err
	}
	if used {
		slog.DebugContext(ctx, "Proof was already used", "salt", salt)
		return nil, HashUsedError, nil
	}

	exists, err := s.AccountExists(ctx, id)
	if err != nil {
		return nil, verifyErrorFromDB(err), err
	}
	if !exists {
		slog.DebugContext(ctx, "Account does not exist")
		return nil, UnknownAccountError, nil
	}

	if result := s.cooldown.Add(id, 1, tnow); result.Added == 0 {
		slog.DebugContext(ctx, "Account is cooling down", "retryAfter", result.RetryAfter.String())
		return nil, CooldownError, nil
	}

	transfer, err := s.Store.CreateTransfer(ctx, &db.Transfer{
		AccountID:  id,
		Salt:       salt,
		Hash:       digest,
		Difficulty: *difficulty,
		Amount:     settings.TransferAmount,
		Client:     client,
	})
	if err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return nil, HashUsedError, nil
		}
		return nil, verifyErrorFromDB(err), err
	}

	slog.InfoContext(ctx, "Recorded transfer", "transferID", transfer.ID, "difficulty", *difficulty,
		"amount", transfer.Amount.String())

	return s.newReceipt(transfer)
}

func (s *Service) newReceipt(t *db.Transfer) (*Receipt, VerifyError, error) {
	amount, err := NewAmount(t.Amount)
	if err != nil {
		return nil, VerifyErrorOther, err
	}

	return &Receipt{
		ID:         s.Hasher.Encrypt(t.ID),
		AccountID:  t.AccountID,
		Amount:     amount,
		Difficulty: t.Difficulty,
		Timestamp:  t.CreatedAt,
	}, VerifyNoError, nil
}

func (s *Service) Receipt(ctx context.Context, receiptID string) (*Receipt, error) {
	id, err := s.Hasher.Decrypt(receiptID)
	if err != nil || id <= 0 {
		slog.WarnContext(ctx, "Failed to decode receipt id", "receiptID", receiptID, common.ErrAttr(err))
		return nil, ErrInvalidReceipt
	}

	t, err := s.Store.RetrieveTransfer(ctx, id)
	if err != nil {
		return nil, err
	}

	receipt, _, err := s.newReceipt(t)
	return receipt, err
}

func (s *Service) logTransfer(ctx context.Context, record *common.TransferRecord) {
	if s.TransferLogChan == nil {
		return
	}

	select {
	case s.TransferLogChan <- record:
	default:
		slog.WarnContext(ctx, "Dropping transfer log record", "result", VerifyError(record.Result).String())
	}
}
