package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tokenprinter/powfaucet/pkg/account"
	"github.com/tokenprinter/powfaucet/pkg/common"
	"github.com/tokenprinter/powfaucet/pkg/solver"
)

var (
	ErrAccountNotFound = errors.New("account does not exist")
)

// RejectedError is returned when the faucet verified the proof and
// refused the transfer.
type RejectedError struct {
	Code string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("transfer rejected: %s", e.Code)
}

type Result struct {
	AccountID    string
	Salt         uint64
	Receipt      *Receipt
	NumTransfers int64
}

// Printer drives a single faucet request end to end: it checks the
// account, solves the challenge locally and submits the salt.
type Printer struct {
	Ledger    Ledger
	Hash      solver.HashFunc
	Heartbeat uint64
	Now       func() time.Time
}

func NewPrinter(ledger Ledger) *Printer {
	return &Printer{
		Ledger:    ledger,
		Heartbeat: solver.DefaultHeartbeat,
		Now:       time.Now,
	}
}

func (p *Printer) initialSalt() uint64 {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return uint64(now().UnixMilli())
}

// Print returns solver.ErrCancelled when ctx is done during the search.
func (p *Printer) Print(ctx context.Context, rawID string, onProgress func(solver.Progress)) (*Result, error) {
	id := account.Normalize(rawID)
	if err := account.Validate(id); err != nil {
		return nil, err
	}

	ctx = common.AccountContext(ctx, id)

	exists, err := p.Ledger.AccountExists(ctx, id)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to check account", common.ErrAttr(err))
		return nil, err
	}
	if !exists {
		return nil, ErrAccountNotFound
	}

	settings, err := p.Ledger.Settings(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to retrieve faucet settings", common.ErrAttr(err))
		return nil, err
	}

	challenge := solver.Challenge{
		Identifier:    id,
		MinDifficulty: settings.MinDifficulty,
		InitialSalt:   p.initialSalt(),
	}

	slog.DebugContext(ctx, "Solving challenge", "difficulty", challenge.MinDifficulty, "initialSalt", challenge.InitialSalt)

	salt, err := p.solve(ctx, challenge, solver.SafeProgress(ctx, onProgress))
	if err != nil {
		return nil, err
	}

	result, err := p.Ledger.RequestTransfer(ctx, id, salt)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to request transfer", "salt", salt, common.ErrAttr(err))
		return nil, err
	}

	if !result.Success {
		return nil, &RejectedError{Code: result.Code}
	}

	out := &Result{
		AccountID:    id,
		Salt:         salt,
		Receipt:      result.Receipt,
		NumTransfers: settings.NumTransfers + 1,
	}

	if refreshed, err := p.Ledger.Settings(ctx); err == nil {
		out.NumTransfers = refreshed.NumTransfers
	} else {
		slog.WarnContext(ctx, "Failed to refresh number of transfers", common.ErrAttr(err))
	}

	return out, nil
}

func (p *Printer) solve(ctx context.Context, ch solver.Challenge, onProgress func(solver.Progress)) (uint64, error) {
	task := solver.Start(ctx, ch, solver.WithHash(p.Hash), solver.WithHeartbeat(p.Heartbeat))

	for progress := range task.Progress() {
		if onProgress != nil {
			onProgress(progress)
		}
	}

	return task.Wait()
}
