package solver

import (
	"context"
	"crypto/sha256"
	"errors"
	"runtime"
)

const (
	DefaultHeartbeat  = 10_000
	DefaultYieldEvery = 4096
)

var ErrCancelled = errors.New("solve cancelled")

type Challenge struct {
	Identifier    string
	MinDifficulty uint32
	InitialSalt   uint64
}

// Progress is reported either when the best score improves (Improved is
// set) or as a heartbeat every N iterations.
type Progress struct {
	Iterations     uint64
	BestDifficulty uint32
	Percent        uint32
	Improved       bool
}

func percent(best, min uint32) uint32 {
	if min == 0 {
		return 0
	}
	return uint32(uint64(best) * 100 / uint64(min))
}

type config struct {
	onProgress func(Progress)
	heartbeat  uint64
	yieldEvery uint64
	checkEvery uint64
	newHash    HashFunc
}

type Option func(*config)

func WithProgress(f func(Progress)) Option {
	return func(c *config) { c.onProgress = f }
}

// WithHeartbeat sets how often (in iterations) liveness is reported when the
// best score did not change. Zero disables heartbeats.
func WithHeartbeat(n uint64) Option {
	return func(c *config) { c.heartbeat = n }
}

// WithYieldEvery makes the loop call runtime.Gosched every n iterations.
func WithYieldEvery(n uint64) Option {
	return func(c *config) { c.yieldEvery = n }
}

// WithCheckEvery batches cancellation checks. Values below 1 mean every iteration.
func WithCheckEvery(n uint64) Option {
	return func(c *config) { c.checkEvery = max(n, 1) }
}

func WithHash(hf HashFunc) Option {
	return func(c *config) {
		if hf != nil {
			c.newHash = hf
		}
	}
}

func newConfig(opts []Option) *config {
	c := &config{
		heartbeat:  DefaultHeartbeat,
		yieldEvery: DefaultYieldEvery,
		checkEvery: 1,
		newHash:    sha256.New,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *config) notify(p Progress) {
	if c.onProgress != nil {
		c.onProgress(p)
	}
}

// Solve searches salts starting from ch.InitialSalt until the digest of
// identifier ':' LE64(salt) has at least ch.MinDifficulty leading zero bits.
// It returns the absolute salt, or ErrCancelled once ctx is done.
// A difficulty above the digest size never succeeds and runs until ctx is done.
func Solve(ctx context.Context, ch Challenge, opts ...Option) (uint64, error) {
	if ch.MinDifficulty == 0 {
		return ch.InitialSalt, nil
	}

	cfg := newConfig(opts)
	msg := Message(ch.Identifier, ch.InitialSalt)
	h := cfg.newHash()
	digest := make([]byte, 0, h.Size())
	done := ctx.Done()

	var best uint32

	for offset := uint64(0); ; offset++ {
		if offset%cfg.checkEvery == 0 {
			select {
			case <-done:
				return 0, ErrCancelled
			default:
			}
		}

		h.Reset()
		h.Write(msg)
		digest = h.Sum(digest[:0])

		difficulty := LeadingZeroBits(digest)
		if difficulty >= ch.MinDifficulty {
			return ch.InitialSalt + offset, nil
		}

		if difficulty > best {
			best = difficulty
			cfg.notify(Progress{
				Iterations:     offset,
				BestDifficulty: best,
				Percent:        percent(best, ch.MinDifficulty),
				Improved:       true,
			})
		} else if cfg.heartbeat > 0 && offset%cfg.heartbeat == 0 {
			cfg.notify(Progress{
				Iterations:     offset,
				BestDifficulty: best,
				Percent:        percent(best, ch.MinDifficulty),
			})
		}

		IncrementSalt(msg)

		if cfg.yieldEvery > 0 && (offset+1)%cfg.yieldEvery == 0 {
			runtime.Gosched()
		}
	}
}
