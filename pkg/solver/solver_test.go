package solver

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"
)

func TestLeadingZeroBits(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		digest   []byte
		expected uint32
	}{
		{[]byte{0, 0, 0, 0}, 32},
		{[]byte{255, 255, 255, 255}, 0},
		{[]byte{254, 254, 254, 254}, 0},
		{[]byte{}, 0},
		{[]byte{127}, 1},
		{make([]byte, 32), 256},
		{[]byte{1, 1, 1, 1}, 7},
		{[]byte{0, 0, 31}, 19},
		{[]byte{0, 0, 31, 0}, 19},
		{[]byte{0x80, 0, 0, 0}, 0},
		{[]byte{0, 1, 0, 0}, 15},
	}

	for i, tc := range testCases {
		t.Run(fmt.Sprintf("zero_bits_%v", i), func(t *testing.T) {
			if actual := LeadingZeroBits(tc.digest); actual != tc.expected {
				t.Errorf("Actual zero bits (%v) are different from expected (%v)", actual, tc.expected)
			}
		})
	}
}

func TestMessageLayout(t *testing.T) {
	t.Parallel()

	msg := Message("alice", 0x0102030405060708)
	expected := []byte{'a', 'l', 'i', 'c', 'e', ':', 8, 7, 6, 5, 4, 3, 2, 1}

	if !bytes.Equal(msg, expected) {
		t.Errorf("Unexpected message: %v", msg)
	}

	if salt := MessageSalt(msg); salt != 0x0102030405060708 {
		t.Errorf("Unexpected salt decoded: %x", salt)
	}
}

func TestIncrementSalt(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		initial uint64
		steps   uint64
	}{
		{0, 1},
		{0, 255},
		{0, 256},
		{0, 70_000},
		{0xff, 1},
		{0xffff, 1},
		{0x00ff_ffff_ffff_ffff, 1},
		{1_700_000_000_000, 10_001},
		{0xffff_ffff_ffff_fffe, 1},
		{0xffff_ffff_ffff_fffe, 2},
	}

	for i, tc := range testCases {
		t.Run(fmt.Sprintf("increment_%v", i), func(t *testing.T) {
			msg := Message("carry", tc.initial)
			for j := uint64(0); j < tc.steps; j++ {
				IncrementSalt(msg)
			}

			expected := Message("carry", tc.initial+tc.steps)
			if !bytes.Equal(msg, expected) {
				t.Errorf("Incremented message %v is different from encoded %v", msg, expected)
			}
		})
	}
}

func TestZeroDifficulty(t *testing.T) {
	t.Parallel()

	for i, salt := range []uint64{0, 1, 12345, 1 << 40, ^uint64(0)} {
		t.Run(fmt.Sprintf("zero_difficulty_%v", i), func(t *testing.T) {
			calls := 0
			result, err := Solve(t.Context(), Challenge{Identifier: "bob", InitialSalt: salt},
				WithProgress(func(Progress) { calls++ }))
			if err != nil {
				t.Fatal(err)
			}

			if result != salt {
				t.Errorf("Actual salt (%v) is different from expected (%v)", result, salt)
			}

			if calls != 0 {
				t.Errorf("Unexpected progress calls: %v", calls)
			}
		})
	}
}

func TestSolveAlice(t *testing.T) {
	t.Parallel()

	result, err := Solve(t.Context(), Challenge{Identifier: "alice", MinDifficulty: 8})
	if err != nil {
		t.Fatal(err)
	}

	digest := sha256.Sum256(Message("alice", result))
	if digest[0] != 0 {
		t.Fatalf("Digest of found salt %v starts with %x", result, digest[0])
	}

	for salt := uint64(0); salt < result; salt++ {
		if d := sha256.Sum256(Message("alice", salt)); d[0] == 0 {
			t.Fatalf("Smaller salt %v also satisfies difficulty", salt)
		}
	}
}

func TestSolveFromOffset(t *testing.T) {
	t.Parallel()

	const initial = 1_700_000_000_000

	result, err := Solve(t.Context(), Challenge{Identifier: "test.near", MinDifficulty: 10, InitialSalt: initial})
	if err != nil {
		t.Fatal(err)
	}

	if result < initial {
		t.Fatalf("Result %v is below initial salt", result)
	}

	if !Verify(nil, "test.near", result, 10) {
		t.Errorf("Result %v does not verify", result)
	}
}

func TestSolveDeterminism(t *testing.T) {
	t.Parallel()

	run := func() (uint64, []Progress) {
		var progress []Progress
		salt, err := Solve(t.Context(), Challenge{Identifier: "determinism", MinDifficulty: 12, InitialSalt: 42},
			WithHeartbeat(100),
			WithProgress(func(p Progress) { progress = append(progress, p) }))
		if err != nil {
			t.Fatal(err)
		}
		return salt, progress
	}

	salt1, progress1 := run()
	salt2, progress2 := run()

	if salt1 != salt2 {
		t.Errorf("Salts are different: %v and %v", salt1, salt2)
	}

	if !slices.Equal(progress1, progress2) {
		t.Errorf("Progress sequences are different")
	}
}

func TestProgressMonotonicity(t *testing.T) {
	t.Parallel()

	const difficulty = 14

	var progress []Progress
	salt, err := Solve(t.Context(), Challenge{Identifier: "monotonic", MinDifficulty: difficulty},
		WithHeartbeat(500),
		WithProgress(func(p Progress) { progress = append(progress, p) }))
	if err != nil {
		t.Fatal(err)
	}

	if len(progress) == 0 {
		t.Fatal("No progress reported")
	}

	var lastBest uint32
	var lastIterations uint64
	for i, p := range progress {
		if p.Iterations < lastIterations {
			t.Errorf("Progress %v went back in iterations: %v < %v", i, p.Iterations, lastIterations)
		}
		if p.BestDifficulty < lastBest {
			t.Errorf("Progress %v went back in difficulty: %v < %v", i, p.BestDifficulty, lastBest)
		}
		if p.Improved && p.BestDifficulty == lastBest {
			t.Errorf("Progress %v is marked improved without improvement", i)
		}
		if !p.Improved && p.Iterations%500 != 0 {
			t.Errorf("Heartbeat %v at unexpected offset %v", i, p.Iterations)
		}
		if p.BestDifficulty >= difficulty || p.Percent >= 100 {
			t.Errorf("Progress %v reports completion before result: %+v", i, p)
		}
		if expected := p.BestDifficulty * 100 / difficulty; p.Percent != expected {
			t.Errorf("Progress %v percent (%v) is different from expected (%v)", i, p.Percent, expected)
		}
		lastBest = p.BestDifficulty
		lastIterations = p.Iterations
	}

	if lastIterations > salt {
		t.Errorf("Progress reported beyond result: %v > %v", lastIterations, salt)
	}
}

func TestHeartbeatDisabled(t *testing.T) {
	t.Parallel()

	_, err := Solve(t.Context(), Challenge{Identifier: "quiet", MinDifficulty: 12},
		WithHeartbeat(0),
		WithProgress(func(p Progress) {
			if !p.Improved {
				t.Errorf("Unexpected heartbeat at %v", p.Iterations)
			}
		}))
	if err != nil {
		t.Fatal(err)
	}
}

func TestSolveCancelledBeforeStart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	for i, difficulty := range []uint32{1, 8, 256, 1000} {
		t.Run(fmt.Sprintf("cancelled_%v", i), func(t *testing.T) {
			salt, err := Solve(ctx, Challenge{Identifier: "cancel", MinDifficulty: difficulty})
			if !errors.Is(err, ErrCancelled) {
				t.Errorf("Expected cancellation, got salt %v and error %v", salt, err)
			}
		})
	}
}

func TestSolveCancelledFromProgress(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	var last uint64
	_, err := Solve(ctx, Challenge{Identifier: "cancel", MinDifficulty: 300},
		WithHeartbeat(100),
		WithCheckEvery(10),
		WithProgress(func(p Progress) {
			last = p.Iterations
			if p.Iterations >= 1000 {
				cancel()
			}
		}))

	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Expected cancellation, got %v", err)
	}

	if last < 1000 {
		t.Errorf("Cancelled too early at %v", last)
	}
}

func TestImpossibleDifficulty(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	_, err := Solve(ctx, Challenge{Identifier: "impossible", MinDifficulty: 257})
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("Expected cancellation, got %v", err)
	}
}

func TestSolveWithBlake2b(t *testing.T) {
	t.Parallel()

	hf, err := HashByName(HashBlake2b)
	if err != nil {
		t.Fatal(err)
	}

	salt, err := Solve(t.Context(), Challenge{Identifier: "alice", MinDifficulty: 10}, WithHash(hf))
	if err != nil {
		t.Fatal(err)
	}

	if !Verify(hf, "alice", salt, 10) {
		t.Errorf("Salt %v does not verify with blake2b", salt)
	}
}

func TestHashByName(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		valid bool
	}{
		{"", true},
		{"sha256", true},
		{" SHA256 ", true},
		{"blake2b", true},
		{"md5", false},
	}

	for i, tc := range testCases {
		t.Run(fmt.Sprintf("hash_by_name_%v", i), func(t *testing.T) {
			hf, err := HashByName(tc.name)
			if tc.valid != (err == nil) {
				t.Fatalf("Unexpected error for %q: %v", tc.name, err)
			}
			if tc.valid && hf().Size() != 32 {
				t.Errorf("Unexpected digest size %v", hf().Size())
			}
		})
	}
}

func benchmarkSolve(difficulty uint32, b *testing.B) {
	for n := 0; n < b.N; n++ {
		if _, err := Solve(context.Background(), Challenge{Identifier: "benchmark", MinDifficulty: difficulty, InitialSalt: uint64(n)}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDifficulty8(b *testing.B) {
	benchmarkSolve(8, b)
}

func BenchmarkDifficulty16(b *testing.B) {
	benchmarkSolve(16, b)
}

func BenchmarkDifficulty20(b *testing.B) {
	benchmarkSolve(20, b)
}
