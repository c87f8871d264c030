package leakybucket

import (
	"time"
)

// one bucket never holds more than 4*10^9 units
type TLevel = uint32

// Limits describe a bucket that holds up to Capacity units and loses one
// unit every LeakInterval.
type Limits struct {
	Capacity     TLevel
	LeakInterval time.Duration
}

// Bucket is a leaky bucket with a constant leak rate. It is not safe for
// concurrent use, Manager serializes access.
type Bucket[TKey comparable] struct {
	key        TKey
	lastAccess time.Time
	level      TLevel
	limits     Limits
	// position in the manager's heap, -1 when not tracked
	index int
}

func NewBucket[TKey comparable](key TKey, limits Limits, tnow time.Time) *Bucket[TKey] {
	return &Bucket[TKey]{
		key:        key,
		lastAccess: tnow,
		limits:     limits,
		index:      -1,
	}
}

func (b *Bucket[TKey]) Key() TKey {
	return b.key
}

func (b *Bucket[TKey]) Limits() Limits {
	return b.limits
}

func (b *Bucket[TKey]) leaked(tnow time.Time) int64 {
	if b.limits.LeakInterval <= 0 {
		return int64(b.level)
	}

	return max(int64(tnow.Sub(b.lastAccess)/b.limits.LeakInterval), 0)
}

func (b *Bucket[TKey]) Level(tnow time.Time) TLevel {
	return TLevel(max(0, int64(b.level)-b.leaked(tnow)))
}

// Add puts n units into the bucket and returns the new level together with
// how much of n actually fit.
func (b *Bucket[TKey]) Add(tnow time.Time, n TLevel) (TLevel, TLevel) {
	curr := int64(b.Level(tnow))

	// requests from the past must not leak more than was accounted for
	if tnow.After(b.lastAccess) {
		if b.limits.LeakInterval > 0 {
			// part of the interval that has not elapsed yet is kept
			b.lastAccess = tnow.Truncate(b.limits.LeakInterval)
		} else {
			b.lastAccess = tnow
		}
	}

	next := min(int64(b.limits.Capacity), curr+int64(n))
	b.level = TLevel(next)

	return TLevel(next), TLevel(next - curr)
}
