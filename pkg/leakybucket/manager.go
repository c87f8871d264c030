package leakybucket

import (
	"container/heap"
	"sync"
	"time"
)

type Manager[TKey comparable] struct {
	lock    sync.Mutex
	buckets map[TKey]*Bucket[TKey]
	heap    bucketsHeap[TKey]
	limits  Limits
	// shared by all requests with this key, e.g. without a usable client IP
	defaultBucket *Bucket[TKey]
	// when upperBound is exceeded, Cleanup() shrinks down to lowerBound
	upperBound int
	lowerBound int
}

type AddResult struct {
	CurrLevel  TLevel
	Added      TLevel
	Capacity   TLevel
	ResetAfter time.Duration
	RetryAfter time.Duration
	Found      bool
}

func (r *AddResult) Remaining() TLevel {
	return r.Capacity - r.CurrLevel
}

func NewManager[TKey comparable](maxBuckets int, limits Limits) *Manager[TKey] {
	m := &Manager[TKey]{
		buckets:    make(map[TKey]*Bucket[TKey]),
		limits:     limits,
		upperBound: maxBuckets,
		lowerBound: maxBuckets/2 + maxBuckets/4,
	}

	heap.Init(&m.heap)

	return m
}

// SetLimits applies to buckets created afterwards and to all existing ones.
func (m *Manager[TKey]) SetLimits(limits Limits) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.limits = limits
	for _, b := range m.buckets {
		b.limits = limits
	}
}

func (m *Manager[TKey]) Limits() Limits {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.limits
}

func (m *Manager[TKey]) SetDefaultBucket(b *Bucket[TKey]) {
	m.lock.Lock()
	m.defaultBucket = b
	m.lock.Unlock()
}

func (m *Manager[TKey]) Len() int {
	m.lock.Lock()
	defer m.lock.Unlock()

	return len(m.buckets)
}

func (m *Manager[TKey]) Level(key TKey, tnow time.Time) (TLevel, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		return 0, false
	}

	return b.Level(tnow), true
}

func (m *Manager[TKey]) bucketUnsafe(key TKey, tnow time.Time) (*Bucket[TKey], bool) {
	if m.defaultBucket != nil && m.defaultBucket.key == key {
		return m.defaultBucket, false
	}

	if b, ok := m.buckets[key]; ok {
		return b, true
	}

	b := NewBucket(key, m.limits, tnow)
	m.buckets[key] = b
	heap.Push(&m.heap, b)

	// only one bucket is evicted here, bulk eviction is done in Cleanup()
	if (m.upperBound > 0) && (len(m.buckets) > m.upperBound) {
		m.popUnsafe()
	}

	return b, false
}

func (m *Manager[TKey]) popUnsafe() {
	if oldest := m.heap.peek(); oldest != nil {
		delete(m.buckets, oldest.key)
		heap.Pop(&m.heap)
	}
}

func (m *Manager[TKey]) Add(key TKey, n TLevel, tnow time.Time) AddResult {
	result := AddResult{}
	if n == 0 {
		return result
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	b, found := m.bucketUnsafe(key, tnow)
	result.Found = found
	result.CurrLevel, result.Added = b.Add(tnow, n)
	result.Capacity = b.limits.Capacity

	if result.Added > 0 {
		if b.index >= 0 {
			heap.Fix(&m.heap, b.index)
		}
		result.ResetAfter = time.Duration(result.CurrLevel) * b.limits.LeakInterval
	} else {
		result.RetryAfter = b.limits.LeakInterval
	}

	return result
}

// Cleanup removes up to maxToDelete buckets: first the least recently used
// ones while above lowerBound, then the ones that leaked empty. It returns
// how many were removed.
func (m *Manager[TKey]) Cleanup(tnow time.Time, maxToDelete int) int {
	m.lock.Lock()
	defer m.lock.Unlock()

	deleted := 0

	for (deleted < maxToDelete) && (len(m.buckets) > m.lowerBound) && (m.upperBound > 0) {
		m.popUnsafe()
		deleted++
	}

	for deleted < maxToDelete {
		oldest := m.heap.peek()
		if (oldest == nil) || (oldest.Level(tnow) > 0) {
			break
		}

		m.popUnsafe()
		deleted++
	}

	return deleted
}
