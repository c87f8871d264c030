package leakybucket

// bucketsHeap orders buckets by last access, so the least recently used one
// is evicted first.
type bucketsHeap[TKey comparable] []*Bucket[TKey]

func (h bucketsHeap[TKey]) Len() int { return len(h) }

func (h bucketsHeap[TKey]) Less(i, j int) bool {
	return h[i].lastAccess.Before(h[j].lastAccess)
}

func (h bucketsHeap[TKey]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *bucketsHeap[TKey]) Push(x any) {
	b := x.(*Bucket[TKey])
	b.index = len(*h)
	*h = append(*h, b)
}

func (h *bucketsHeap[TKey]) Pop() any {
	old := *h
	n := len(old)
	b := old[n-1]
	old[n-1] = nil
	b.index = -1
	*h = old[:n-1]
	return b
}

func (h bucketsHeap[TKey]) peek() *Bucket[TKey] {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}
