package common

import (
	"context"
	"sync"
	"testing"
	"time"
)

type batchCollector struct {
	mux     sync.Mutex
	batches [][]int
}

func (c *batchCollector) process(_ context.Context, batch []int) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.batches = append(c.batches, append([]int(nil), batch...))
	return nil
}

func (c *batchCollector) sizes() []int {
	c.mux.Lock()
	defer c.mux.Unlock()
	result := make([]int, 0, len(c.batches))
	for _, b := range c.batches {
		result = append(result, len(b))
	}
	return result
}

func TestProcessBatchArray(t *testing.T) {
	t.Parallel()

	channel := make(chan int)
	collector := &batchCollector{}
	done := make(chan struct{})

	go func() {
		defer close(done)
		ProcessBatchArray(t.Context(), channel, 20*time.Millisecond, 3 /*trigger*/, 100 /*max*/, collector.process)
	}()

	for i := 0; i < 4; i++ {
		channel <- i
	}

	// the 4th item is flushed by the timer
	time.Sleep(200 * time.Millisecond)
	close(channel)
	<-done

	sizes := collector.sizes()
	if len(sizes) != 2 || sizes[0] != 3 || sizes[1] != 1 {
		t.Errorf("Unexpected batch sizes: %v", sizes)
	}
}

func TestProcessBatchArrayFlushOnClose(t *testing.T) {
	t.Parallel()

	channel := make(chan int, 10)
	collector := &batchCollector{}

	channel <- 1
	channel <- 2
	close(channel)

	ProcessBatchArray(t.Context(), channel, time.Hour, 100 /*trigger*/, 100 /*max*/, collector.process)

	if sizes := collector.sizes(); len(sizes) != 1 || sizes[0] != 2 {
		t.Errorf("Unexpected batch sizes: %v", sizes)
	}
}
