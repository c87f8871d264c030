package db

import (
	"crypto/sha256"
	"testing"
	"time"
)

func TestHashCache(t *testing.T) {
	t.Parallel()

	hc := newHashCache(100, time.Minute)
	hash := sha256.Sum256([]byte("alice.near"))

	if hc.Seen(hash) {
		t.Fatal("Hash is seen before added")
	}

	if !hc.Add(hash, time.Now()) {
		t.Fatal("Failed to add new hash")
	}

	if hc.Add(hash, time.Now()) {
		t.Error("Hash was added twice")
	}

	if !hc.Seen(hash) {
		t.Error("Added hash is not seen")
	}

	hc.Remove(hash)

	if hc.Seen(hash) {
		t.Error("Removed hash is still seen")
	}
}
