package db

import (
	"math/big"
	"time"
)

type Settings struct {
	MinDifficulty  uint32
	TransferAmount *big.Int
	UpdatedAt      time.Time
}

type Account struct {
	ID        string
	CreatedAt time.Time
}

// Transfer is the payout record of an accepted proof.
type Transfer struct {
	ID         int64
	AccountID  string
	Salt       uint64
	Hash       []byte
	Difficulty uint32
	Amount     *big.Int
	Client     string
	CreatedAt  time.Time
}

func hashKey(hash []byte) (ProofHash, bool) {
	var key ProofHash
	if len(hash) != len(key) {
		return key, false
	}
	copy(key[:], hash)
	return key, true
}
