package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/tokenprinter/powfaucet/pkg/faucet"
)

var errInvalidSalt = errors.New("invalid salt")

type settingsResponse struct {
	MinDifficulty  uint32        `json:"min_difficulty"`
	TransferAmount faucet.Amount `json:"transfer_amount"`
	NumTransfers   int64         `json:"num_transfers"`
}

type accountResponse struct {
	AccountID string `json:"account_id"`
	Exists    bool   `json:"exists"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
}

// Salt is a full uint64 which JSON numbers cannot carry losslessly in
// every client, so a decimal string is accepted as well.
type Salt uint64

func (s Salt) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(s), 10))
}

func (s *Salt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 1 && data[0] == '"' && data[len(data)-1] == '"' {
		data = data[1 : len(data)-1]
	}

	v, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return errInvalidSalt
	}

	*s = Salt(v)
	return nil
}

type TransferRequest struct {
	AccountID string `json:"account_id"`
	Salt      Salt   `json:"salt"`
}

type TransferResponse struct {
	Success bool               `json:"success"`
	Code    faucet.VerifyError `json:"code"`
	Receipt *faucet.Receipt    `json:"receipt,omitempty"`
}
