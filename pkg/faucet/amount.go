package faucet

import (
	"bytes"
	"encoding/json"
	"math/big"
	"strings"
)

var maxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// Amount is an unsigned 128-bit token amount. It is serialized as a
// decimal JSON string since it does not fit a JSON number.
type Amount struct {
	value *big.Int
}

func NewAmount(v *big.Int) (Amount, error) {
	if v == nil || v.Sign() < 0 {
		return Amount{}, errInvalidAmount
	}

	if v.Cmp(maxAmount) > 0 {
		return Amount{}, errAmountOverflow
	}

	return Amount{value: new(big.Int).Set(v)}, nil
}

func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 || s[0] == '+' || s[0] == '-' {
		return Amount{}, errInvalidAmount
	}

	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, errInvalidAmount
	}

	return NewAmount(v)
}

func (a Amount) BigInt() *big.Int {
	if a.value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.value)
}

func (a Amount) String() string {
	if a.value == nil {
		return "0"
	}
	return a.value.String()
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts both a decimal string and a plain JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}

	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}

	*a = parsed
	return nil
}
