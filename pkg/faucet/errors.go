package faucet

import (
	"encoding/json"
	"errors"

	"github.com/tokenprinter/powfaucet/pkg/account"
	"github.com/tokenprinter/powfaucet/pkg/db"
)

var (
	errInvalidAmount     = errors.New("invalid amount")
	errAmountOverflow    = errors.New("amount does not fit 128 bits")
	errDifficultyTooHigh = errors.New("difficulty exceeds digest size")
	ErrInvalidReceipt    = errors.New("invalid receipt id")
)

type VerifyError int

const (
	VerifyNoError        VerifyError = 0
	VerifyErrorOther     VerifyError = 1
	InvalidAccountError  VerifyError = 2
	WeakProofError       VerifyError = 3
	HashUsedError        VerifyError = 4
	UnknownAccountError  VerifyError = 5
	CooldownError        VerifyError = 6
	MaintenanceModeError VerifyError = 7
	// Add new fields _above_
	VERIFY_ERRORS_COUNT
)

func (verr VerifyError) String() string {
	switch verr {
	case VerifyNoError:
		return "no-error"
	case VerifyErrorOther:
		return "error-other"
	case InvalidAccountError:
		return "account-invalid"
	case WeakProofError:
		return "proof-too-weak"
	case HashUsedError:
		return "proof-used"
	case UnknownAccountError:
		return "account-unknown"
	case CooldownError:
		return "account-cooldown"
	case MaintenanceModeError:
		return "maintenance-mode"
	default:
		return "error"
	}
}

func (verr VerifyError) MarshalJSON() ([]byte, error) {
	return json.Marshal(verr.String())
}

func (verr VerifyError) Success() bool {
	return verr == VerifyNoError
}

// IsInputError reports whether err was caused by the caller's arguments
// rather than by the store.
func IsInputError(err error) bool {
	return errors.Is(err, errInvalidAmount) ||
		errors.Is(err, errAmountOverflow) ||
		errors.Is(err, errDifficultyTooHigh) ||
		errors.Is(err, db.ErrInvalidInput) ||
		errors.Is(err, account.ErrTooShort) ||
		errors.Is(err, account.ErrTooLong) ||
		errors.Is(err, account.ErrInvalidFormat)
}
