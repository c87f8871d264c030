package common

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/speps/go-hashids/v2"
)

const receiptIDMinLength = 10

var (
	errUnexpectedIdentifierLen = errors.New("unexpected identifier length")
	errNegativeIdentifier      = errors.New("identifier is negative")
)

// idHasher turns sequential row IDs into opaque receipt IDs. Without a salt
// IDs are kept as decimal strings.
type idHasher struct {
	hashID *hashids.HashID
}

var _ IdentifierHasher = (*idHasher)(nil)

func NewIDHasher(salt ConfigItem) IdentifierHasher {
	saltValue := salt.Value()
	if len(saltValue) == 0 {
		return &idHasher{}
	}

	data := hashids.NewData()
	data.Salt = saltValue
	data.MinLength = receiptIDMinLength

	h, err := hashids.NewWithData(data)
	if err != nil {
		slog.Error("Failed to create ID hasher, falling back to plain IDs", ErrAttr(err))
		return &idHasher{}
	}

	return &idHasher{hashID: h}
}

func (ih *idHasher) Encrypt(id int64) string {
	if ih.hashID != nil && id >= 0 {
		if e, err := ih.hashID.EncodeInt64([]int64{id}); err == nil {
			return e
		}
	}

	return strconv.FormatInt(id, 10)
}

func (ih *idHasher) Decrypt(hash string) (int64, error) {
	if ih.hashID == nil {
		id, err := strconv.ParseInt(hash, 10, 64)
		if err == nil && id < 0 {
			return -1, errNegativeIdentifier
		}
		return id, err
	}

	d, err := ih.hashID.DecodeInt64WithError(hash)
	if err != nil {
		return -1, err
	}

	if len(d) != 1 {
		return -1, errUnexpectedIdentifierLen
	}

	return d[0], nil
}
