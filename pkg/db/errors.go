package db

import "errors"

var (
	ErrMaintenance      = errors.New("maintenance mode")
	ErrInvalidInput     = errors.New("invalid input")
	ErrRecordNotFound   = errors.New("record not found")
	ErrDuplicate        = errors.New("duplicate record")
	ErrLocked           = errors.New("lock is already acquired")
	errInvalidCacheType = errors.New("cache record type does not match")
)
