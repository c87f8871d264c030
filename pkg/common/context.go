package common

type ContextKey int

const (
	TraceIDContextKey ContextKey = iota
	RateLimitKeyContextKey
	AccountContextKey
	TimeContextKey
	// Add new fields _above_
	CONTEXT_KEYS_COUNT
)
