package common

import "net/http"

const (
	TokenPrinter          = "Token Printer"
	StageTest             = "test"
	ContentTypeJSON       = "application/json"
	ContentTypeHTML       = "text/html; charset=utf-8"
	ContentTypeURLEncoded = "application/x-www-form-urlencoded"
	ParamAccountID        = "account_id"
	ParamSalt             = "salt"
	ParamDifficulty       = "difficulty"
	ParamAmount           = "amount"
	ParamID               = "id"
	LiveEndpoint          = "live"
	ReadyEndpoint         = "ready"
	SettingsEndpoint      = "settings"
	AccountEndpoint       = "account"
	TransferEndpoint      = "transfer"
	AdminEndpoint         = "admin"
)

var (
	HeaderContentType         = http.CanonicalHeaderKey("Content-Type")
	HeaderAccessControlOrigin = http.CanonicalHeaderKey("Access-Control-Allow-Origin")
	HeaderTraceID             = http.CanonicalHeaderKey("X-Trace-ID")
	HeaderCacheControl        = http.CanonicalHeaderKey("Cache-Control")
	HeaderUserAgent           = http.CanonicalHeaderKey("User-Agent")
	HeaderRetryAfter          = http.CanonicalHeaderKey("Retry-After")
)
