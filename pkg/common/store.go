package common

import (
	"context"
	"net/http"
	"time"
)

type ConfigItem interface {
	Key() ConfigKey
	Value() string
}

type ConfigStore interface {
	Get(key ConfigKey) ConfigItem
	Update(ctx context.Context)
}

type IdentifierHasher interface {
	Encrypt(id int64) string
	Decrypt(hash string) (int64, error)
}

// TransferRecord is one accepted or rejected transfer request, as logged
// to the time series store.
type TransferRecord struct {
	AccountID  string
	Salt       uint64
	Difficulty uint8
	Result     uint8
	Client     string
	Timestamp  time.Time
}

type TimeCount struct {
	Timestamp time.Time
	Count     uint32
}

type TimeSeriesStore interface {
	Ping(ctx context.Context) error
	WriteTransferLogBatch(ctx context.Context, records []*TransferRecord) error
	ReadTransferStats(ctx context.Context, from time.Time) ([]*TimeCount, error)
	DeleteTransferLogs(ctx context.Context, before time.Time) error
}

type PlatformMetrics interface {
	ObserveHealth(postgres, clickhouse bool)
	ObserveCacheHitRatio(cache string, ratio float64)
}

type APIMetrics interface {
	Handler(h http.Handler) http.Handler
	HandlerIDFunc(handlerIDFunc func() string) func(http.Handler) http.Handler
	ObserveTransfer(result string, client string)
	ObserveDifficulty(difficulty uint32)
	ObserveMinDifficulty(difficulty uint32)
}
