package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"github.com/tokenprinter/powfaucet/pkg/common"
)

const (
	DefaultUserAgent   = "powfaucet-printer/1.0"
	defaultMaxAttempts = 5
	maxResponseSize    = 64 * 1024
)

var (
	errEmptyBaseURL = errors.New("empty API base URL")
)

//go:generate mockgen -source=client.go -destination=./mock_ledger.go -package=client

// Ledger is the remote side of the faucet.
type Ledger interface {
	Settings(ctx context.Context) (*Settings, error)
	AccountExists(ctx context.Context, id string) (bool, error)
	RequestTransfer(ctx context.Context, id string, salt uint64) (*TransferResult, error)
}

type Settings struct {
	MinDifficulty  uint32 `json:"min_difficulty"`
	TransferAmount string `json:"transfer_amount"`
	NumTransfers   int64  `json:"num_transfers"`
}

type Receipt struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	Amount     string    `json:"amount"`
	Difficulty uint32    `json:"difficulty"`
	Timestamp  time.Time `json:"timestamp"`
}

type TransferResult struct {
	Success bool     `json:"success"`
	Code    string   `json:"code"`
	Receipt *Receipt `json:"receipt,omitempty"`
}

type accountResult struct {
	AccountID string `json:"account_id"`
	Exists    bool   `json:"exists"`
}

type transferRequest struct {
	AccountID string `json:"account_id"`
	Salt      string `json:"salt"`
}

// APIError is a non-retriable error response from the faucet.
type APIError struct {
	Status int    `json:"-"`
	Code   string `json:"code"`
}

func (e *APIError) Error() string {
	if len(e.Code) > 0 {
		return fmt.Sprintf("faucet API error %d: %s", e.Status, e.Code)
	}
	return fmt.Sprintf("faucet API error %d", e.Status)
}

type Client struct {
	BaseURL     string
	UserAgent   string
	HTTP        *http.Client
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

var _ Ledger = (*Client)(nil)

func NewClient(baseURL string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if len(baseURL) == 0 {
		return nil, errEmptyBaseURL
	}

	if _, err := url.Parse(baseURL); err != nil {
		return nil, err
	}

	return &Client{
		BaseURL:     baseURL,
		UserAgent:   DefaultUserAgent,
		HTTP:        &http.Client{Timeout: 10 * time.Second},
		MaxAttempts: defaultMaxAttempts,
		MinBackoff:  200 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
	}, nil
}

func (c *Client) Settings(ctx context.Context) (*Settings, error) {
	settings := &Settings{}
	if err := c.call(ctx, http.MethodGet, "/"+common.SettingsEndpoint, nil, true /*idempotent*/, settings); err != nil {
		return nil, err
	}
	return settings, nil
}

func (c *Client) AccountExists(ctx context.Context, id string) (bool, error) {
	result := &accountResult{}
	if err := c.call(ctx, http.MethodGet, "/"+common.AccountEndpoint+"/"+url.PathEscape(id), nil, true /*idempotent*/, result); err != nil {
		return false, err
	}
	return result.Exists, nil
}

// RequestTransfer is only retried when the server did not process it
// (rate limited or in maintenance).
func (c *Client) RequestTransfer(ctx context.Context, id string, salt uint64) (*TransferResult, error) {
	body, err := json.Marshal(&transferRequest{AccountID: id, Salt: strconv.FormatUint(salt, 10)})
	if err != nil {
		return nil, err
	}

	result := &TransferResult{}
	if err := c.call(ctx, http.MethodPost, "/"+common.TransferEndpoint, body, false /*idempotent*/, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) call(ctx context.Context, method, path string, body []byte, idempotent bool, out any) error {
	b := &backoff.Backoff{
		Min:    c.MinBackoff,
		Max:    c.MaxBackoff,
		Factor: 2,
		Jitter: true,
	}

	attempts := max(c.MaxAttempts, 1)

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := b.Duration()
			slog.DebugContext(ctx, "Retrying faucet request", "path", path, "attempt", attempt, "delay", delay.String(), common.ErrAttr(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err = c.do(ctx, method, path, body, idempotent, out)

		var rerr common.RetriableError
		if err == nil || !errors.As(err, &rerr) {
			return err
		}
	}

	return err
}

func retriableStatus(status int, idempotent bool) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusGatewayTimeout:
		return idempotent
	default:
		return false
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, idempotent bool, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}

	req.Header.Set(common.HeaderUserAgent, c.UserAgent)
	if body != nil {
		req.Header.Set(common.HeaderContentType, common.ContentTypeJSON)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if idempotent && ctx.Err() == nil {
			return common.NewRetriableError(err)
		}
		return err
	}
	defer resp.Body.Close()

	slog.Log(ctx, common.LevelTrace, "Received faucet response", "path", path, "status", resp.StatusCode,
		"traceID", resp.Header.Get(common.HeaderTraceID))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if idempotent {
			return common.NewRetriableError(err)
		}
		return err
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{}
		_ = json.Unmarshal(data, apiErr)
		apiErr.Status = resp.StatusCode
		if retriableStatus(resp.StatusCode, idempotent) {
			return common.NewRetriableError(apiErr)
		}
		return apiErr
	}

	return json.Unmarshal(data, out)
}
