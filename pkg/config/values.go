package config

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tokenprinter/powfaucet/pkg/common"
)

func AsBool(item common.ConfigItem) bool {
	return common.EnvToBool(item.Value())
}

func AsInt(item common.ConfigItem, fallback int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(item.Value())); err == nil {
		return v
	}
	return fallback
}

func AsUint(item common.ConfigItem, fallback uint64) uint64 {
	if v, err := strconv.ParseUint(strings.TrimSpace(item.Value()), 10, 64); err == nil {
		return v
	}
	return fallback
}

func AsDuration(item common.ConfigItem, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(strings.TrimSpace(item.Value())); err == nil && v > 0 {
		return v
	}
	return fallback
}

// URLConfig splits a base URL setting (with or without scheme) into the
// domain used for route patterns and the full URL.
type URLConfig struct {
	domain string
	path   string
}

func (uc *URLConfig) Domain() string {
	return uc.domain
}

// URL is scheme-less so that callers can prepend the one they need.
func (uc *URLConfig) URL() string {
	return "//" + uc.domain + uc.path
}

func AsURL(ctx context.Context, item common.ConfigItem) *URLConfig {
	value := strings.TrimSpace(item.Value())
	if !strings.Contains(value, "://") && !strings.HasPrefix(value, "//") {
		value = "//" + value
	}

	u, err := url.Parse(value)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to parse URL config", "key", EnvName(item.Key()), common.ErrAttr(err))
		return &URLConfig{}
	}

	return &URLConfig{
		domain: u.Host,
		path:   strings.TrimSuffix(u.Path, "/"),
	}
}

type staticValue struct {
	key   common.ConfigKey
	value string
}

func NewStaticValue(key common.ConfigKey, value string) common.ConfigItem {
	return &staticValue{key: key, value: value}
}

func (v *staticValue) Key() common.ConfigKey { return v.key }
func (v *staticValue) Value() string         { return v.value }

// NewStaticConfig returns a config store backed by a fixed map, falling
// back to empty values.
func NewStaticConfig(values map[common.ConfigKey]string) common.ConfigStore {
	return NewEnvConfig(func(name string) string {
		for key, value := range values {
			if EnvName(key) == name {
				return value
			}
		}
		return ""
	})
}
