package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/tokenprinter/powfaucet/pkg/common"
)

var (
	errEmptyEnvName = errors.New("environment variable name is empty")
)

var defaultEnvNames = map[common.ConfigKey]string{
	common.StageKey:               "STAGE",
	common.VerboseKey:             "PC_VERBOSE",
	common.MaintenanceModeKey:     "PC_MAINTENANCE_MODE",
	common.HealthCheckIntervalKey: "PC_HEALTHCHECK_INTERVAL",
	// http
	common.APIBaseURLKey:      "PC_API_BASE_URL",
	common.LocalAddressKey:    "PC_LOCAL_ADDRESS",
	common.HostKey:            "PC_HOST",
	common.PortKey:            "PC_PORT",
	common.MaxConnectionsKey:  "PC_MAX_CONNECTIONS",
	common.RateLimitHeaderKey: "PC_RATE_LIMIT_HEADER",
	common.RateLimitRateKey:   "PC_RATE_LIMIT_RPS",
	common.RateLimitBurstKey:  "PC_RATE_LIMIT_BURST",
	// faucet
	common.AccountsOpenKey:         "PC_ACCOUNTS_OPEN",
	common.MinDifficultyKey:        "PC_MIN_DIFFICULTY",
	common.TransferAmountKey:       "PC_TRANSFER_AMOUNT",
	common.HashAlgorithmKey:        "PC_HASH_ALGORITHM",
	common.IDSaltKey:               "PC_ID_SALT",
	common.TransferLogRetentionKey: "PC_TRANSFER_LOG_RETENTION_DAYS",
	// postgres
	common.PostgresKey:              "PC_POSTGRES",
	common.PostgresHostKey:          "PC_POSTGRES_HOST",
	common.PostgresDBKey:            "PC_POSTGRES_DB",
	common.PostgresUserKey:          "PC_POSTGRES_USER",
	common.PostgresPasswordKey:      "PC_POSTGRES_PASSWORD",
	common.PostgresAdminKey:         "PC_POSTGRES_ADMIN",
	common.PostgresAdminPasswordKey: "PC_POSTGRES_ADMIN_PASSWORD",
	// clickhouse
	common.ClickHouseHostKey:          "PC_CLICKHOUSE_HOST",
	common.ClickHouseDBKey:            "PC_CLICKHOUSE_DB",
	common.ClickHouseUserKey:          "PC_CLICKHOUSE_USER",
	common.ClickHousePasswordKey:      "PC_CLICKHOUSE_PASSWORD",
	common.ClickHouseAdminKey:         "PC_CLICKHOUSE_ADMIN",
	common.ClickHouseAdminPasswordKey: "PC_CLICKHOUSE_ADMIN_PASSWORD",
	// email
	common.SmtpEndpointKey: "SMTP_ENDPOINT",
	common.SmtpUsernameKey: "SMTP_USERNAME",
	common.SmtpPasswordKey: "SMTP_PASSWORD",
	common.EmailFromKey:    "PC_EMAIL_FROM",
	common.AdminEmailKey:   "PC_ADMIN_EMAIL",
}

var (
	configKeyToEnvName []string
	configKeyStrMux    sync.Mutex
)

func init() {
	configKeyStrMux.Lock()
	defer configKeyStrMux.Unlock()

	configKeyToEnvName = make([]string, common.COMMON_CONFIG_KEYS_COUNT)

	for key, name := range defaultEnvNames {
		configKeyToEnvName[key] = name
	}

	for i, v := range configKeyToEnvName {
		if len(v) == 0 {
			panic(fmt.Sprintf("found unconfigured value for key: %v", i))
		}
	}
}

func EnvName(key common.ConfigKey) string {
	configKeyStrMux.Lock()
	defer configKeyStrMux.Unlock()

	if int(key) < len(configKeyToEnvName) {
		return configKeyToEnvName[key]
	}

	return ""
}

// RegisterEnvNameForConfigKey maps keys declared outside of common.
func RegisterEnvNameForConfigKey(key common.ConfigKey, s string) error {
	if len(s) == 0 {
		return errEmptyEnvName
	}

	configKeyStrMux.Lock()
	defer configKeyStrMux.Unlock()

	if int(key) >= len(configKeyToEnvName) {
		newSlice := make([]string, int(key)+1)
		copy(newSlice, configKeyToEnvName)
		configKeyToEnvName = newSlice
	}

	if configKeyToEnvName[key] != "" {
		return fmt.Errorf("config: duplicate env name registration for config key %v", key)
	}

	configKeyToEnvName[key] = s
	return nil
}

// envConfigValue is handed out once and refreshed in place on reload.
type envConfigValue struct {
	key   common.ConfigKey
	value atomic.Pointer[string]
}

var _ common.ConfigItem = (*envConfigValue)(nil)

func (v *envConfigValue) Key() common.ConfigKey {
	return v.key
}

func (v *envConfigValue) Value() string {
	if p := v.value.Load(); p != nil {
		return *p
	}
	return ""
}

// refresh returns true when the value has changed
func (v *envConfigValue) refresh(getenv func(string) string) (bool, error) {
	name := EnvName(v.key)
	if len(name) == 0 {
		return false, errEmptyEnvName
	}

	value := getenv(name)
	old := v.value.Swap(&value)

	return (old == nil) || (*old != value), nil
}

type envConfig struct {
	lock   sync.Mutex
	items  map[common.ConfigKey]*envConfigValue
	getenv func(string) string
}

var _ common.ConfigStore = (*envConfig)(nil)

func NewEnvConfig(getenv func(string) string) *envConfig {
	return &envConfig{
		items:  make(map[common.ConfigKey]*envConfigValue),
		getenv: getenv,
	}
}

func (c *envConfig) Get(key common.ConfigKey) common.ConfigItem {
	c.lock.Lock()
	defer c.lock.Unlock()

	if item, ok := c.items[key]; ok {
		return item
	}

	item := &envConfigValue{key: key}
	if _, err := item.refresh(c.getenv); err != nil {
		slog.Warn("Config key has no environment variable", "key", int(key), common.ErrAttr(err))
	}
	c.items[key] = item

	return item
}

// Update re-reads every value requested so far. Only names of changed
// variables are logged since values can be secrets.
func (c *envConfig) Update(ctx context.Context) {
	c.lock.Lock()
	defer c.lock.Unlock()

	changed := make([]string, 0)

	for key, item := range c.items {
		ok, err := item.refresh(c.getenv)
		if err != nil {
			slog.WarnContext(ctx, "Cannot update environment config", "key", int(key), common.ErrAttr(err))
			continue
		}
		if ok {
			changed = append(changed, EnvName(key))
		}
	}

	slog.InfoContext(ctx, "Updated environment config", "keys", len(c.items), "changed", changed)
}
