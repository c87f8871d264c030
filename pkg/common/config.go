package common

// ConfigKey identifies a setting, config.EnvName maps it to an env variable.
type ConfigKey int

const (
	StageKey ConfigKey = iota
	VerboseKey
	MaintenanceModeKey
	HealthCheckIntervalKey
	// http
	APIBaseURLKey
	LocalAddressKey
	HostKey
	PortKey
	MaxConnectionsKey
	RateLimitHeaderKey
	RateLimitRateKey
	RateLimitBurstKey
	// faucet
	AccountsOpenKey
	MinDifficultyKey
	TransferAmountKey
	HashAlgorithmKey
	IDSaltKey
	TransferLogRetentionKey
	// postgres
	PostgresKey
	PostgresHostKey
	PostgresDBKey
	PostgresUserKey
	PostgresPasswordKey
	PostgresAdminKey
	PostgresAdminPasswordKey
	// clickhouse
	ClickHouseHostKey
	ClickHouseDBKey
	ClickHouseUserKey
	ClickHousePasswordKey
	ClickHouseAdminKey
	ClickHouseAdminPasswordKey
	// email
	SmtpEndpointKey
	SmtpUsernameKey
	SmtpPasswordKey
	EmailFromKey
	AdminEmailKey
	// Add new fields _above_
	COMMON_CONFIG_KEYS_COUNT
)
