package db

const (
	TableNameSettings  = "settings"
	TableNameTransfers = "transfers"
	TableNameAccounts  = "accounts"
	migrationsTable    = "powfaucet_migrations"
)
