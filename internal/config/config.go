package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Store kinds accepted in LEDGER_STORE
const (
	StoreMemory   = "memory"
	StoreDynamoDB = "dynamodb"
	StorePostgres = "postgres"
	StoreImmuDB   = "immudb"
)

// Config holds application configuration
type Config struct {
	Store      string
	MaxRetries int
	Output     string
	LogLevel   string
	LogFormat  string

	AWSRegion                 string
	DynamoDBEndpoint          string
	DynamoDBAccountsTable     string
	DynamoDBTransactionsTable string

	DBConn string

	ImmuDBAddress  string
	ImmuDBPort     int
	ImmuDBUser     string
	ImmuDBPassword string
	ImmuDBDatabase string

	JournalEnabled     bool
	TimestreamDatabase string
	TimestreamTable    string
	TimestreamEndpoint string
}

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{
		Store:     strings.ToLower(getEnv("LEDGER_STORE", StoreMemory)),
		Output:    strings.ToLower(getEnv("LEDGER_OUTPUT", "csv")),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		AWSRegion:                 getEnv("AWS_REGION", "us-east-1"),
		DynamoDBEndpoint:          getEnv("DYNAMODB_ENDPOINT", ""),
		DynamoDBAccountsTable:     getEnv("DYNAMODB_ACCOUNTS_TABLE", "LedgerAccounts"),
		DynamoDBTransactionsTable: getEnv("DYNAMODB_TRANSACTIONS_TABLE", "LedgerTransactions"),

		DBConn: getEnv("DB_CONN", ""),

		ImmuDBAddress:  getEnv("IMMUDB_ADDRESS", "127.0.0.1"),
		ImmuDBUser:     getEnv("IMMUDB_USER", "immudb"),
		ImmuDBPassword: getEnv("IMMUDB_PASSWORD", "immudb"),
		ImmuDBDatabase: getEnv("IMMUDB_DATABASE", "defaultdb"),

		TimestreamDatabase: getEnv("TIMESTREAM_DATABASE", "LedgerJournal"),
		TimestreamTable:    getEnv("TIMESTREAM_TABLE", "Outcomes"),
		TimestreamEndpoint: getEnv("TIMESTREAM_ENDPOINT", ""),
	}

	var err error
	if cfg.MaxRetries, err = getEnvInt("LEDGER_MAX_RETRIES", 8); err != nil {
		return nil, err
	}
	if cfg.ImmuDBPort, err = getEnvInt("IMMUDB_PORT", 3322); err != nil {
		return nil, err
	}
	if cfg.JournalEnabled, err = getEnvBool("JOURNAL_ENABLED", false); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that depend on each other. It is called by
// NewConfig and again after command-line overrides.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreDynamoDB, StoreImmuDB:
	case StorePostgres:
		if c.DBConn == "" {
			return fmt.Errorf("DB_CONN is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown LEDGER_STORE %q", c.Store)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("LEDGER_MAX_RETRIES must be at least 1, got %d", c.MaxRetries)
	}
	if c.Output != "csv" && c.Output != "table" {
		return fmt.Errorf("unknown LEDGER_OUTPUT %q", c.Output)
	}
	return nil
}

// StoreConfig returns the configuration map handed to the store factory
// of the selected backend.
func (c *Config) StoreConfig() map[string]interface{} {
	switch c.Store {
	case StoreDynamoDB:
		return map[string]interface{}{
			"region":            c.AWSRegion,
			"endpoint":          c.DynamoDBEndpoint,
			"accountsTable":     c.DynamoDBAccountsTable,
			"transactionsTable": c.DynamoDBTransactionsTable,
		}
	case StorePostgres:
		return map[string]interface{}{
			"dsn": c.DBConn,
		}
	case StoreImmuDB:
		return map[string]interface{}{
			"address":  c.ImmuDBAddress,
			"port":     c.ImmuDBPort,
			"username": c.ImmuDBUser,
			"password": c.ImmuDBPassword,
			"database": c.ImmuDBDatabase,
		}
	}
	return map[string]interface{}{}
}

// JournalConfig returns the configuration map of the Timestream journal.
func (c *Config) JournalConfig(runID string) map[string]interface{} {
	return map[string]interface{}{
		"region":       c.AWSRegion,
		"endpoint":     c.TimestreamEndpoint,
		"databaseName": c.TimestreamDatabase,
		"tableName":    c.TimestreamTable,
		"runId":        runID,
	}
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
