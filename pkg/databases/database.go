package databases

import (
	"context"
	"fmt"

	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/ledger"
)

// Store is a storage backend holding the ledger repositories.
type Store interface {
	// Initialize connects to the backend and checks its tables are usable.
	Initialize(ctx context.Context) error
	Close() error

	Accounts() ledger.AccountRepository
	Transactions() ledger.TransactionRepository
}

// SchemaCreator is implemented by stores able to create their own tables.
type SchemaCreator interface {
	CreateSchema(ctx context.Context) error
}

// StoreFactory creates and configures a specific store implementation
type StoreFactory interface {
	// CreateStore creates a new store with the given configuration
	CreateStore(config map[string]interface{}) (Store, error)
}

// Param returns config[key] converted to T, or def when the key is absent.
// Numeric values are converted between int, int64 and float64 since
// configuration decoded from JSON carries every number as float64.
func Param[T any](config map[string]interface{}, key string, def T) T {
	raw, ok := config[key]
	if !ok || raw == nil {
		return def
	}
	if v, ok := raw.(T); ok {
		return v
	}

	var out any = def
	switch out.(type) {
	case int:
		if n, ok := number(raw); ok {
			out = int(n)
		}
	case int64:
		if n, ok := number(raw); ok {
			out = int64(n)
		}
	case float64:
		if n, ok := number(raw); ok {
			out = n
		}
	case string:
		out = fmt.Sprintf("%v", raw)
	}
	return out.(T)
}

func number(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint16:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}
