// Package backend selects and opens storage backends by name.
package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/databases"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/databases/dynamodb"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/databases/immudb"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/databases/memory"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/databases/postgres"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/databases/timestream"
)

// Registry maps backend names to store factories
type Registry struct {
	factories map[string]databases.StoreFactory
}

// NewRegistry creates a registry holding every built-in backend.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]databases.StoreFactory)}
	r.Register("memory", memory.NewFactory())
	r.Register("dynamodb", dynamodb.NewFactory())
	r.Register("postgres", postgres.NewFactory())
	r.Register("immudb", immudb.NewFactory())
	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f databases.StoreFactory) {
	r.factories[name] = f
}

// Names lists the registered backends in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) create(name string, config map[string]interface{}) (databases.Store, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown store type: %s (available: %s)", name, strings.Join(r.Names(), ", "))
	}
	store, err := f.CreateStore(config)
	if err != nil {
		return nil, fmt.Errorf("creating %s store: %w", name, err)
	}
	return store, nil
}

// Open creates and initializes the named store. The caller closes it.
func (r *Registry) Open(ctx context.Context, name string, config map[string]interface{}) (databases.Store, error) {
	store, err := r.create(name, config)
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("initializing %s store: %w", name, err)
	}
	return store, nil
}

// CreateSchema creates the tables of the named store. It reports whether
// the backend has a schema to create at all.
func (r *Registry) CreateSchema(ctx context.Context, name string, config map[string]interface{}) (bool, error) {
	store, err := r.create(name, config)
	if err != nil {
		return false, err
	}
	defer store.Close()

	sc, ok := store.(databases.SchemaCreator)
	if !ok {
		return false, nil
	}
	if err := sc.CreateSchema(ctx); err != nil {
		return true, fmt.Errorf("creating %s schema: %w", name, err)
	}
	return true, nil
}

// OpenJournal creates the Timestream outcome journal.
func OpenJournal(config map[string]interface{}) (*timestream.Journal, error) {
	j, err := timestream.NewJournal(timestream.ConfigFrom(config))
	if err != nil {
		return nil, fmt.Errorf("creating journal: %w", err)
	}
	return j, nil
}
