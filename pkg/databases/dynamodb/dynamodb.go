package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/databases"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/ledger"
)

const (
	accountKey     = "clientId"
	transactionKey = "txId"
)

// API is the subset of the DynamoDB client used by the store
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// Store is an implementation of the databases.Store interface for AWS DynamoDB
type Store struct {
	client            API
	accountsTable     string
	transactionsTable string
	rcus, wcus        int64
	accounts          *AccountRepository
	txs               *TransactionRepository
	waitTimeout       time.Duration
}

// Config holds the configuration for a DynamoDB store
type Config struct {
	Region            string
	Endpoint          string
	AccountsTable     string
	TransactionsTable string
	ProvisionedRCUs   int64
	ProvisionedWCUs   int64
}

// Factory creates DynamoDB stores
type Factory struct{}

// NewFactory creates a new DynamoDB factory
func NewFactory() *Factory {
	return &Factory{}
}

// ConfigFrom extracts a Config from a generic store configuration.
func ConfigFrom(config map[string]interface{}) Config {
	return Config{
		Region:            databases.Param(config, "region", "us-east-1"),
		Endpoint:          databases.Param(config, "endpoint", ""),
		AccountsTable:     databases.Param(config, "accountsTable", "LedgerAccounts"),
		TransactionsTable: databases.Param(config, "transactionsTable", "LedgerTransactions"),
		ProvisionedRCUs:   databases.Param(config, "provisionedRCUs", int64(5)),
		ProvisionedWCUs:   databases.Param(config, "provisionedWCUs", int64(5)),
	}
}

// CreateStore implements the databases.StoreFactory interface
func (f *Factory) CreateStore(config map[string]interface{}) (databases.Store, error) {
	return New(ConfigFrom(config))
}

// New creates a store using the default AWS credential chain.
func New(cfg Config) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			// e.g. DynamoDB Local
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg), nil
}

// NewWithClient creates a store over an existing client.
func NewWithClient(client API, cfg Config) *Store {
	s := &Store{
		client:            client,
		accountsTable:     cfg.AccountsTable,
		transactionsTable: cfg.TransactionsTable,
		rcus:              cfg.ProvisionedRCUs,
		wcus:              cfg.ProvisionedWCUs,
		waitTimeout:       5 * time.Minute,
	}
	s.accounts = &AccountRepository{client: client, table: cfg.AccountsTable}
	s.txs = &TransactionRepository{client: client, table: cfg.TransactionsTable}
	return s
}

// Initialize checks that both tables exist.
func (s *Store) Initialize(ctx context.Context) error {
	for _, table := range []string{s.accountsTable, s.transactionsTable} {
		_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(table),
		})
		if err != nil {
			var notFoundErr *types.ResourceNotFoundException
			if errors.As(err, &notFoundErr) {
				return fmt.Errorf("table %s does not exist", table)
			}
			return fmt.Errorf("error checking table %s: %w", table, err)
		}
	}
	return nil
}

// Close implements the databases.Store interface. DynamoDB holds no connection.
func (s *Store) Close() error { return nil }

func (s *Store) Accounts() ledger.AccountRepository         { return s.accounts }
func (s *Store) Transactions() ledger.TransactionRepository { return s.txs }

// CreateSchema creates the accounts and transactions tables and waits for
// them to become active. Existing tables are left as they are.
func (s *Store) CreateSchema(ctx context.Context) error {
	if err := s.createTable(ctx, s.accountsTable, accountKey); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.accountsTable, err)
	}
	if err := s.createTable(ctx, s.transactionsTable, transactionKey); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.transactionsTable, err)
	}
	return nil
}

func (s *Store) createTable(ctx context.Context, table, hashKey string) error {
	_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String(hashKey),
				AttributeType: types.ScalarAttributeTypeN,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String(hashKey),
				KeyType:       types.KeyTypeHash,
			},
		},
		ProvisionedThroughput: &types.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(s.rcus),
			WriteCapacityUnits: aws.Int64(s.wcus),
		},
	})
	if err != nil {
		var alreadyExistsErr *types.ResourceInUseException
		if errors.As(err, &alreadyExistsErr) {
			return nil
		}
		return err
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	err = waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, s.waitTimeout)
	if err != nil {
		return fmt.Errorf("failed to wait for table creation: %w", err)
	}
	return nil
}
