package dynamodb

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/databases"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/databases/storetest"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/ledger"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item = map[string]types.AttributeValue

// fakeDynamo is an in-memory API that evaluates the condition expressions
// built by matchCondition.
type fakeDynamo struct {
	mu      sync.Mutex
	keys    map[string]string // table name to hash key
	tables  map[string]map[string]item
	putErr  error
	created []string
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{keys: map[string]string{}, tables: map[string]map[string]item{}}
}

func (f *fakeDynamo) withTable(name, hashKey string) *fakeDynamo {
	f.keys[name] = hashKey
	f.tables[name] = map[string]item{}
	return f
}

func keyValue(av types.AttributeValue) string {
	if n, ok := av.(*types.AttributeValueMemberN); ok {
		return n.Value
	}
	return ""
}

func sameValue(a, b types.AttributeValue) bool {
	switch x := a.(type) {
	case *types.AttributeValueMemberN:
		y, ok := b.(*types.AttributeValueMemberN)
		return ok && x.Value == y.Value
	case *types.AttributeValueMemberS:
		y, ok := b.(*types.AttributeValueMemberS)
		return ok && x.Value == y.Value
	case *types.AttributeValueMemberBOOL:
		y, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && x.Value == y.Value
	}
	return false
}

func (f *fakeDynamo) table(name string) (map[string]item, error) {
	t, ok := f.tables[name]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found")}
	}
	return t, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(*in.TableName)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: t[keyValue(in.Key[f.keys[*in.TableName]])]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	t, err := f.table(*in.TableName)
	if err != nil {
		return nil, err
	}

	k := keyValue(in.Item[f.keys[*in.TableName]])
	stored, exists := t[k]
	ok := !exists
	if !strings.HasPrefix(*in.ConditionExpression, "attribute_not_exists") {
		ok = exists
		for placeholder, name := range in.ExpressionAttributeNames {
			want := in.ExpressionAttributeValues[":"+placeholder[1:]]
			if !sameValue(want, stored[name]) {
				ok = false
			}
		}
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	t[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.table(*in.TableName)
	if err != nil {
		return nil, err
	}
	out := &dynamodb.ScanOutput{}
	for _, it := range t {
		out.Items = append(out.Items, it)
	}
	return out, nil
}

func (f *fakeDynamo) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.table(*in.TableName); err != nil {
		return nil, err
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{
		TableName:   in.TableName,
		TableStatus: types.TableStatusActive,
	}}, nil
}

func (f *fakeDynamo) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tables[*in.TableName]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String("table exists")}
	}
	f.keys[*in.TableName] = *in.KeySchema[0].AttributeName
	f.tables[*in.TableName] = map[string]item{}
	f.created = append(f.created, *in.TableName)
	return &dynamodb.CreateTableOutput{}, nil
}

func newTestStore(t *testing.T) (*Store, *fakeDynamo) {
	t.Helper()
	cfg := ConfigFrom(nil)
	fake := newFakeDynamo().
		withTable(cfg.AccountsTable, accountKey).
		withTable(cfg.TransactionsTable, transactionKey)
	store := NewWithClient(fake, cfg)
	require.NoError(t, store.Initialize(context.Background()))
	return store, fake
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) databases.Store {
		store, _ := newTestStore(t)
		return store
	})
}

func TestMatchCondition(t *testing.T) {
	expr, names, values := matchCondition("clientId", nil)
	assert.Equal(t, "attribute_not_exists(#k)", expr)
	assert.Equal(t, map[string]string{"#k": "clientId"}, names)
	assert.Nil(t, values)

	expr, names, values = matchCondition("clientId", item{
		"version":  &types.AttributeValueMemberN{Value: "2"},
		"clientId": &types.AttributeValueMemberN{Value: "1"},
		"locked":   &types.AttributeValueMemberBOOL{Value: false},
	})
	assert.Equal(t, "#a0 = :a0 AND #a1 = :a1 AND #a2 = :a2", expr)
	assert.Equal(t, map[string]string{"#a0": "clientId", "#a1": "locked", "#a2": "version"}, names)
	assert.Equal(t, &types.AttributeValueMemberN{Value: "2"}, values[":a2"])
}

func TestAccountCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	repo := store.Accounts()

	missing, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, missing)

	first := ledger.NewAccount(1)
	first.Available = decimal.RequireFromString("2.5")
	first.Version = 1
	require.NoError(t, repo.CompareAndSwap(ctx, 1, nil, first))
	assert.ErrorIs(t, repo.CompareAndSwap(ctx, 1, nil, first), ledger.ErrCASConflict)

	second := first
	second.Held = decimal.RequireFromString("1")
	second.Version = 2
	stale := first
	stale.Version = 7
	assert.ErrorIs(t, repo.CompareAndSwap(ctx, 1, &stale, second), ledger.ErrCASConflict)
	require.NoError(t, repo.CompareAndSwap(ctx, 1, &first, second))

	got, err := repo.Get(ctx, 1)
	require.NoError(t, err)
	assert.True(t, second.Equal(*got))
}

func TestPutItemFailure(t *testing.T) {
	store, fake := newTestStore(t)
	fake.putErr = errors.New("throttled")

	err := store.Accounts().CompareAndSwap(context.Background(), 1, nil, ledger.NewAccount(1))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ledger.ErrCASConflict)
	assert.ErrorContains(t, err, "PutItem operation failed")
}

func TestInitializeMissingTable(t *testing.T) {
	store := NewWithClient(newFakeDynamo(), ConfigFrom(nil))
	err := store.Initialize(context.Background())
	assert.EqualError(t, err, "table LedgerAccounts does not exist")
}

func TestCreateSchema(t *testing.T) {
	fake := newFakeDynamo().withTable("LedgerAccounts", accountKey)
	store := NewWithClient(fake, ConfigFrom(map[string]interface{}{"transactionsTable": "Txs"}))

	require.NoError(t, store.CreateSchema(context.Background()))
	assert.Equal(t, []string{"Txs"}, fake.created)
	assert.NoError(t, store.Initialize(context.Background()))
}

func TestServiceOverDynamoDB(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	svc := ledger.NewService(store.Accounts(), store.Transactions(), log)

	for _, tx := range []ledger.Transaction{
		ledger.NewDeposit(1, 1, decimal.RequireFromString("5.0")),
		ledger.NewDeposit(1, 2, decimal.RequireFromString("3.0")),
		ledger.NewWithdrawal(1, 3, decimal.RequireFromString("4.0")),
		ledger.NewDeposit(2, 4, decimal.RequireFromString("1.1234")),
		ledger.NewDispute(2, 4),
	} {
		require.NoError(t, svc.Process(ctx, tx))
	}
	assert.ErrorIs(t, svc.Process(ctx, ledger.NewDispute(1, 3)), ledger.ErrInvalidReference)

	accounts, err := svc.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "4", accounts[0].Available.String())
	assert.Equal(t, "1.1234", accounts[1].Held.String())
	assert.True(t, accounts[1].Available.IsZero())

	rec, err := store.Transactions().Get(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, ledger.Disputed, rec.Dispute)
}
