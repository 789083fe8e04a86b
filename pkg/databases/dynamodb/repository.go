package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/databases/models"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/ledger"
)

// AccountRepository stores accounts in a table keyed by clientId.
type AccountRepository struct {
	client API
	table  string
}

func (r *AccountRepository) Get(ctx context.Context, client ledger.ClientID) (*ledger.Account, error) {
	var item models.AccountItem
	found, err := getItem(ctx, r.client, r.table, numberKey(accountKey, uint64(client)), &item)
	if err != nil || !found {
		return nil, err
	}
	a, err := item.Account()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepository) CompareAndSwap(ctx context.Context, client ledger.ClientID, expected *ledger.Account, next ledger.Account) error {
	var exp interface{}
	if expected != nil {
		exp = models.FromAccount(*expected)
	}
	return putIfMatch(ctx, r.client, r.table, accountKey, exp, models.FromAccount(next))
}

func (r *AccountRepository) List(ctx context.Context) ([]ledger.Account, error) {
	var items []models.AccountItem
	if err := scanAll(ctx, r.client, r.table, &items); err != nil {
		return nil, err
	}
	accounts := make([]ledger.Account, 0, len(items))
	for _, item := range items {
		a, err := item.Account()
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

// TransactionRepository stores transaction records in a table keyed by txId.
type TransactionRepository struct {
	client API
	table  string
}

func (r *TransactionRepository) Get(ctx context.Context, id ledger.TxID) (*ledger.TransactionRecord, error) {
	var item models.TransactionItem
	found, err := getItem(ctx, r.client, r.table, numberKey(transactionKey, uint64(id)), &item)
	if err != nil || !found {
		return nil, err
	}
	rec, err := item.Record()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *TransactionRepository) CompareAndSwap(ctx context.Context, id ledger.TxID, expected *ledger.TransactionRecord, next ledger.TransactionRecord) error {
	var exp interface{}
	if expected != nil {
		exp = models.FromRecord(*expected)
	}
	return putIfMatch(ctx, r.client, r.table, transactionKey, exp, models.FromRecord(next))
}

func (r *TransactionRepository) GetByDepositID(ctx context.Context, id ledger.TxID) (*ledger.TransactionRecord, error) {
	rec, err := r.Get(ctx, id)
	if err != nil || rec == nil || rec.Kind != ledger.KindDeposit {
		return nil, err
	}
	return rec, nil
}

func numberKey(name string, v uint64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		name: &types.AttributeValueMemberN{Value: strconv.FormatUint(v, 10)},
	}
}

func getItem(ctx context.Context, client API, table string, key map[string]types.AttributeValue, out interface{}) (bool, error) {
	result, err := client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("GetItem operation failed: %w", err)
	}
	if len(result.Item) == 0 {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return true, nil
}

// putIfMatch writes next only if the stored item equals expected, or does
// not exist when expected is nil.
func putIfMatch(ctx context.Context, client API, table, hashKey string, expected, next interface{}) error {
	item, err := attributevalue.MarshalMap(next)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	var want map[string]types.AttributeValue
	if expected != nil {
		if want, err = attributevalue.MarshalMap(expected); err != nil {
			return fmt.Errorf("failed to marshal expected item: %w", err)
		}
	}
	expr, names, values := matchCondition(hashKey, want)

	_, err = client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(table),
		Item:                      item,
		ConditionExpression:       aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ledger.ErrCASConflict
		}
		return fmt.Errorf("PutItem operation failed: %w", err)
	}
	return nil
}

// matchCondition builds a condition expression matching every attribute of
// expected, or the absence of the item when expected is nil. Attributes
// are visited in name order so the expression is deterministic.
func matchCondition(hashKey string, expected map[string]types.AttributeValue) (string, map[string]string, map[string]types.AttributeValue) {
	if expected == nil {
		return "attribute_not_exists(#k)", map[string]string{"#k": hashKey}, nil
	}

	attrs := make([]string, 0, len(expected))
	for name := range expected {
		attrs = append(attrs, name)
	}
	sort.Strings(attrs)

	names := make(map[string]string, len(attrs))
	values := make(map[string]types.AttributeValue, len(attrs))
	expr := ""
	for i, name := range attrs {
		n, v := fmt.Sprintf("#a%d", i), fmt.Sprintf(":a%d", i)
		names[n] = name
		values[v] = expected[name]
		if i > 0 {
			expr += " AND "
		}
		expr += n + " = " + v
	}
	return expr, names, values
}

func scanAll(ctx context.Context, client API, table string, out interface{}) error {
	var items []map[string]types.AttributeValue
	p := dynamodb.NewScanPaginator(client, &dynamodb.ScanInput{
		TableName:      aws.String(table),
		ConsistentRead: aws.Bool(true),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("Scan operation failed: %w", err)
		}
		items = append(items, page.Items...)
	}
	if err := attributevalue.UnmarshalListOfMaps(items, out); err != nil {
		return fmt.Errorf("failed to unmarshal items: %w", err)
	}
	return nil
}
