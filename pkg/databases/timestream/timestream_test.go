package timestream

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/timestreamquery"
	querytypes "github.com/aws/aws-sdk-go-v2/service/timestreamquery/types"
	"github.com/aws/aws-sdk-go-v2/service/timestreamwrite"
	"github.com/aws/aws-sdk-go-v2/service/timestreamwrite/types"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	batches  [][]types.Record
	writeErr error
	exists   bool
	created  []string
}

func (f *fakeWriter) WriteRecords(_ context.Context, in *timestreamwrite.WriteRecordsInput, _ ...func(*timestreamwrite.Options)) (*timestreamwrite.WriteRecordsOutput, error) {
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	f.batches = append(f.batches, in.Records)
	return &timestreamwrite.WriteRecordsOutput{}, nil
}

func (f *fakeWriter) DescribeDatabase(context.Context, *timestreamwrite.DescribeDatabaseInput, ...func(*timestreamwrite.Options)) (*timestreamwrite.DescribeDatabaseOutput, error) {
	if f.exists {
		return &timestreamwrite.DescribeDatabaseOutput{}, nil
	}
	return nil, &types.ResourceNotFoundException{Message: aws.String("no database")}
}

func (f *fakeWriter) CreateDatabase(_ context.Context, in *timestreamwrite.CreateDatabaseInput, _ ...func(*timestreamwrite.Options)) (*timestreamwrite.CreateDatabaseOutput, error) {
	f.created = append(f.created, "database:"+*in.DatabaseName)
	return &timestreamwrite.CreateDatabaseOutput{}, nil
}

func (f *fakeWriter) DescribeTable(context.Context, *timestreamwrite.DescribeTableInput, ...func(*timestreamwrite.Options)) (*timestreamwrite.DescribeTableOutput, error) {
	if f.exists {
		return &timestreamwrite.DescribeTableOutput{}, nil
	}
	return nil, &types.ResourceNotFoundException{Message: aws.String("no table")}
}

func (f *fakeWriter) CreateTable(_ context.Context, in *timestreamwrite.CreateTableInput, _ ...func(*timestreamwrite.Options)) (*timestreamwrite.CreateTableOutput, error) {
	f.created = append(f.created, "table:"+*in.TableName)
	return &timestreamwrite.CreateTableOutput{}, nil
}

type fakeQuery struct {
	queries []string
	pages   []*timestreamquery.QueryOutput
}

func (f *fakeQuery) Query(_ context.Context, in *timestreamquery.QueryInput, _ ...func(*timestreamquery.Options)) (*timestreamquery.QueryOutput, error) {
	f.queries = append(f.queries, *in.QueryString)
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func countRow(reason, n string) querytypes.Row {
	return querytypes.Row{Data: []querytypes.Datum{
		{ScalarValue: aws.String(reason)},
		{ScalarValue: aws.String(n)},
	}}
}

func dimension(r types.Record, name string) string {
	for _, d := range r.Dimensions {
		if *d.Name == name {
			return *d.Value
		}
	}
	return ""
}

func outcome(id ledger.TxID) ledger.Outcome {
	return ledger.Outcome{
		TxID:   id,
		Client: 3,
		Kind:   ledger.KindDeposit,
		Amount: decimal.RequireFromString("1.5"),
		Result: ledger.ResultApplied,
		At:     time.UnixMilli(1700000000000),
	}
}

func TestRecordFlushesFullBatches(t *testing.T) {
	ctx := context.Background()
	w := &fakeWriter{}
	j := NewJournalWithClients(w, &fakeQuery{}, Config{Database: "db", Table: "t", BatchSize: 2})

	for id := ledger.TxID(1); id <= 5; id++ {
		require.NoError(t, j.Record(ctx, outcome(id)))
	}
	require.Len(t, w.batches, 2)
	assert.Len(t, w.batches[0], 2)

	require.NoError(t, j.Close())
	require.Len(t, w.batches, 3)
	assert.Len(t, w.batches[2], 1)
	assert.Equal(t, "5", dimension(w.batches[2][0], "tx"))

	require.NoError(t, j.Flush(ctx))
	assert.Len(t, w.batches, 3, "empty flush writes nothing")
}

func TestRecordDimensions(t *testing.T) {
	w := &fakeWriter{}
	j := NewJournalWithClients(w, &fakeQuery{}, Config{RunID: "run-1", BatchSize: 1})

	o := outcome(9)
	o.Result = ledger.ResultRejected
	o.Reason = "account_locked"
	require.NoError(t, j.Record(context.Background(), o))
	require.NoError(t, j.Record(context.Background(), outcome(10)))

	require.Len(t, w.batches, 2)
	rejected, applied := w.batches[0][0], w.batches[1][0]
	assert.Equal(t, "3", dimension(rejected, "client"))
	assert.Equal(t, "deposit", dimension(rejected, "kind"))
	assert.Equal(t, "rejected", dimension(rejected, "result"))
	assert.Equal(t, "account_locked", dimension(rejected, "reason"))
	assert.Equal(t, "run-1", dimension(rejected, "run_id"))
	assert.Equal(t, "none", dimension(applied, "reason"))
	assert.Equal(t, "1.5", *applied.MeasureValue)
	assert.Equal(t, "1700000000000", *applied.Time)
}

func TestIdenticalOutcomesStayDistinct(t *testing.T) {
	w := &fakeWriter{}
	j := NewJournalWithClients(w, &fakeQuery{}, Config{RunID: "run-1"})

	o := outcome(4)
	o.Result = ledger.ResultRejected
	o.Reason = "duplicate_transaction"
	require.NoError(t, j.Record(context.Background(), o))
	require.NoError(t, j.Record(context.Background(), o))
	require.NoError(t, j.Close())

	require.Len(t, w.batches, 1)
	first, second := w.batches[0][0], w.batches[0][1]
	assert.Equal(t, *first.Time, *second.Time)
	assert.Equal(t, "1", dimension(first, "seq"))
	assert.Equal(t, "2", dimension(second, "seq"))
}

func TestBatchSizeIsCapped(t *testing.T) {
	j := NewJournalWithClients(&fakeWriter{}, &fakeQuery{}, ConfigFrom(map[string]interface{}{"batchSize": 500}))
	assert.Equal(t, maxBatch, j.batchSize)
}

func TestFlushError(t *testing.T) {
	w := &fakeWriter{writeErr: errors.New("rejected records")}
	j := NewJournalWithClients(w, &fakeQuery{}, Config{BatchSize: 10})
	require.NoError(t, j.Record(context.Background(), outcome(1)))

	err := j.Flush(context.Background())
	assert.ErrorContains(t, err, "failed to write 1 records")
}

func TestEnsureSchema(t *testing.T) {
	w := &fakeWriter{}
	j := NewJournalWithClients(w, &fakeQuery{}, ConfigFrom(nil))
	require.NoError(t, j.EnsureSchema(context.Background()))
	assert.Equal(t, []string{"database:LedgerJournal", "table:Outcomes"}, w.created)

	w = &fakeWriter{exists: true}
	j = NewJournalWithClients(w, &fakeQuery{}, ConfigFrom(nil))
	require.NoError(t, j.EnsureSchema(context.Background()))
	assert.Empty(t, w.created)
}

func TestRejectionCounts(t *testing.T) {
	q := &fakeQuery{pages: []*timestreamquery.QueryOutput{
		{
			Rows:      []querytypes.Row{countRow("account_locked", "2"), countRow("insufficient_funds", "5")},
			NextToken: aws.String("page-2"),
		},
		{
			Rows: []querytypes.Row{countRow("account_locked", "1")},
		},
	}}
	j := NewJournalWithClients(&fakeWriter{}, q, Config{Database: "db", Table: "t"})
	runID := "0b7c36c4-8d7e-4c38-9a41-3a0f4f2b0d11"

	counts, err := j.RejectionCounts(context.Background(), time.UnixMilli(1000), runID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"account_locked": 3, "insufficient_funds": 5}, counts)

	require.Len(t, q.queries, 2)
	assert.True(t, strings.Contains(q.queries[0], `FROM "db"."t"`))
	assert.True(t, strings.Contains(q.queries[0], "from_milliseconds(1000)"))
	assert.True(t, strings.Contains(q.queries[0], "run_id = '"+runID+"'"))
}

func TestRejectionCountsInvalidRunID(t *testing.T) {
	q := &fakeQuery{}
	j := NewJournalWithClients(&fakeWriter{}, q, Config{})

	_, err := j.RejectionCounts(context.Background(), time.Now(), "x' OR '1'='1")
	assert.ErrorContains(t, err, "invalid run id")
	assert.Empty(t, q.queries)
}

func TestParseCountRow(t *testing.T) {
	reason, n, err := parseCountRow(countRow("duplicate_transaction", "12"))
	require.NoError(t, err)
	assert.Equal(t, "duplicate_transaction", reason)
	assert.EqualValues(t, 12, n)

	_, _, err = parseCountRow(querytypes.Row{Data: []querytypes.Datum{{ScalarValue: aws.String("x")}}})
	assert.EqualError(t, err, "invalid result format")

	_, _, err = parseCountRow(countRow("x", "many"))
	assert.ErrorContains(t, err, `invalid count "many"`)
}
