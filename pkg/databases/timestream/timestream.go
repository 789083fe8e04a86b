// Package timestream records transaction outcomes in AWS Timestream as an
// append-only audit journal, and reads rejection statistics back.
package timestream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/timestreamquery"
	"github.com/aws/aws-sdk-go-v2/service/timestreamwrite"
	"github.com/aws/aws-sdk-go-v2/service/timestreamwrite/types"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/databases"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/ledger"
)

// maxBatch is the WriteRecords limit on records per request.
const maxBatch = 100

// WriteAPI is the subset of the Timestream write client used by the journal
type WriteAPI interface {
	WriteRecords(ctx context.Context, in *timestreamwrite.WriteRecordsInput, optFns ...func(*timestreamwrite.Options)) (*timestreamwrite.WriteRecordsOutput, error)
	DescribeDatabase(ctx context.Context, in *timestreamwrite.DescribeDatabaseInput, optFns ...func(*timestreamwrite.Options)) (*timestreamwrite.DescribeDatabaseOutput, error)
	CreateDatabase(ctx context.Context, in *timestreamwrite.CreateDatabaseInput, optFns ...func(*timestreamwrite.Options)) (*timestreamwrite.CreateDatabaseOutput, error)
	DescribeTable(ctx context.Context, in *timestreamwrite.DescribeTableInput, optFns ...func(*timestreamwrite.Options)) (*timestreamwrite.DescribeTableOutput, error)
	CreateTable(ctx context.Context, in *timestreamwrite.CreateTableInput, optFns ...func(*timestreamwrite.Options)) (*timestreamwrite.CreateTableOutput, error)
}

// QueryAPI is the subset of the Timestream query client used by the journal
type QueryAPI interface {
	Query(ctx context.Context, in *timestreamquery.QueryInput, optFns ...func(*timestreamquery.Options)) (*timestreamquery.QueryOutput, error)
}

// Config holds configuration for the Timestream journal
type Config struct {
	Region    string
	Endpoint  string
	Database  string
	Table     string
	RunID     string
	BatchSize int
}

// ConfigFrom extracts a Config from a generic configuration map.
func ConfigFrom(config map[string]interface{}) Config {
	return Config{
		Region:    databases.Param(config, "region", "us-east-1"),
		Endpoint:  databases.Param(config, "endpoint", ""),
		Database:  databases.Param(config, "databaseName", "LedgerJournal"),
		Table:     databases.Param(config, "tableName", "Outcomes"),
		RunID:     databases.Param(config, "runId", ""),
		BatchSize: databases.Param(config, "batchSize", maxBatch),
	}
}

// Journal buffers outcomes and writes them to Timestream in batches. It
// implements ledger.Journal.
type Journal struct {
	write     WriteAPI
	query     QueryAPI
	database  string
	table     string
	runID     string
	batchSize int

	mu  sync.Mutex
	seq uint64
	buf []types.Record
}

// NewJournal creates a journal using the default AWS credential chain.
func NewJournal(cfg Config) (*Journal, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	write := timestreamwrite.NewFromConfig(awsCfg, func(o *timestreamwrite.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	query := timestreamquery.NewFromConfig(awsCfg, func(o *timestreamquery.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewJournalWithClients(write, query, cfg), nil
}

// NewJournalWithClients creates a journal over existing clients.
func NewJournalWithClients(write WriteAPI, query QueryAPI, cfg Config) *Journal {
	size := cfg.BatchSize
	if size <= 0 || size > maxBatch {
		size = maxBatch
	}
	return &Journal{
		write:     write,
		query:     query,
		database:  cfg.Database,
		table:     cfg.Table,
		runID:     cfg.RunID,
		batchSize: size,
	}
}

// Record buffers o, writing the buffer out once it holds a full batch.
func (j *Journal) Record(ctx context.Context, o ledger.Outcome) error {
	j.mu.Lock()
	j.seq++
	j.buf = append(j.buf, j.record(o, j.seq))
	full := len(j.buf) >= j.batchSize
	j.mu.Unlock()

	if full {
		return j.Flush(ctx)
	}
	return nil
}

// Flush writes every buffered record.
func (j *Journal) Flush(ctx context.Context) error {
	j.mu.Lock()
	records := j.buf
	j.buf = nil
	j.mu.Unlock()

	for len(records) > 0 {
		n := len(records)
		if n > j.batchSize {
			n = j.batchSize
		}
		_, err := j.write.WriteRecords(ctx, &timestreamwrite.WriteRecordsInput{
			DatabaseName: aws.String(j.database),
			TableName:    aws.String(j.table),
			Records:      records[:n],
		})
		if err != nil {
			return fmt.Errorf("failed to write %d records: %w", n, err)
		}
		records = records[n:]
	}
	return nil
}

// Close flushes the remaining records.
func (j *Journal) Close() error {
	return j.Flush(context.Background())
}

// record converts o into a Timestream record. Records with equal dimensions
// and time are deduplicated on write, so seq keeps two identical outcomes
// within one millisecond apart.
func (j *Journal) record(o ledger.Outcome, seq uint64) types.Record {
	reason := o.Reason
	if reason == "" {
		// dimension values may not be empty
		reason = "none"
	}
	dims := []types.Dimension{
		{Name: aws.String("client"), Value: aws.String(strconv.FormatUint(uint64(o.Client), 10))},
		{Name: aws.String("tx"), Value: aws.String(strconv.FormatUint(uint64(o.TxID), 10))},
		{Name: aws.String("kind"), Value: aws.String(string(o.Kind))},
		{Name: aws.String("result"), Value: aws.String(string(o.Result))},
		{Name: aws.String("reason"), Value: aws.String(reason)},
		{Name: aws.String("seq"), Value: aws.String(strconv.FormatUint(seq, 10))},
	}
	if j.runID != "" {
		dims = append(dims, types.Dimension{Name: aws.String("run_id"), Value: aws.String(j.runID)})
	}

	at := o.At
	if at.IsZero() {
		at = time.Now()
	}
	return types.Record{
		Dimensions:       dims,
		MeasureName:      aws.String("amount"),
		MeasureValue:     aws.String(o.Amount.String()),
		MeasureValueType: types.MeasureValueTypeDouble,
		Time:             aws.String(strconv.FormatInt(at.UnixMilli(), 10)),
		TimeUnit:         types.TimeUnitMilliseconds,
	}
}

// EnsureSchema creates the journal database and table if they do not exist.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	if err := j.ensureDatabaseExists(ctx); err != nil {
		return fmt.Errorf("failed to ensure database exists: %w", err)
	}
	if err := j.ensureTableExists(ctx); err != nil {
		return fmt.Errorf("failed to ensure table exists: %w", err)
	}
	return nil
}

func (j *Journal) ensureDatabaseExists(ctx context.Context) error {
	_, err := j.write.DescribeDatabase(ctx, &timestreamwrite.DescribeDatabaseInput{
		DatabaseName: aws.String(j.database),
	})
	if err == nil {
		return nil
	}
	var notFoundErr *types.ResourceNotFoundException
	if !errors.As(err, &notFoundErr) {
		return fmt.Errorf("error checking database existence: %w", err)
	}
	_, err = j.write.CreateDatabase(ctx, &timestreamwrite.CreateDatabaseInput{
		DatabaseName: aws.String(j.database),
	})
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	return nil
}

func (j *Journal) ensureTableExists(ctx context.Context) error {
	_, err := j.write.DescribeTable(ctx, &timestreamwrite.DescribeTableInput{
		DatabaseName: aws.String(j.database),
		TableName:    aws.String(j.table),
	})
	if err == nil {
		return nil
	}
	var notFoundErr *types.ResourceNotFoundException
	if !errors.As(err, &notFoundErr) {
		return fmt.Errorf("error checking table existence: %w", err)
	}
	_, err = j.write.CreateTable(ctx, &timestreamwrite.CreateTableInput{
		DatabaseName: aws.String(j.database),
		TableName:    aws.String(j.table),
		RetentionProperties: &types.RetentionProperties{
			MagneticStoreRetentionPeriodInDays: aws.Int64(365),
			MemoryStoreRetentionPeriodInHours:  aws.Int64(24),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}
