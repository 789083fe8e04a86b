package timestream

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/timestreamquery"
	"github.com/aws/aws-sdk-go-v2/service/timestreamquery/types"
	"github.com/google/uuid"
)

// RejectionCounts returns the number of rejected transactions per reason
// code recorded since the given time. A non-empty runID restricts the
// count to one batch run.
func (j *Journal) RejectionCounts(ctx context.Context, since time.Time, runID string) (map[string]int64, error) {
	if runID != "" {
		if _, err := uuid.Parse(runID); err != nil {
			return nil, fmt.Errorf("invalid run id: %w", err)
		}
	}
	p := timestreamquery.NewQueryPaginator(j.query, &timestreamquery.QueryInput{
		QueryString: aws.String(j.rejectionQuery(since, runID)),
	})

	counts := make(map[string]int64)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query failed: %w", err)
		}
		for _, row := range page.Rows {
			reason, n, err := parseCountRow(row)
			if err != nil {
				return nil, err
			}
			counts[reason] += n
		}
	}
	return counts, nil
}

func (j *Journal) rejectionQuery(since time.Time, runID string) string {
	filter := ""
	if runID != "" {
		filter = fmt.Sprintf(" AND run_id = '%s'", runID)
	}
	return fmt.Sprintf(
		`SELECT reason, count(*) AS n FROM "%s"."%s" WHERE result = 'rejected' AND time >= from_milliseconds(%d)%s GROUP BY reason`,
		j.database, j.table, since.UnixMilli(), filter)
}

func parseCountRow(row types.Row) (string, int64, error) {
	if len(row.Data) < 2 || row.Data[0].ScalarValue == nil || row.Data[1].ScalarValue == nil {
		return "", 0, fmt.Errorf("invalid result format")
	}
	n, err := strconv.ParseInt(*row.Data[1].ScalarValue, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid count %q: %w", *row.Data[1].ScalarValue, err)
	}
	return *row.Data[0].ScalarValue, n, nil
}
