// Package report renders the final account snapshot.
package report

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/ledger"
	"github.com/shopspring/decimal"
)

// Header is the column row of every rendering.
var Header = []string{"client", "available", "held", "total", "locked"}

// Row is one account line of the report
type Row struct {
	Client    ledger.ClientID `json:"client"`
	Available string          `json:"available"`
	Held      string          `json:"held"`
	Total     string          `json:"total"`
	Locked    bool            `json:"locked"`
}

// Rows converts accounts to report rows ordered by client id. Total is
// computed here from available and held.
func Rows(accounts []ledger.Account) []Row {
	rows := make([]Row, 0, len(accounts))
	for _, a := range accounts {
		rows = append(rows, Row{
			Client:    a.Client,
			Available: FormatAmount(a.Available),
			Held:      FormatAmount(a.Held),
			Total:     FormatAmount(a.Total()),
			Locked:    a.Locked,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Client < rows[j].Client })
	return rows
}

// FormatAmount renders d with at most four fractional digits and no
// trailing zeros.
func FormatAmount(d decimal.Decimal) string {
	return d.Round(ledger.Precision).String()
}

func (r Row) fields() []string {
	return []string{
		strconv.FormatUint(uint64(r.Client), 10),
		r.Available,
		r.Held,
		r.Total,
		strconv.FormatBool(r.Locked),
	}
}

// WriteCSV writes rows as CSV with a header line.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(r.fields()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTable writes rows as an aligned text table.
func WriteTable(w io.Writer, rows []Row) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(Header)
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, r := range rows {
		table.Append(r.fields())
	}
	table.Render()
}

// WriteCounts writes a two-column table of counts ordered by key.
func WriteCounts(w io.Writer, title string, counts map[string]int64) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{title, "count"})
	table.SetAutoFormatHeaders(false)
	for _, k := range keys {
		table.Append([]string{k, strconv.FormatInt(counts[k], 10)})
	}
	table.Render()
}
