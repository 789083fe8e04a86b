package report

import (
	"bytes"
	"testing"

	"github.com/pedro-hbl/lambda-gopher-ledger/pkg/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accounts() []ledger.Account {
	return []ledger.Account{
		{
			Client:    2,
			Available: decimal.Zero,
			Held:      decimal.Zero,
			Locked:    true,
		},
		{
			Client:    1,
			Available: decimal.RequireFromString("1.5000"),
			Held:      decimal.RequireFromString("2.25"),
		},
	}
}

func TestRows(t *testing.T) {
	rows := Rows(accounts())
	require.Len(t, rows, 2)
	assert.Equal(t, Row{Client: 1, Available: "1.5", Held: "2.25", Total: "3.75"}, rows[0])
	assert.Equal(t, Row{Client: 2, Available: "0", Held: "0", Total: "0", Locked: true}, rows[1])
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1.2346", FormatAmount(decimal.RequireFromString("1.23456")))
	assert.Equal(t, "2", FormatAmount(decimal.RequireFromString("2.0000")))
	assert.Equal(t, "0.0001", FormatAmount(decimal.RequireFromString("0.0001")))
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, Rows(accounts())))
	assert.Equal(t,
		"client,available,held,total,locked\n"+
			"1,1.5,2.25,3.75,false\n"+
			"2,0,0,0,true\n",
		buf.String())
}

func TestWriteCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	assert.Equal(t, "client,available,held,total,locked\n", buf.String())
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	WriteTable(&buf, Rows(accounts()))

	out := buf.String()
	assert.Contains(t, out, "available")
	assert.Contains(t, out, "3.75")
	assert.Contains(t, out, "true")
}

func TestWriteCounts(t *testing.T) {
	var buf bytes.Buffer
	WriteCounts(&buf, "reason", map[string]int64{"insufficient_funds": 4, "account_locked": 1})

	out := buf.String()
	assert.Contains(t, out, "reason")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("account_locked")), bytes.Index(buf.Bytes(), []byte("insufficient_funds")))
}
