package export

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/brokerage-engine/commission"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleRecords() []commission.Record {
	premium := d("100000")
	rates := commission.Rates{Base: d("5"), Reward: d("1"), Bonus: d("0")}
	amounts := commission.Calculate(premium, rates)
	split := commission.SplitCommission(amounts.TotalCommission,
		commission.SplitInput{Source: commission.SourceAgent, Percentage: d("45")},
		commission.DefaultSplitRules())

	third := d("33.333")
	return []commission.Record{
		{
			PolicyID:     "p1",
			PolicyNumber: "POL-001",
			CustomerName: `Rao "Ravi" Kumar, Jr.`,
			Category:     commission.CategoryMotor,
			Provider:     "Acme General",
			SourceType:   commission.SourceAgent,
			SourceName:   "Override Agent",
			Premium:      premium,
			Rates:        rates,
			Amounts:      amounts,
			Split:        split,
			Status:       commission.StatusCalculated,
			PolicyAt:     time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			PolicyID:     "p2",
			PolicyNumber: "POL-002",
			CustomerName: "Line\nBreak",
			Category:     commission.CategoryOther,
			SourceType:   commission.SourceDirect,
			Premium:      third,
			Split:        commission.Split{BrokerShare: decimal.Zero},
			Status:       commission.StatusNoGridMatch,
			PolicyAt:     time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

// =============================================================================
// CSV
// =============================================================================

func TestWriteCSV_RoundTrip(t *testing.T) {
	// GIVEN: records with quotes, commas and newlines in text fields
	records := sampleRecords()

	// WHEN: exporting and parsing back with a standard CSV reader
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, records))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)

	// THEN: N+1 rows, header first, text preserved, numbers at two decimals
	require.Len(t, rows, len(records)+1)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, `Rao "Ravi" Kumar, Jr.`, rows[1][1])
	assert.Equal(t, "Line\nBreak", rows[2][1])

	col := func(name string) int {
		for i, h := range Header {
			if h == name {
				return i
			}
		}
		t.Fatalf("no column %s", name)
		return -1
	}
	assert.Equal(t, "100000.00", rows[1][col("Premium")])
	assert.Equal(t, "6.00", rows[1][col("Total Rate")])
	assert.Equal(t, "6000.00", rows[1][col("Total Commission")])
	assert.Equal(t, "2700.00", rows[1][col("Agent Commission")])
	assert.Equal(t, "3300.00", rows[1][col("Broker Share")])
	assert.Equal(t, "33.33", rows[2][col("Premium")])
	assert.Equal(t, "no_grid_match", rows[2][col("Status")])

	for i, r := range records {
		want := map[string]decimal.Decimal{
			"Premium":          r.Premium,
			"Total Commission": r.TotalCommission,
			"Broker Share":     r.BrokerShare,
		}
		for name, v := range want {
			cell := rows[i+1][col(name)]
			assert.Len(t, strings.Split(cell, ".")[1], 2, cell)
			assert.True(t, d(cell).Equal(v.Round(2)), "%s: %s != %s", name, cell, v)
		}
		assert.Equal(t, r.PolicyNumber, rows[i+1][0])
	}
}

func TestWriteCSV_EveryFieldQuoted(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleRecords()[:1]))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\r\n"), "\r\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, `"`), line)
		assert.True(t, strings.HasSuffix(line, `"`), line)
	}
	assert.Contains(t, lines[1], `"Rao ""Ravi"" Kumar, Jr."`)
	assert.Contains(t, lines[1], `"0.00"`)
}

func TestWriteCSV_EmptyReportHasHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{Header}, rows)
}

// =============================================================================
// XLSX
// =============================================================================

func TestWriteXLSX(t *testing.T) {
	records := sampleRecords()
	summary := commission.Summarize(records)

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, records, summary))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetCommission, SheetSummary}, f.GetSheetList())

	rows, err := f.GetRows(SheetCommission)
	require.NoError(t, err)
	require.Len(t, rows, len(records)+1)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, "POL-001", rows[1][0])

	raw, err := f.GetCellValue(SheetCommission, "Q2", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	assert.Equal(t, "2700", raw)

	summaryRows, err := f.GetRows(SheetSummary)
	require.NoError(t, err)
	assert.Equal(t, "All", summaryRows[1][0])
	assert.Equal(t, "2", summaryRows[1][1])
}

func TestFilename(t *testing.T) {
	at := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, "commission-report-org-1-20250615-103000.csv", Filename("org-1", "csv", at))
}
