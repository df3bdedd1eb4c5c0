/*
Package export renders commission reports as downloadable files.

FORMATS:
  CSV:  one fixed header row, every field double-quoted, embedded quotes
        doubled, amounts and rates fixed to two decimals.
  XLSX: "Commission" sheet (same columns, bold header) and a "Summary"
        sheet with totals and the per-category breakdown.

The full record list is exported; pagination never applies here.

SEE ALSO:
  - commission/report.go: Report, Record, Summary
  - api/handlers.go: ExportReport endpoint
*/
package export

import (
	"bufio"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/brokerage-engine/commission"
)

// Header is the fixed column order of both formats.
var Header = []string{
	"Policy Number",
	"Customer",
	"Product Type",
	"Provider",
	"Plan",
	"Source Type",
	"Source",
	"Premium",
	"Base Rate",
	"Reward Rate",
	"Bonus Rate",
	"Total Rate",
	"Commission Amount",
	"Reward Amount",
	"Bonus Amount",
	"Total Commission",
	"Agent Commission",
	"Employee Commission",
	"MISP Commission",
	"Reporting Employee",
	"Reporting Employee Commission",
	"Broker Share",
	"Status",
	"Created",
}

// Row returns the record's cells in Header order.
func Row(r commission.Record) []string {
	return []string{
		r.PolicyNumber,
		r.CustomerName,
		string(r.Category),
		r.Provider,
		r.PlanName,
		string(r.SourceType),
		r.SourceName,
		Money(r.Premium),
		Money(r.Rates.Base),
		Money(r.Rates.Reward),
		Money(r.Rates.Bonus),
		Money(r.TotalRate),
		Money(r.CommissionAmount),
		Money(r.RewardAmount),
		Money(r.BonusAmount),
		Money(r.TotalCommission),
		Money(r.AgentCommission),
		Money(r.EmployeeCommission),
		Money(r.MISPCommission),
		r.ReportingEmployeeName,
		Money(r.ReportingEmployeeCommission),
		Money(r.BrokerShare),
		string(r.Status),
		r.PolicyAt.Format("2006-01-02"),
	}
}

// Money formats a value with exactly two decimals.
func Money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// WriteCSV writes the header and one line per record.
func WriteCSV(w io.Writer, records []commission.Record) error {
	bw := bufio.NewWriter(w)
	if err := writeLine(bw, Header); err != nil {
		return err
	}
	for _, r := range records {
		if err := writeLine(bw, Row(r)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeLine(w *bufio.Writer, fields []string) error {
	for i, f := range fields {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		if _, err := w.WriteString(quote(f)); err != nil {
			return err
		}
	}
	_, err := w.WriteString("\r\n")
	return err
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Filename returns the download name for a report generated at t.
func Filename(orgID, ext string, t time.Time) string {
	return "commission-report-" + orgID + "-" + t.UTC().Format("20060102-150405") + "." + ext
}
