package export

import (
	"fmt"
	"io"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/brokerage-engine/commission"
)

const (
	SheetCommission = "Commission"
	SheetSummary    = "Summary"
)

// numeric marks Header columns written as numbers rather than text.
var numeric = map[int]bool{7: true, 8: true, 9: true, 10: true, 11: true, 12: true, 13: true,
	14: true, 15: true, 16: true, 17: true, 18: true, 20: true, 21: true}

// WriteXLSX writes the records and the summary as a workbook.
func WriteXLSX(w io.Writer, records []commission.Record, summary commission.Summary) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetCommission); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetSummary); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	moneyStyle, err := f.NewStyle(&excelize.Style{NumFmt: 4}) // #,##0.00
	if err != nil {
		return fmt.Errorf("failed to create number style: %w", err)
	}

	if err := writeCommissionSheet(f, records, headerStyle, moneyStyle); err != nil {
		return err
	}
	if err := writeSummarySheet(f, summary, headerStyle, moneyStyle); err != nil {
		return err
	}

	idx, err := f.GetSheetIndex(SheetCommission)
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)
	return f.Write(w)
}

func writeCommissionSheet(f *excelize.File, records []commission.Record, headerStyle, moneyStyle int) error {
	header := make([]any, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := f.SetSheetRow(SheetCommission, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(Header), 1)
	if err := f.SetCellStyle(SheetCommission, "A1", last, headerStyle); err != nil {
		return err
	}

	for i, r := range records {
		cells := Row(r)
		row := make([]any, len(cells))
		for c, v := range cells {
			if numeric[c] {
				row[c] = decimal.RequireFromString(v).InexactFloat64()
				continue
			}
			row[c] = v
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(SheetCommission, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if len(records) > 0 {
		from, _ := excelize.CoordinatesToCellName(8, 2)
		to, _ := excelize.CoordinatesToCellName(22, len(records)+1)
		if err := f.SetCellStyle(SheetCommission, from, to, moneyStyle); err != nil {
			return err
		}
	}
	lastCol, _ := excelize.ColumnNumberToName(len(Header))
	return f.SetColWidth(SheetCommission, "A", lastCol, 16)
}

func writeSummarySheet(f *excelize.File, s commission.Summary, headerStyle, moneyStyle int) error {
	header := []any{"Scope", "Policies", "Premium", "Insurer Commission", "Agent", "MISP", "Employee", "Reporting Employee", "Broker"}
	if err := f.SetSheetRow(SheetSummary, "A1", &header); err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetSummary, "A1", "I1", headerStyle); err != nil {
		return err
	}

	rows := [][]any{totalsRow("All", s.Totals)}
	categories := make([]string, 0, len(s.ByCategory))
	for c := range s.ByCategory {
		categories = append(categories, string(c))
	}
	sort.Strings(categories)
	for _, c := range categories {
		rows = append(rows, totalsRow(c, s.ByCategory[commission.ProductCategory(c)]))
	}

	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(SheetSummary, cell, &row); err != nil {
			return err
		}
	}
	to, _ := excelize.CoordinatesToCellName(9, len(rows)+1)
	if err := f.SetCellStyle(SheetSummary, "C2", to, moneyStyle); err != nil {
		return err
	}

	n := len(rows) + 3
	counts := [][]any{{"Matched", s.Matched}, {"No grid match", s.Unmatched}}
	for i, row := range counts {
		cell, _ := excelize.CoordinatesToCellName(1, n+i)
		if err := f.SetSheetRow(SheetSummary, cell, &row); err != nil {
			return err
		}
	}
	return f.SetColWidth(SheetSummary, "A", "I", 20)
}

func totalsRow(scope string, t commission.Totals) []any {
	return []any{
		scope,
		t.Policies,
		money(t.Premium),
		money(t.InsurerCommission),
		money(t.Agent),
		money(t.MISP),
		money(t.Employee),
		money(t.ReportingEmployee),
		money(t.Broker),
	}
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
