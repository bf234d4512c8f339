// Package report renders printable shipment verification workbooks.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"refurbline/internal/domain"
)

const (
	sheetSummary       = "Summary"
	sheetMatched       = "Matched"
	sheetMissing       = "Missing"
	sheetExtra         = "Extra"
	sheetDiscrepancies = "Discrepancies"
)

// WriteVerification writes the stored verification result of a batch as an
// xlsx workbook with one sheet per section.
func WriteVerification(w io.Writer, batch domain.InwardBatch, po *domain.PurchaseOrder) error {
	if batch.Verification == nil {
		return fmt.Errorf("batch %s has no verification result", batch.Code)
	}
	res := *batch.Verification

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return err
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	summary := [][]any{
		{"Batch", batch.Code},
		{"Status", string(batch.VerificationStatus)},
		{"Match %", res.MatchPercentage},
		{"Expected", res.TotalExpected},
		{"Received", res.TotalReceived},
		{"Matched", len(res.Matched)},
		{"Missing", len(res.Missing)},
		{"Extra", len(res.Extra)},
	}
	if po != nil {
		summary = append(summary, []any{"Purchase order", po.Number}, []any{"Supplier", po.Supplier})
	}
	if batch.VerifiedAt != nil {
		summary = append(summary, []any{"Verified at", *batch.VerifiedAt})
	}
	if batch.OverrideReason != "" {
		summary = append(summary, []any{"Override reason", batch.OverrideReason})
	}
	if err := writeRows(f, sheetSummary, nil, summary); err != nil {
		return err
	}
	if err := f.SetColWidth(sheetSummary, "A", "A", 18); err != nil {
		return err
	}

	units := func(list []domain.MatchedUnit) [][]any {
		rows := make([][]any, 0, len(list))
		for _, u := range list {
			rows = append(rows, []any{u.Barcode, string(u.Category), u.Brand, u.Model})
		}
		return rows
	}
	missing := make([][]any, 0, len(res.Missing))
	for _, m := range res.Missing {
		missing = append(missing, []any{string(m.Category), m.Brand, m.Model})
	}
	notes := make([][]any, 0, len(res.Discrepancies))
	for _, d := range res.Discrepancies {
		notes = append(notes, []any{d})
	}

	sheets := []struct {
		name   string
		header []any
		rows   [][]any
	}{
		{sheetMatched, []any{"Barcode", "Category", "Brand", "Model"}, units(res.Matched)},
		{sheetMissing, []any{"Category", "Brand", "Model"}, missing},
		{sheetExtra, []any{"Barcode", "Category", "Brand", "Model"}, units(res.Extra)},
		{sheetDiscrepancies, []any{"Discrepancy"}, notes},
	}
	for _, s := range sheets {
		if _, err := f.NewSheet(s.name); err != nil {
			return fmt.Errorf("create sheet %s: %w", s.name, err)
		}
		if err := writeRows(f, s.name, s.header, s.rows); err != nil {
			return err
		}
		last, _ := excelize.ColumnNumberToName(len(s.header))
		if err := f.SetCellStyle(s.name, "A1", last+"1", header); err != nil {
			return err
		}
		if err := f.SetColWidth(s.name, "A", last, 20); err != nil {
			return err
		}
	}
	f.SetActiveSheet(0)
	return f.Write(w)
}

func writeRows(f *excelize.File, sheet string, header []any, rows [][]any) error {
	row := 1
	if header != nil {
		if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
			return fmt.Errorf("%s header: %w", sheet, err)
		}
		row++
	}
	for _, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return fmt.Errorf("%s row %d: %w", sheet, row, err)
		}
		row++
	}
	return nil
}
