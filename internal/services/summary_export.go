package services

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const summarySheet = "Ringkasan"

// ExportYearSummary writes a year summary as an XLSX workbook: one row per
// month followed by the total and the last issued number.
func ExportYearSummary(summary *YearSummary) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	headers := []string{"Bulan", "Jumlah Surat"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(summarySheet, cell, header)
	}

	row := 2
	for _, month := range summary.Months {
		f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), month.Month)
		f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), month.Count)
		row++
	}
	f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), "Total")
	f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), summary.Total)
	row++
	f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), "Nomor Terakhir")
	f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), summary.LastNumber)

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		f.SetCellStyle(summarySheet, "A1", "B1", bold)
	}
	f.SetColWidth(summarySheet, "A", "A", 18)
	f.SetColWidth(summarySheet, "B", "B", 24)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
