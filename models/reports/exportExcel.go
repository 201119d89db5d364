package reports

import (
	"io"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

type ExcelExporter interface {
	GetCellValues() []interface{}
}

var periodViewHeadings = []string{
	"Segment", "Customer", "Field", "Current", "Opening", "Closing",
	"Cumulative", "Plan", "Completion %", "Deviation",
}

func cellDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return ""
	}
	return d.InexactFloat64()
}

func (v LineView) GetCellValues() []interface{} {
	return []interface{}{
		v.Segment, v.Customer, v.Field,
		v.CurrentAmount.InexactFloat64(),
		cellDecimal(v.OpeningBalance),
		cellDecimal(v.ClosingBalance),
		cellDecimal(v.Cumulative),
		v.Plan.InexactFloat64(),
		cellDecimal(v.CompletionPercent),
		cellDecimal(v.Deviation),
	}
}

// WritePeriodViewExcel renders the view as a single-sheet workbook.
func WritePeriodViewExcel(w io.Writer, view *PeriodView) error {
	rows := make([]ExcelExporter, 0, len(view.Lines))
	for _, line := range view.Lines {
		rows = append(rows, line)
	}
	return writeExcel(w, view.Period.String(), periodViewHeadings, rows)
}

func writeExcel(w io.Writer, sheetName string, headings []string, data []ExcelExporter) error {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}

	for i, h := range headings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return err
		}
	}

	for r, d := range data {
		for c, value := range d.GetCellValues() {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return err
			}
		}
	}
	_, err := f.WriteTo(w)
	return err
}
