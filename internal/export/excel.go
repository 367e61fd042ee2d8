// Package export renders sleep history as an XLSX workbook.
package export

import (
	"bytes"
	"fmt"

	"sleepdebt/internal/query"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Sleep Debt"

// DaysHeader export columns
var DaysHeader = []string{
	"Day ID",
	"Date",
	"Slept",
	"Actual (min)",
	"Goal (min)",
	"Delta",
	"Delta (min)",
	"Cumulative Debt (min)",
	"State",
	"Sources",
}

var columnWidths = []float64{22, 12, 10, 13, 11, 10, 12, 22, 10, 9}

// GenerateDaysExport one row per day, in the order given. Days without data keep
// only their id and date.
func GenerateDaysExport(rows []query.DayRow, goalMinutes int) ([]byte, error) {
	f := excelize.NewFile()
	// WriteTo needs the file open; close explicitly on every path

	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range DaysHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheetName, name, name, columnWidths[col]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, r := range rows {
		values := []interface{}{r.DayID, r.Date.Format("2006-01-02")}
		if r.HasData {
			values = append(values,
				query.FormatMinutes(r.ActualMinutes),
				r.ActualMinutes,
				goalMinutes,
				query.FormatDelta(r.DeltaMinutes),
				r.DeltaMinutes,
				r.CumulativeDebtMinutes,
				query.DeltaState(r.DeltaMinutes),
				r.SourceCount,
			)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}
