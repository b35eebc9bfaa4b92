package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const xlsxSheet = "Statement"

// XLSXExporter renders datasets into a single-sheet workbook.
type XLSXExporter struct{}

// NewXLSXExporter constructs an XLSX exporter.
func NewXLSXExporter() *XLSXExporter {
	return &XLSXExporter{}
}

// Render writes the title, summary and table into one sheet.
func (e *XLSXExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("xlsx requires at least one header")
	}
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	if err := f.SetSheetName(f.GetSheetName(0), xlsxSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create style: %w", err)
	}

	row := 1
	if data.Title != "" {
		if err := f.SetCellValue(xlsxSheet, cell(1, row), safeCell(data.Title)); err != nil {
			return nil, err
		}
		_ = f.SetCellStyle(xlsxSheet, cell(1, row), cell(1, row), bold)
		row += 2
	}
	for _, field := range data.Summary {
		if err := f.SetCellValue(xlsxSheet, cell(1, row), safeCell(field.Label)); err != nil {
			return nil, err
		}
		if err := f.SetCellValue(xlsxSheet, cell(2, row), safeCell(field.Value)); err != nil {
			return nil, err
		}
		row++
	}
	if len(data.Summary) > 0 {
		row++
	}

	headerRow := row
	for i, header := range data.Headers {
		if err := f.SetCellValue(xlsxSheet, cell(i+1, row), safeCell(header)); err != nil {
			return nil, err
		}
	}
	_ = f.SetCellStyle(xlsxSheet, cell(1, headerRow), cell(len(data.Headers), headerRow), bold)
	row++

	for _, record := range data.Rows {
		for i, header := range data.Headers {
			if err := f.SetCellValue(xlsxSheet, cell(i+1, row), safeCell(record[header])); err != nil {
				return nil, err
			}
		}
		row++
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func cell(col, row int) string {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return "A1"
	}
	return name
}
