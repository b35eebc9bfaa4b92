package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// CSVExporter renders Dataset records into CSV bytes. Summary fields are
// written as leading label,value rows followed by a blank line. Cells that
// would start a formula are prefixed with a single quote.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render produces CSV encoded bytes for the dataset.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	for _, field := range data.Summary {
		if err := writer.Write([]string{safeCell(field.Label), safeCell(field.Value)}); err != nil {
			return nil, fmt.Errorf("write csv summary: %w", err)
		}
	}
	if len(data.Summary) > 0 {
		if err := writer.Write([]string{""}); err != nil {
			return nil, fmt.Errorf("write csv separator: %w", err)
		}
	}
	headers := make([]string, len(data.Headers))
	for i, header := range data.Headers {
		headers[i] = safeCell(header)
	}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for _, row := range data.Rows {
		record := make([]string, len(data.Headers))
		for i, header := range data.Headers {
			record[i] = safeCell(row[header])
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
