// Package export renders tabular datasets as CSV, PDF or XLSX documents.
package export

import (
	"fmt"
	"strings"
)

// Format names a supported document type.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatPDF  Format = "pdf"
	FormatXLSX Format = "xlsx"
)

// ParseFormat normalises a user supplied format, defaulting to CSV.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FormatCSV, nil
	case FormatCSV, FormatPDF, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv"
	}
}

// Field is a labelled value printed above the table.
type Field struct {
	Label string
	Value string
}

// Dataset defines tabular export content.
type Dataset struct {
	Title   string
	Summary []Field
	Headers []string
	Rows    []map[string]string
}

// safeCell quotes values a spreadsheet would otherwise evaluate as a
// formula, so user text such as "=HYPERLINK(...)" stays inert.
func safeCell(v string) string {
	if v == "" {
		return v
	}
	switch v[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + v
	}
	return v
}

// Renderer turns a dataset into document bytes.
type Renderer interface {
	Render(data Dataset) ([]byte, error)
}

// RendererFor returns the renderer for a format.
func RendererFor(f Format) (Renderer, error) {
	switch f {
	case FormatCSV:
		return NewCSVExporter(), nil
	case FormatPDF:
		return NewPDFExporter(), nil
	case FormatXLSX:
		return NewXLSXExporter(), nil
	}
	return nil, fmt.Errorf("unsupported export format %q", f)
}
