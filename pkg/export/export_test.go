package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleDataset() Dataset {
	return Dataset{
		Title:   "Water well ledger",
		Summary: []Field{{Label: "Budget", Value: "USD 500.00"}},
		Headers: []string{"Claim", "Amount", "Status"},
		Rows: []map[string]string{
			{"Claim": "c-1", "Amount": "75.00", "Status": "APPROVED"},
			{"Claim": "c-2", "Amount": "10.00", "Status": "REJECTED"},
		},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat(" XLSX ")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)
	assert.Contains(t, f.ContentType(), "spreadsheetml")

	_, err = ParseFormat("docx")
	assert.Error(t, err)
}

func TestCSVExporter(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleDataset())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "Budget,USD 500.00", lines[0])
	assert.Equal(t, "Claim,Amount,Status", lines[2])
	assert.Equal(t, "c-2,10.00,REJECTED", lines[4])

	_, err = NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
}

func TestPDFExporter(t *testing.T) {
	out, err := NewPDFExporter().Render(sampleDataset())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestXLSXExporter(t *testing.T) {
	out, err := NewXLSXExporter().Render(sampleDataset())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	title, err := f.GetCellValue(xlsxSheet, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Water well ledger", title)

	header, err := f.GetCellValue(xlsxSheet, "A5")
	require.NoError(t, err)
	assert.Equal(t, "Claim", header)

	status, err := f.GetCellValue(xlsxSheet, "C7")
	require.NoError(t, err)
	assert.Equal(t, "REJECTED", status)
}

func formulaDataset() Dataset {
	return Dataset{
		Title:   "=Ledger",
		Summary: []Field{{Label: "Location", Value: "@Gulu"}},
		Headers: []string{"Claim", "Amount", "Status"},
		Rows: []map[string]string{
			{"Claim": "=SUM(A1:A2)", "Amount": "+1", "Status": "-2+3"},
			{"Claim": "c-2", "Amount": "10.00", "Status": "a=b"},
		},
	}
}

func TestSafeCell(t *testing.T) {
	cases := map[string]string{
		"":           "",
		"plain":      "plain",
		"a=b":        "a=b",
		"=1+1":       "'=1+1",
		"+1":         "'+1",
		"-1":         "'-1",
		"@SUM(A1)":   "'@SUM(A1)",
		"\tindented": "'\tindented",
		"\rline":     "'\rline",
	}
	for in, want := range cases {
		assert.Equal(t, want, safeCell(in), "%q", in)
	}
}

func TestCSVExporterEscapesFormulas(t *testing.T) {
	out, err := NewCSVExporter().Render(formulaDataset())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "Location,'@Gulu", lines[0])
	assert.Equal(t, "'=SUM(A1:A2),'+1,'-2+3", lines[3])
	assert.Equal(t, "c-2,10.00,a=b", lines[4])
}

func TestXLSXExporterEscapesFormulas(t *testing.T) {
	out, err := NewXLSXExporter().Render(formulaDataset())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	want := map[string]string{
		"A1": "'=Ledger",
		"B3": "'@Gulu",
		"A6": "'=SUM(A1:A2)",
		"C6": "'-2+3",
		"C7": "a=b",
	}
	for ref, value := range want {
		got, err := f.GetCellValue(xlsxSheet, ref)
		require.NoError(t, err)
		assert.Equal(t, value, got, ref)
		formula, err := f.GetCellFormula(xlsxSheet, ref)
		require.NoError(t, err)
		assert.Empty(t, formula, ref)
	}
}

func TestRendererFor(t *testing.T) {
	for _, f := range []Format{FormatCSV, FormatPDF, FormatXLSX} {
		r, err := RendererFor(f)
		require.NoError(t, err)
		_, err = r.Render(sampleDataset())
		require.NoError(t, err)
	}
}
