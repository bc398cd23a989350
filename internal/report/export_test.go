package report

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/pkg/types"
)

func sampleRows() []types.Finding {
	h1, h2 := "web-01", "db-02"
	return []types.Finding{
		{
			ID:         1,
			Hostname:   &h1,
			Source:     "crm.contacts",
			ColumnName: "email_address",
			Detected:   "email, phone",
			Timestamp:  time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC),
		},
		{
			ID:         2,
			Hostname:   &h2,
			Source:     "billing.cards",
			ColumnName: `card "number"`,
			Detected:   "credit_card",
			Timestamp:  time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
		},
		{
			ID:         3,
			Source:     "agentless",
			ColumnName: "aadhaar_no",
			Detected:   "aadhaar",
			Timestamp:  time.Date(2026, 3, 3, 23, 59, 59, 0, time.UTC),
		},
	}
}

func TestCSVExportRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, CSVExporter{}.Export(sampleRows(), &buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, []string{"Hostname", "Source", "Column", "Detected", "Timestamp"}, records[0])
	assert.Equal(t, []string{"web-01", "crm.contacts", "email_address", "email, phone", "2026-03-01 12:30:45"}, records[1])
	assert.Equal(t, []string{"db-02", "billing.cards", `card "number"`, "credit_card", "2026-03-02 08:00:00"}, records[2])
	assert.Equal(t, []string{"", "agentless", "aadhaar_no", "aadhaar", "2026-03-03 23:59:59"}, records[3])
}

func TestCSVExportEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, CSVExporter{}.Export(nil, &buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1, "header only")
	assert.Equal(t, []string{"Hostname", "Source", "Column", "Detected", "Timestamp"}, records[0])
}

func TestXLSXExportRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, XLSXExporter{}.Export(sampleRows(), &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"PII Findings"}, f.GetSheetList())

	rows, err := f.GetRows("PII Findings")
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, []string{"Hostname", "Source", "Column", "Detected", "Timestamp"}, rows[0])
	assert.Equal(t, []string{"web-01", "crm.contacts", "email_address", "email, phone", "2026-03-01 12:30:45"}, rows[1])
	// The hostless row keeps the column alignment of the CSV export.
	assert.Equal(t, "agentless", rows[3][1])
	assert.Equal(t, "aadhaar", rows[3][3])
}

func TestExporterMetadata(t *testing.T) {
	csvExp, xlsxExp := CSVExporter{}, XLSXExporter{}

	assert.Equal(t, "csv", csvExp.FileExtension())
	assert.Equal(t, "text/csv", csvExp.ContentType())
	assert.Equal(t, "xlsx", xlsxExp.FileExtension())
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", xlsxExp.ContentType())
}
