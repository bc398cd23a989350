// Package report renders finding row sets into downloadable documents. Both
// exporters take the exact rows the dashboard computed, so a download always
// matches what was on screen.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/core"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/pkg/types"
)

// reportHeader is the column order shared by every export format.
var reportHeader = []string{"Hostname", "Source", "Column", "Detected", "Timestamp"}

// timestampLayout renders timestamps second-granular in UTC.
const timestampLayout = "2006-01-02 15:04:05"

// CSVExporter renders findings as RFC 4180 CSV.
type CSVExporter struct{}

var _ core.Exporter = CSVExporter{}

func (CSVExporter) Name() string          { return "csv" }
func (CSVExporter) FileExtension() string { return "csv" }
func (CSVExporter) ContentType() string   { return "text/csv" }

// Export writes the header followed by one record per finding.
func (CSVExporter) Export(rows []types.Finding, w io.Writer) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(reportHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(recordFields(row)); err != nil {
			return fmt.Errorf("writing csv row %d: %w", row.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// recordFields flattens a finding into the shared column order.
func recordFields(f types.Finding) []string {
	return []string{
		f.Host(),
		f.Source,
		f.ColumnName,
		f.Detected,
		formatTimestamp(f.Timestamp),
	}
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timestampLayout)
}
