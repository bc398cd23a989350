package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/core"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/pkg/types"
)

// xlsxSheetName is the single sheet every workbook export carries.
const xlsxSheetName = "PII Findings"

// XLSXExporter renders findings as a single-sheet XLSX workbook with the
// same column order as the CSV export.
type XLSXExporter struct{}

var _ core.Exporter = XLSXExporter{}

func (XLSXExporter) Name() string          { return "xlsx" }
func (XLSXExporter) FileExtension() string { return "xlsx" }
func (XLSXExporter) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Export writes the workbook to w.
func (XLSXExporter) Export(rows []types.Finding, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(xlsxSheetName)
	if err != nil {
		return fmt.Errorf("creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("removing default sheet: %w", err)
	}

	header := make([]interface{}, len(reportHeader))
	for i, h := range reportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(xlsxSheetName, "A1", &header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, row := range rows {
		fields := recordFields(row)
		cells := make([]interface{}, len(fields))
		for j, v := range fields {
			cells[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("addressing row %d: %w", i+2, err)
		}
		if err := f.SetSheetRow(xlsxSheetName, cell, &cells); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}
