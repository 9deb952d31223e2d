package ingestion

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/models"
)

const reportSheet = "Fallidos"

var reportColumns = []string{
	"Fila", "ID Licitación", "Nombre", "Fecha Publicación", "Fecha Cierre", "Organismo",
	"Unidad", "Monto Disponible", "Moneda", "Estado", "Error", "Código HTTP",
}

// ReportName is the file name of the failure report for a source file.
func ReportName(source string, at time.Time) string {
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	return fmt.Sprintf("%s_fallidos_%s.xlsx", base, at.Format("20060102_150405"))
}

// WriteFailureReport writes one row per failed record into dir and returns
// the report path.
func WriteFailureReport(dir, source string, failed []models.FailedRecord, at time.Time) (string, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), reportSheet); err != nil {
		return "", fmt.Errorf("failed to name report sheet: %w", err)
	}
	if err := f.SetSheetRow(reportSheet, "A1", &reportColumns); err != nil {
		return "", fmt.Errorf("failed to write report header: %w", err)
	}

	for i, record := range failed {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return "", err
		}
		row := reportRow(record)
		if err := f.SetSheetRow(reportSheet, cell, &row); err != nil {
			return "", fmt.Errorf("failed to write report row %d: %w", record.Row, err)
		}
	}

	path := filepath.Join(dir, ReportName(source, at))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save report %s: %w", path, err)
	}
	return path, nil
}

func reportRow(record models.FailedRecord) []any {
	p := record.Payload
	var status any
	if record.StatusCode != 0 {
		status = record.StatusCode
	}
	return []any{
		record.Row, p.LicitacionID, p.Nombre, p.FechaPublicacion, p.FechaCierre, p.Organismo,
		p.Unidad, p.MontoDisponible, p.Moneda, p.Estado, record.Error, status,
	}
}
