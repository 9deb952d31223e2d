package parser

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/models"
)

var (
	ErrNoSheet           = errors.New("workbook has no sheets")
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// Sheet is the tabular content of one input file: a header row and the data rows below it.
type Sheet struct {
	Name    string
	Headers []string
	Rows    []models.SheetRow
}

// Reader reads a tabular input file.
type Reader interface {
	Read(path string) (*Sheet, error)
}

// FileReader picks the workbook or CSV reader by extension.
type FileReader struct{}

func (FileReader) Read(path string) (*Sheet, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return ReadWorkbook(path)
	case ".csv":
		return ReadCSV(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// ReadWorkbook reads the first sheet of an xlsx workbook. Cells are read as
// stored, so date cells come back as Excel serial numbers.
func ReadWorkbook(path string) (*Sheet, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoSheet)
	}

	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q from %s: %w", sheets[0], path, err)
	}

	return buildSheet(sheets[0], rows), nil
}

// buildSheet takes the first non-blank row as the header row. Blank data rows
// are skipped; row numbers stay those of the source.
func buildSheet(name string, rows [][]string) *Sheet {
	sheet := &Sheet{Name: name}

	headerIdx := -1
	for i, row := range rows {
		if !isBlank(row) {
			headerIdx = i
			break
		}
	}
	if headerIdx == -1 {
		return sheet
	}

	for _, cell := range rows[headerIdx] {
		sheet.Headers = append(sheet.Headers, strings.TrimSpace(strings.TrimPrefix(cell, "\ufeff")))
	}

	for i := headerIdx + 1; i < len(rows); i++ {
		row := rows[i]
		if isBlank(row) {
			continue
		}

		record := make(models.RawRecord, len(sheet.Headers))
		for col, header := range sheet.Headers {
			if header == "" || col >= len(row) {
				continue
			}
			if _, exists := record[header]; exists {
				continue
			}
			record[header] = strings.TrimSpace(row[col])
		}
		sheet.Rows = append(sheet.Rows, models.SheetRow{Number: i + 1, Record: record})
	}
	return sheet
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
