package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RawRecord maps the original column header of a spreadsheet to the cell text of one row.
type RawRecord map[string]string

// SheetRow is one data row together with its 1-based row number in the source sheet.
type SheetRow struct {
	Number int
	Record RawRecord
}

// Licitacion is the canonical, field-named representation of one spreadsheet row.
type Licitacion struct {
	Row             int        `json:"row"`
	ID              string     `json:"id,omitempty"`
	Title           string     `json:"title,omitempty"`
	PublicationDate *time.Time `json:"publication_date,omitempty"`
	ClosingDate     *time.Time `json:"closing_date,omitempty"`
	IssuingBody     string     `json:"issuing_body,omitempty"`
	Unit            string     `json:"unit,omitempty"`
	AvailableAmount *float64   `json:"available_amount,omitempty"`
	Currency        string     `json:"currency,omitempty"`
	Status          string     `json:"status,omitempty"`
	Raw             RawRecord  `json:"-"`
}

// Eligible reports whether the record can be submitted: id and title must be present.
func (l *Licitacion) Eligible() bool {
	return strings.TrimSpace(l.ID) != "" && strings.TrimSpace(l.Title) != ""
}

// Payload is the exact body sent to the remote ingestion endpoint.
type Payload struct {
	LicitacionID     string  `json:"licitacion_id"`
	Nombre           string  `json:"nombre"`
	FechaPublicacion string  `json:"fecha_publicacion"`
	FechaCierre      string  `json:"fecha_cierre"`
	Organismo        string  `json:"organismo"`
	Unidad           string  `json:"unidad"`
	MontoDisponible  float64 `json:"monto_disponible"`
	Moneda           string  `json:"moneda"`
	Estado           string  `json:"estado"`
}

// FailedRecord describes a row that could not be submitted during a run.
type FailedRecord struct {
	Row        int
	Raw        RawRecord
	Payload    Payload
	Error      string
	StatusCode int
}

func (f *FailedRecord) String() string {
	payloadJSON, err := json.Marshal(f.Payload)
	if err != nil {
		return fmt.Sprintf("Row %d: %s", f.Row, f.Error)
	}
	if f.StatusCode != 0 {
		return fmt.Sprintf("Row %d (HTTP %d): %s - Payload: %s", f.Row, f.StatusCode, f.Error, payloadJSON)
	}
	return fmt.Sprintf("Row %d: %s - Payload: %s", f.Row, f.Error, payloadJSON)
}

type RunStatus string

const (
	RunStatusNoFile    RunStatus = "no_file"
	RunStatusProcessed RunStatus = "processed"
	RunStatusError     RunStatus = "error"
	RunStatusDryRun    RunStatus = "dry_run"
)

// RunResult is the outcome of one pipeline run over a single inbox file.
type RunResult struct {
	SessionID         string
	Status            RunStatus
	FilePath          string
	Destination       string
	Checksum          string
	Total             int
	SuccessCount      int
	FailedCount       int
	SkippedDuplicates int
	RemoteDuplicates  int
	FailedRecords     []FailedRecord
	ReportPath        string
	UnmappedHeaders   []string
	MissingHeaders    []string
	ValidationErrors  []string
	Warnings          []string
	Reason            string
}

// Consumed reports whether the run moved its file out of the inbox.
func (r RunResult) Consumed() bool {
	return r.Status == RunStatusProcessed || r.Status == RunStatusError
}

// FileRun is the ledger entry written for each file that reached a terminal state.
type FileRun struct {
	FileName     string    `json:"file_name"`
	ProcessedAt  time.Time `json:"processed_at"`
	Status       RunStatus `json:"status"`
	Checksum     string    `json:"checksum"`
	Total        int       `json:"total"`
	SuccessCount int       `json:"success_count"`
	FailedCount  int       `json:"failed_count"`
	Errors       []string  `json:"errors"`
}
