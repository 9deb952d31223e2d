package schema

import (
	"fmt"
	"strings"

	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/models"
)

// Issue is a validation error or warning tied to a sheet row.
type Issue struct {
	Row     int
	Field   Field
	Message string
}

func (i Issue) String() string {
	if i.Field == "" {
		return fmt.Sprintf("row %d: %s", i.Row, i.Message)
	}
	return fmt.Sprintf("row %d: %s: %s", i.Row, i.Field, i.Message)
}

// RowValidation holds the problems found in one canonical record.
type RowValidation struct {
	Errors   []Issue
	Warnings []Issue
}

func (v RowValidation) IsValid() bool { return len(v.Errors) == 0 }

// ErrorText joins the error messages of the row.
func (v RowValidation) ErrorText() string {
	messages := make([]string, 0, len(v.Errors))
	for _, issue := range v.Errors {
		messages = append(messages, string(issue.Field)+": "+issue.Message)
	}
	return strings.Join(messages, "; ")
}

// DataValidation aggregates row validations over a whole sheet.
type DataValidation struct {
	IsValid   bool
	ValidRows int
	Errors    []Issue
	Warnings  []Issue
}

// ValidateRow checks the required fields of a canonical record and warns about
// empty issuing body or unit. It never stops at the first problem.
func ValidateRow(l models.Licitacion) RowValidation {
	var v RowValidation

	if strings.TrimSpace(l.ID) == "" {
		v.Errors = append(v.Errors, Issue{Row: l.Row, Field: FieldID, Message: "is required"})
	}
	if strings.TrimSpace(l.Title) == "" {
		v.Errors = append(v.Errors, Issue{Row: l.Row, Field: FieldTitle, Message: "is required"})
	}
	if strings.TrimSpace(l.IssuingBody) == "" {
		v.Warnings = append(v.Warnings, Issue{Row: l.Row, Field: FieldIssuingBody, Message: "is empty"})
	}
	if strings.TrimSpace(l.Unit) == "" {
		v.Warnings = append(v.Warnings, Issue{Row: l.Row, Field: FieldUnit, Message: "is empty"})
	}
	return v
}

// ValidateData checks every row: date cells must be calendar dates, the amount
// must be a non-negative number, and the canonical record must pass ValidateRow.
// The result is informational and does not decide what gets submitted.
func ValidateData(rows []models.SheetRow, mapping Mapping) DataValidation {
	result := DataValidation{}

	for _, row := range rows {
		rowErrors := validateCells(row, mapping)

		rowValidation := ValidateRow(ToLicitacion(row, mapping))
		rowErrors = append(rowErrors, rowValidation.Errors...)

		result.Errors = append(result.Errors, rowErrors...)
		result.Warnings = append(result.Warnings, rowValidation.Warnings...)
		if len(rowErrors) == 0 {
			result.ValidRows++
		}
	}

	result.IsValid = len(result.Errors) == 0
	return result
}

func validateCells(row models.SheetRow, mapping Mapping) []Issue {
	var issues []Issue
	for _, header := range mapping.Headers {
		field := mapping.Fields[header]
		value := strings.TrimSpace(row.Record[header])
		if value == "" {
			continue
		}

		switch field {
		case FieldPublicationDate, FieldClosingDate:
			if _, ok := ParseDate(value); !ok {
				issues = append(issues, Issue{Row: row.Number, Field: field, Message: fmt.Sprintf("invalid date %q", value)})
			}
		case FieldAvailableAmount:
			amount, ok := ParseAmount(value)
			if !ok {
				issues = append(issues, Issue{Row: row.Number, Field: field, Message: fmt.Sprintf("invalid amount %q", value)})
			} else if amount < 0 {
				issues = append(issues, Issue{Row: row.Number, Field: field, Message: fmt.Sprintf("negative amount %q", value)})
			}
		}
	}
	return issues
}
