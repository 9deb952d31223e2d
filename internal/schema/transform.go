package schema

import (
	"strings"

	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/models"
)

// DefaultCurrency is sent when a record carries no currency.
const DefaultCurrency = "CLP"

// Transform applies mapping to every row. Columns without a mapping are dropped.
func Transform(rows []models.SheetRow, mapping Mapping) []models.Licitacion {
	out := make([]models.Licitacion, 0, len(rows))
	for _, row := range rows {
		out = append(out, ToLicitacion(row, mapping))
	}
	return out
}

// ToLicitacion builds the canonical record for one row. Dates and amounts that
// do not parse are left nil; ValidateData reports them.
func ToLicitacion(row models.SheetRow, mapping Mapping) models.Licitacion {
	l := models.Licitacion{Row: row.Number, Raw: row.Record}

	for _, header := range mapping.Headers {
		field := mapping.Fields[header]
		value := strings.TrimSpace(row.Record[header])
		if value == "" {
			continue
		}

		switch field {
		case FieldID:
			l.ID = value
		case FieldTitle:
			l.Title = value
		case FieldPublicationDate:
			if t, ok := ParseDate(value); ok {
				l.PublicationDate = &t
			}
		case FieldClosingDate:
			if t, ok := ParseDate(value); ok {
				l.ClosingDate = &t
			}
		case FieldIssuingBody:
			l.IssuingBody = value
		case FieldUnit:
			l.Unit = value
		case FieldAvailableAmount:
			if amount, ok := ParseAmount(value); ok {
				l.AvailableAmount = &amount
			}
		case FieldCurrency:
			l.Currency = strings.ToUpper(value)
		case FieldStatus:
			l.Status = value
		}
	}
	return l
}

// ToPayload renders the wire body for a canonical record. Every key is
// present; the amount defaults to 0 and the currency to DefaultCurrency.
func ToPayload(l models.Licitacion) models.Payload {
	payload := models.Payload{
		LicitacionID:     l.ID,
		Nombre:           l.Title,
		FechaPublicacion: FormatDate(l.PublicationDate),
		FechaCierre:      FormatDate(l.ClosingDate),
		Organismo:        l.IssuingBody,
		Unidad:           l.Unit,
		Moneda:           l.Currency,
		Estado:           l.Status,
	}
	if l.AvailableAmount != nil {
		payload.MontoDisponible = *l.AvailableAmount
	}
	if payload.Moneda == "" {
		payload.Moneda = DefaultCurrency
	}
	return payload
}
