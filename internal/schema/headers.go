package schema

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Field is a canonical licitacion field name.
type Field string

const (
	FieldID              Field = "id"
	FieldTitle           Field = "title"
	FieldPublicationDate Field = "publicationDate"
	FieldClosingDate     Field = "closingDate"
	FieldIssuingBody     Field = "issuingBody"
	FieldUnit            Field = "unit"
	FieldAvailableAmount Field = "availableAmount"
	FieldCurrency        Field = "currency"
	FieldStatus          Field = "status"
)

// RequiredFields must be mapped for a file to be accepted.
var RequiredFields = []Field{FieldID, FieldTitle}

// aliasGroups lists the header spellings accepted for each canonical field,
// written in NormalizeHeader form so accents, case, underscores and repeated
// spaces in the source headers do not matter.
var aliasGroups = []struct {
	field   Field
	aliases []string
}{
	{FieldID, []string{
		"id", "licitacion id", "id licitacion", "licitacion", "codigo", "codigo licitacion",
		"codigo de licitacion", "codigo externo", "numero licitacion", "numero de licitacion",
		"nro licitacion", "tender id",
	}},
	{FieldTitle, []string{
		"nombre", "nombre licitacion", "nombre de licitacion", "nombre de la licitacion",
		"titulo", "title", "name", "descripcion",
	}},
	{FieldPublicationDate, []string{
		"fecha publicacion", "fecha de publicacion", "publicacion", "fecha inicio", "publication date",
	}},
	{FieldClosingDate, []string{
		"fecha cierre", "fecha de cierre", "cierre", "fecha termino", "fecha de termino", "closing date",
	}},
	{FieldIssuingBody, []string{
		"organismo", "organismo comprador", "organismo publico", "institucion", "entidad", "comprador",
	}},
	{FieldUnit, []string{
		"unidad", "unidad compra", "unidad de compra", "unidad compradora", "unidad solicitante",
	}},
	{FieldAvailableAmount, []string{
		"monto", "monto disponible", "monto estimado", "monto total", "presupuesto", "amount",
	}},
	{FieldCurrency, []string{"moneda", "tipo moneda", "tipo de moneda", "currency"}},
	{FieldStatus, []string{
		"estado", "estado licitacion", "estado de licitacion", "estado de la licitacion", "status",
	}},
}

var headerAliases = buildAliases()

func buildAliases() map[string]Field {
	aliases := make(map[string]Field)
	for _, group := range aliasGroups {
		for _, alias := range group.aliases {
			aliases[alias] = group.field
		}
	}
	return aliases
}

var stripMarks = runes.Remove(runes.In(unicode.Mn))

// NormalizeHeader turns a column header into its comparison key: accents
// removed, lowercased, separators turned into single spaces, other
// punctuation dropped. Every caller uses this one rule.
func NormalizeHeader(header string) string {
	decomposed, _, err := transform.String(transform.Chain(norm.NFD, stripMarks), header)
	if err != nil {
		decomposed = header
	}

	var b strings.Builder
	for _, r := range strings.ToLower(decomposed) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '_' || r == '-' || r == '.' || r == '/':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// LookupField returns the canonical field for a header, if any.
func LookupField(header string) (Field, bool) {
	field, ok := headerAliases[NormalizeHeader(header)]
	return field, ok
}

// Mapping is the result of resolving spreadsheet headers to canonical fields.
type Mapping struct {
	// Fields maps the original header text to its canonical field.
	Fields map[string]Field
	// Headers lists the mapped headers in sheet order.
	Headers []string
	// Unmapped lists headers whose column is dropped from the canonical record,
	// including later headers that resolve to an already mapped field.
	Unmapped []string
}

// Has reports whether some header maps to field.
func (m Mapping) Has(field Field) bool {
	for _, f := range m.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// MapHeaders resolves headers to canonical fields; the first header wins when
// several resolve to the same field.
func MapHeaders(headers []string) Mapping {
	mapping := Mapping{Fields: make(map[string]Field, len(headers))}
	taken := make(map[Field]bool, len(headers))

	for _, header := range headers {
		if strings.TrimSpace(header) == "" {
			continue
		}
		field, ok := LookupField(header)
		if !ok || taken[field] {
			mapping.Unmapped = append(mapping.Unmapped, header)
			continue
		}
		taken[field] = true
		mapping.Fields[header] = field
		mapping.Headers = append(mapping.Headers, header)
	}
	return mapping
}

// HeaderValidation reports whether a header row can produce eligible records.
type HeaderValidation struct {
	IsValid        bool
	MissingHeaders []Field
	Mapping        Mapping
}

// ValidateHeaders maps headers and lists the required fields with no column.
func ValidateHeaders(headers []string) HeaderValidation {
	mapping := MapHeaders(headers)

	var missing []Field
	for _, field := range RequiredFields {
		if !mapping.Has(field) {
			missing = append(missing, field)
		}
	}

	return HeaderValidation{
		IsValid:        len(missing) == 0,
		MissingHeaders: missing,
		Mapping:        mapping,
	}
}
