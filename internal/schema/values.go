package schema

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// PayloadDateLayout is the wire format of payload dates, in local time.
const PayloadDateLayout = "2006-01-02 15:04"

// Largest serial Excel can represent (9999-12-31).
const maxExcelSerial = 2958465

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"02-01-2006 15:04:05",
	"02-01-2006 15:04",
	"02-01-2006",
	"2006/01/02",
}

// ParseDate reads a cell as a calendar date. Cells holding Excel serial
// numbers are converted; text is tried against ISO, RFC3339 and dd/mm/yyyy
// layouts in local time.
func ParseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}

	if serial, err := strconv.ParseFloat(value, 64); err == nil {
		if math.IsNaN(serial) || serial <= 0 || serial > maxExcelSerial {
			return time.Time{}, false
		}
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, false
		}
		// serials carry no zone: keep the wall clock, read as local time
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.Local), true
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.In(time.Local), true
	}

	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatDate renders t in the payload layout; nil renders as "".
func FormatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.In(time.Local).Format(PayloadDateLayout)
}

// ParseAmount reads a monetary cell. Currency symbols, spaces and thousands
// commas are dropped ("$1,234.56" is 1234.56). Text that still is not a
// number falls back to its digits alone ("abc123" is 123); text without
// digits is rejected.
func ParseAmount(value string) (float64, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	cleaned := strings.Map(func(r rune) rune {
		if r == '$' || r == ',' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, value)

	if d, err := decimal.NewFromString(cleaned); err == nil {
		f, _ := d.Float64()
		return f, true
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, value)
	if digits == "" {
		return 0, false
	}

	d, err := decimal.NewFromString(digits)
	if err != nil {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}
