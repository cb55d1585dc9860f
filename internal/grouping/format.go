package grouping

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateODataV2 selects the OData V2 JSON date literal /Date(<ms>)/.
const DateODataV2 = "/Date()/"

// DefaultDateFormat is the canonical output when a layout sets none.
const DefaultDateFormat = "2006-01-02"

var (
	// ErrNotANumber is reported for amounts and quantities that cannot be parsed.
	ErrNotANumber = errors.New("not a number")
	// ErrNotADate is reported for dates that cannot be parsed.
	ErrNotADate = errors.New("not a date")
)

var inputDateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"02.01.2006",
	"01/02/2006",
	"2006/01/02",
	"20060102",
}

var odataDateRe = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)

// excelEpoch is day zero of spreadsheet serial dates.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// FormatDecimal renders v with exactly places decimals.
func FormatDecimal(v any, places int) (string, error) {
	f, err := toFloat(v)
	if err != nil {
		return "", err
	}
	if places < 0 {
		places = 0
	}
	return strconv.FormatFloat(f, 'f', places, 64), nil
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return checkFinite(t)
	case float32:
		return checkFinite(float64(t))
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrNotANumber, t.String())
		}
		return checkFinite(f)
	case string:
		return parseNumber(t)
	default:
		return 0, fmt.Errorf("%w: %v", ErrNotANumber, v)
	}
}

func checkFinite(f float64) (float64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %v", ErrNotANumber, f)
	}
	return f, nil
}

// parseNumber accepts "1234.5", "1,234.50" and the decimal-comma form "12,5".
// A lone comma followed by exactly three digits is rejected.
func parseNumber(s string) (float64, error) {
	in := strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if in == "" {
		return 0, fmt.Errorf("%w: empty", ErrNotANumber)
	}
	switch {
	case strings.Contains(in, ".") && strings.Contains(in, ","):
		in = strings.ReplaceAll(in, ",", "")
	case strings.Count(in, ",") == 1:
		// "1,234" reads as both a thousands group and a decimal comma
		if i := strings.IndexByte(in, ','); len(in)-i-1 == 3 {
			return 0, fmt.Errorf("%w: ambiguous separator in %q", ErrNotANumber, s)
		}
		in = strings.Replace(in, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(in, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrNotANumber, s)
	}
	return checkFinite(f)
}

// ParseDate accepts time values, common text layouts, OData V2 literals and
// spreadsheet serial numbers.
func ParseDate(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case float64:
		return fromSerial(t)
	case int:
		return fromSerial(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrNotADate, t.String())
		}
		return fromSerial(f)
	case string:
		s := strings.TrimSpace(t)
		if m := odataDateRe.FindStringSubmatch(s); m != nil {
			ms, _ := strconv.ParseInt(m[1], 10, 64)
			return time.UnixMilli(ms).UTC(), nil
		}
		for _, layout := range inputDateLayouts {
			if d, err := time.Parse(layout, s); err == nil {
				return d, nil
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromSerial(f)
		}
		return time.Time{}, fmt.Errorf("%w: %q", ErrNotADate, s)
	default:
		return time.Time{}, fmt.Errorf("%w: %v", ErrNotADate, v)
	}
}

func fromSerial(f float64) (time.Time, error) {
	if f < 1 || f > 2958465 || math.IsNaN(f) {
		return time.Time{}, fmt.Errorf("%w: serial %v", ErrNotADate, f)
	}
	days := math.Floor(f)
	return excelEpoch.AddDate(0, 0, int(days)), nil
}

// FormatDate renders v in the layout's canonical date format.
func FormatDate(v any, format string) (string, error) {
	d, err := ParseDate(v)
	if err != nil {
		return "", err
	}
	day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	switch format {
	case "":
		return day.Format(DefaultDateFormat), nil
	case DateODataV2:
		return fmt.Sprintf("/Date(%d)/", day.UnixMilli()), nil
	default:
		return day.Format(format), nil
	}
}
