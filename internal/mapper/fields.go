package mapper

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/zgpcy/azure-billing-collector/internal/reconcile"
)

// ErrNoBilledDate is returned when neither the record nor the caller supplies a date
var ErrNoBilledDate = errors.New("no billed date")

// record adds typed accessors to a raw vendor row
type record reconcile.Record

// has reports whether key is present with a non-nil value
func (r record) has(key string) bool {
	v, ok := r[key]
	return ok && v != nil
}

// str returns the value of key as a string, "" when absent
func (r record) str(key string) string {
	return toString(r[key])
}

// first returns the first non-empty string among keys
func (r record) first(keys ...string) string {
	for _, k := range keys {
		if v := r.str(k); v != "" {
			return v
		}
	}
	return ""
}

// num returns the value of key as a float, 0 when absent
func (r record) num(key string) (float64, error) {
	f, err := toFloat(r[key])
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", key, err)
	}
	return f, nil
}

// firstNum returns the first present numeric field among keys
func (r record) firstNum(keys ...string) (float64, error) {
	for _, k := range keys {
		if r.has(k) {
			return r.num(k)
		}
	}
	return 0, nil
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", t)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}

// BilledDate normalizes a vendor date value to YYYY-MM-DD. Accepted forms are
// YYYYMMDD (number or string), M/D/YYYY, YYYY-MM-DD and RFC 3339 timestamps.
// A nil or empty value falls back to fallback; a zero fallback is an error.
func BilledDate(v any, fallback time.Time) (string, error) {
	switch t := v.(type) {
	case nil:
		return fromFallback(fallback)
	case time.Time:
		return t.Format(time.DateOnly), nil
	case float64:
		if t != math.Trunc(t) || t <= 0 {
			return "", fmt.Errorf("invalid numeric date %v", t)
		}
		return parseDate(strconv.FormatInt(int64(t), 10))
	case int:
		return parseDate(strconv.Itoa(t))
	case int64:
		return parseDate(strconv.FormatInt(t, 10))
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return fromFallback(fallback)
		}
		return parseDate(s)
	default:
		return "", fmt.Errorf("unsupported date type %T", v)
	}
}

func fromFallback(fallback time.Time) (string, error) {
	if fallback.IsZero() {
		return "", ErrNoBilledDate
	}
	return fallback.Format(time.DateOnly), nil
}

func parseDate(s string) (string, error) {
	var (
		d   time.Time
		err error
	)
	switch {
	case len(s) == 8 && isDigits(s):
		d, err = time.Parse("20060102", s)
	case strings.Count(s, "/") == 2:
		d, err = time.Parse("1/2/2006", s)
	case len(s) >= 10 && s[4] == '-':
		d, err = time.Parse(time.DateOnly, s[:10])
	default:
		err = fmt.Errorf("unrecognized layout")
	}
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	return d.Format(time.DateOnly), nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ParseTags decodes the vendor tag encoding, which may omit the surrounding
// braces. The returned map is never nil; malformed input yields an empty map
// and the decode error.
func ParseTags(v any) (map[string]string, error) {
	tags := map[string]string{}

	var raw map[string]any
	switch t := v.(type) {
	case nil:
		return tags, nil
	case map[string]any:
		raw = t
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return tags, nil
		}
		if !strings.HasPrefix(s, "{") {
			s = "{" + s + "}"
		}
		if err := json.Unmarshal([]byte(s), &raw); err != nil {
			return tags, fmt.Errorf("malformed tags %q: %w", t, err)
		}
	default:
		return tags, fmt.Errorf("unsupported tags type %T", v)
	}

	for k, val := range raw {
		switch tv := val.(type) {
		case string:
			tags[k] = tv
		case nil:
			tags[k] = ""
		case float64, bool:
			tags[k] = toString(tv)
		default:
			b, err := json.Marshal(tv)
			if err != nil {
				return map[string]string{}, fmt.Errorf("tag %s: %w", k, err)
			}
			tags[k] = string(b)
		}
	}
	return tags, nil
}

// jsonObject decodes a JSON object held in a string or map field. Anything
// else yields nil.
func jsonObject(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case string:
		var out map[string]any
		if err := json.Unmarshal([]byte(t), &out); err != nil {
			return nil
		}
		return out
	default:
		return nil
	}
}
