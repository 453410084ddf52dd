package relib

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Canonical keys double as file-name fragments, so they are restricted to a
// filename-safe alphabet.
var canonicalKeyRegexp = regexp.MustCompile(`^[A-Za-z0-9_.\-]{1,50}$`)

// canonicalKey joins the values of the named fields with dots, in field
// order. The lookup function resolves a field name to its value. An empty
// field list renders the empty key, which fails the pattern check: a row
// table cannot form keys before a primary key is declared.
func canonicalKey(table string, fields []string, lookup func(string) (any, bool)) (string, error) {
	values := make([]string, 0, len(fields))
	var missing []string
	for _, f := range fields {
		v, ok := lookup(f)
		if !ok {
			missing = append(missing, f)
			continue
		}
		values = append(values, keyValueString(v))
	}
	if len(missing) > 0 {
		return "", &MissingKeyFieldsError{Table: table, Missing: missing}
	}
	key := strings.Join(values, ".")
	if !canonicalKeyRegexp.MatchString(key) {
		return "", &KeyFormatError{Table: table, Key: key}
	}
	return key, nil
}

// keyValueString renders a field value for use inside a canonical key.
// Integral floats print without a fractional part so numbers survive a JSON
// round trip with the same key.
func keyValueString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return "null"
	default:
		if i, ok := toInt(v); ok {
			return strconv.FormatInt(i, 10)
		}
		if f, ok := toFloat(v); ok {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return fmt.Sprintf("%v", v)
	}
}
