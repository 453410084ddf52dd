package relib

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maruel/ksid"
)

// Dynamic default markers, resolved each time a row is materialized:
//
//	@@utcnow  current UTC timestamp
//	@@uuid4   random UUID
//	@@ksid    time-sortable unique id
//
// An unknown @@ marker logs a warning and is kept as its literal string so a
// typo never blocks a row from being added.
const dynamicMarkerPrefix = "@@"

// defaultRow materializes the table's declared defaults into a fresh row,
// resolving dynamic markers and deep-copying container values so later
// mutation of one row never leaks into another.
func (t *Table) defaultRow() *Row {
	row := NewRow()
	if t.defaults == nil {
		return row
	}
	for name, value := range t.defaults.Fields() {
		if s, ok := value.(string); ok && strings.HasPrefix(s, dynamicMarkerPrefix) {
			row.Set(name, t.resolveMarker(s))
			continue
		}
		row.Set(name, cloneValue(value))
	}
	return row
}

func (t *Table) resolveMarker(marker string) any {
	switch marker {
	case "@@utcnow":
		return utcTimestamp()
	case "@@uuid4":
		return uuid.NewString()
	case "@@ksid":
		return ksid.NewID().String()
	default:
		slog.Warn("unknown dynamic default value", "marker", marker, "table", t.name)
		return marker
	}
}

func utcTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
