package relib

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

const (
	// defFileName is the reserved name of the topology document.
	defFileName = "#tsdef.json"
	// metaTableName is the reserved system document tracking store state.
	metaTableName = "#tsmeta"
)

// storeMetaDoc mirrors the "#tsmeta" document. Its JSON Schema is
// reflected from this struct, so the metadata document is validated the
// same way user documents are. The checksum field keeps the historical
// name "md5" even though the digest is SHA-256.
type storeMetaDoc struct {
	CreatedOn    string         `json:"created_on,omitempty" jsonschema:"format=date-time"`
	LastModified string         `json:"last_modified,omitempty" jsonschema:"format=date-time"`
	Origin       string         `json:"origin,omitempty"`
	Version      int            `json:"version,omitempty"`
	Tables       []tableMetaDoc `json:"tables,omitempty"`
}

type tableMetaDoc struct {
	TableName    string `json:"table_name,omitempty"`
	MD5          string `json:"md5,omitempty"`
	LastModified string `json:"last_modified,omitempty" jsonschema:"format=date-time"`
}

// metaSchema reflects storeMetaDoc into a plain JSON Schema document with
// inline properties (no $ref), the shape AddSchema expects.
func metaSchema() (map[string]any, error) {
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	data, err := json.Marshal(r.Reflect(&storeMetaDoc{}))
	if err != nil {
		return nil, fmt.Errorf("failed to reflect metadata schema: %w", err)
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to decode metadata schema: %w", err)
	}
	return schema, nil
}

// seedMetaTable installs the "#tsmeta" system document on a fresh store.
// The version starts at 1; the first save of a changed store bumps it to 2.
func (s *TableStore) seedMetaTable() error {
	meta, err := s.AddDocument(metaTableName)
	if err != nil {
		return err
	}
	meta.system = true
	schema, err := metaSchema()
	if err != nil {
		return err
	}
	if err := meta.AddSchema(schema); err != nil {
		return err
	}
	return meta.SetDefaults(NewRow().
		Set("created_on", "@@utcnow").
		Set("last_modified", "@@utcnow").
		Set("version", 1).
		Set("tables", []any{}))
}
