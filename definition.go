package relib

import (
	"encoding/json"
	"fmt"
)

// storeDefinition is the topology document persisted as "#tsdef.json". It
// captures every table's shape but none of its rows. Table order is the
// declaration order, so dependencies always precede their dependents.
type storeDefinition struct {
	Origin string            `json:"origin"`
	Tables []tableDefinition `json:"tables"`
}

type tableDefinition struct {
	TableName   string         `json:"table_name"`
	Class       tableClass     `json:"class"`
	PrimaryKey  []string       `json:"primary_key,omitempty"`
	Constraints []Constraint   `json:"constraints,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
	Defaults    *Row           `json:"defaults,omitempty"`
	GroupBy     []string       `json:"group_by,omitempty"`
	Subfolder   string         `json:"subfolder,omitempty"`
	System      bool           `json:"system,omitempty"`
}

// Definition renders the store's topology as an indented JSON document.
func (s *TableStore) Definition() ([]byte, error) {
	def := storeDefinition{
		Origin: s.origin,
		Tables: make([]tableDefinition, 0, len(s.tables)),
	}
	for _, t := range s.tables {
		def.Tables = append(def.Tables, tableDefinition{
			TableName:   t.name,
			Class:       t.class,
			PrimaryKey:  t.pkFields,
			Constraints: t.constraints,
			Schema:      t.schema,
			Defaults:    t.defaults,
			GroupBy:     t.groupBy,
			Subfolder:   t.subfolder,
			System:      t.system,
		})
	}
	return marshalIndent(def)
}

// InitFromDefinition replaces the store's tables with the topology in
// data, typically produced by Definition. Rows are not part of a
// definition; load them separately.
func (s *TableStore) InitFromDefinition(data []byte) error {
	var def storeDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return &ParseError{Name: defFileName, Err: err}
	}

	tables := make([]*Table, 0, len(def.Tables))
	byName := make(map[string]*Table, len(def.Tables))
	for _, td := range def.Tables {
		switch td.Class {
		case classTable, classDocument:
		default:
			return &UnknownVariantError{Tag: string(td.Class)}
		}
		for _, c := range td.Constraints {
			switch c.Type {
			case ConstraintPrimaryKey, ConstraintUnique, ConstraintForeignKey:
			default:
				return &UnknownVariantError{Tag: string(c.Type)}
			}
		}
		if byName[td.TableName] != nil {
			return NewConfigurationError("duplicate table %q in definition", td.TableName)
		}
		t := &Table{
			name:        td.TableName,
			class:       td.Class,
			pkFields:    td.PrimaryKey,
			constraints: td.Constraints,
			schema:      td.Schema,
			defaults:    td.Defaults,
			groupBy:     td.GroupBy,
			subfolder:   td.Subfolder,
			system:      td.System,
			rows:        make(map[string]*Row),
			store:       s,
		}
		tables = append(tables, t)
		byName[t.name] = t
	}

	s.tables = tables
	s.byName = byName
	s.origin = def.Origin
	if s.byName[metaTableName] == nil {
		if err := s.seedMetaTable(); err != nil {
			return fmt.Errorf("failed to seed metadata table: %w", err)
		}
	}
	return nil
}
