package relib

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"sort"
)

// persistFunc and retrieveFunc are the byte-level hooks a table saves and
// loads through; the store binds them to a Backend.
type (
	persistFunc  func(name string, data []byte) error
	retrieveFunc func(name string) ([]byte, error)
)

// save writes the table through persist and returns the content checksum:
// a SHA-256 over every byte written for this table, in write order. The
// store compares it against recorded metadata to detect change.
func (t *Table) save(persist persistFunc) (string, error) {
	h := sha256.New()
	write := func(name string, data []byte) error {
		h.Write(data)
		return persist(name, data)
	}
	if err := t.saveData(write); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (t *Table) saveData(write persistFunc) error {
	if t.class == classDocument {
		data, err := marshalIndent(t.rows[""])
		if err != nil {
			return err
		}
		return write(t.fileName("", false), data)
	}

	keys := t.sortedKeys()
	if t.groupBy == nil {
		docs := make([]*Row, 0, len(keys))
		for _, k := range keys {
			docs = append(docs, t.orderKeyFieldsFirst(t.rows[k]))
		}
		data, err := marshalIndent(docs)
		if err != nil {
			return err
		}
		return write(t.fileName("", false), data)
	}

	if slices.Equal(t.groupBy, t.pkFields) {
		// One file per row.
		for _, k := range keys {
			row := t.rows[k]
			name, err := t.rowFileName(row)
			if err != nil {
				return err
			}
			data, err := marshalIndent(t.orderKeyFieldsFirst(row))
			if err != nil {
				return err
			}
			if err := write(name, data); err != nil {
				return err
			}
		}
	} else {
		// One file per group, groups in sorted key order.
		groups := make(map[string][]*Row)
		for _, k := range keys {
			row := t.rows[k]
			gk, err := canonicalKey(t.name, t.groupBy, row.Get)
			if err != nil {
				return err
			}
			groups[gk] = append(groups[gk], t.orderKeyFieldsFirst(row))
		}
		groupKeys := make([]string, 0, len(groups))
		for gk := range groups {
			groupKeys = append(groupKeys, gk)
		}
		sort.Strings(groupKeys)
		for _, gk := range groupKeys {
			data, err := marshalIndent(groups[gk])
			if err != nil {
				return err
			}
			if err := write(t.fileName(gk, false), data); err != nil {
				return err
			}
		}
	}

	// The index lists every row's bare primary key so loading never has to
	// scan a directory.
	index := make([]*Row, 0, len(keys))
	for _, k := range keys {
		row := t.rows[k]
		entry := NewRow()
		for _, f := range t.pkFields {
			if v, ok := row.Get(f); ok {
				entry.Set(f, v)
			}
		}
		index = append(index, entry)
	}
	data, err := marshalIndent(index)
	if err != nil {
		return err
	}
	return write(t.fileName("", true), data)
}

// load replaces the table's rows with the persisted content. Every loaded
// row passes through Add, so defaults, constraints, and schema validation
// apply on load exactly as they do on insertion.
func (t *Table) load(retrieve retrieveFunc) error {
	t.rows = make(map[string]*Row)

	if t.class == classDocument {
		name := t.fileName("", false)
		data, err := retrieve(name)
		if err != nil {
			return err
		}
		doc := NewRow()
		if err := json.Unmarshal(data, doc); err != nil {
			return &ParseError{Name: name, Err: err}
		}
		_, err = t.Add(doc)
		return err
	}

	if t.groupBy == nil {
		name := t.fileName("", false)
		data, err := retrieve(name)
		if err != nil {
			return err
		}
		var docs []*Row
		if err := json.Unmarshal(data, &docs); err != nil {
			return &ParseError{Name: name, Err: err}
		}
		return t.addAll(docs)
	}

	idxName := t.fileName("", true)
	data, err := retrieve(idxName)
	if err != nil {
		return err
	}
	var index []*Row
	if err := json.Unmarshal(data, &index); err != nil {
		return &ParseError{Name: idxName, Err: err}
	}

	if slices.Equal(t.groupBy, t.pkFields) {
		for _, entry := range index {
			name, err := t.rowFileName(entry)
			if err != nil {
				return err
			}
			data, err := retrieve(name)
			if err != nil {
				return err
			}
			doc := NewRow()
			if err := json.Unmarshal(data, doc); err != nil {
				return &ParseError{Name: name, Err: err}
			}
			if _, err := t.Add(doc); err != nil {
				return err
			}
		}
		return nil
	}

	// Grouped layout: derive the distinct group keys from the index, then
	// load each group file once.
	seen := make(map[string]bool)
	var groupKeys []string
	for _, entry := range index {
		gk, err := canonicalKey(t.name, t.groupBy, entry.Get)
		if err != nil {
			return err
		}
		if !seen[gk] {
			seen[gk] = true
			groupKeys = append(groupKeys, gk)
		}
	}
	for _, gk := range groupKeys {
		name := t.fileName(gk, false)
		data, err := retrieve(name)
		if err != nil {
			return err
		}
		var docs []*Row
		if err := json.Unmarshal(data, &docs); err != nil {
			return &ParseError{Name: name, Err: err}
		}
		if err := t.addAll(docs); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) addAll(docs []*Row) error {
	for _, doc := range docs {
		if _, err := t.Add(doc); err != nil {
			return err
		}
	}
	return nil
}

// fileName builds a storage name: optional subfolder prefix, "#." prefix
// for index files, the table name, and an optional canonical key suffix.
func (t *Table) fileName(key string, index bool) string {
	name := t.name
	if index {
		name = "#." + t.name
	}
	if key != "" {
		name += "." + key
	}
	name += ".json"
	if t.subfolder != "" {
		name = t.subfolder + "/" + name
	}
	return name
}

func (t *Table) rowFileName(row *Row) (string, error) {
	key, err := canonicalKey(t.name, t.groupBy, row.Get)
	if err != nil {
		return "", err
	}
	return t.fileName(key, false), nil
}

// orderKeyFieldsFirst returns a view of the row with primary-key fields
// first, in declaration order, followed by the remaining fields in their
// insertion order. This keeps serialized documents diffable.
func (t *Table) orderKeyFieldsFirst(row *Row) *Row {
	if len(t.pkFields) == 0 {
		return row
	}
	out := NewRow()
	for _, f := range t.pkFields {
		if v, ok := row.Get(f); ok {
			out.Set(f, v)
		}
	}
	for name, value := range row.Fields() {
		if !out.Has(name) {
			out.Set(name, value)
		}
	}
	return out
}

func (t *Table) sortedKeys() []string {
	keys := make([]string, 0, len(t.rows))
	for k := range t.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// marshalIndent renders a document with 4-space indentation and no HTML
// escaping, with no trailing newline, matching the on-disk contract.
func marshalIndent(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
