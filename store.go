package relib

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SchemaValidator checks a document against a JSON Schema. The store holds
// at most one; tables reach it through their store when admitting rows.
// See the schemaval package for the standard implementation.
type SchemaValidator interface {
	Validate(doc, schema map[string]any) error
}

// TableStore owns an ordered collection of tables plus the "#tsmeta"
// system document tracking per-table checksums and the store version.
// Tables must be declared before any table that references them, so the
// slice is always a valid dependency order for loading.
//
// A TableStore is not safe for concurrent use.
type TableStore struct {
	tables    []*Table
	byName    map[string]*Table
	origin    string
	validator SchemaValidator
}

// NewTableStore returns an empty store holding only the seeded "#tsmeta"
// document, with origin "clean".
func NewTableStore() (*TableStore, error) {
	s := &TableStore{
		byName: make(map[string]*Table),
		origin: "clean",
	}
	if err := s.seedMetaTable(); err != nil {
		return nil, fmt.Errorf("failed to seed metadata table: %w", err)
	}
	return s, nil
}

// SetValidator installs the schema validator used on every admission from
// now on. Passing nil disables schema validation.
func (s *TableStore) SetValidator(v SchemaValidator) {
	s.validator = v
}

// AddTable declares a new row table. Names become file names, so they must
// match the lowercase table-name pattern.
func (s *TableStore) AddTable(name string) (*Table, error) {
	return s.addTable(name, classTable)
}

// AddDocument declares a new document table and seeds its single row from
// the table defaults (initially empty).
func (s *TableStore) AddDocument(name string) (*DocumentTable, error) {
	t, err := s.addTable(name, classDocument)
	if err != nil {
		return nil, err
	}
	d := &DocumentTable{Table: t}
	if _, err := d.Set(nil); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *TableStore) addTable(name string, class tableClass) (*Table, error) {
	if !strings.HasPrefix(name, "#") && !tableNameRegexp.MatchString(name) {
		return nil, NewConfigurationError("table name %q does not match pattern %q", name, tableNameRegexp)
	}
	if s.byName[name] != nil {
		return nil, NewConfigurationError("table %q already exists", name)
	}
	t := &Table{
		name:  name,
		class: class,
		rows:  make(map[string]*Row),
		store: s,
	}
	s.tables = append(s.tables, t)
	s.byName[name] = t
	return t, nil
}

// GetTable returns the named table, system tables included.
func (s *TableStore) GetTable(name string) (*Table, error) {
	t := s.byName[name]
	if t == nil {
		return nil, &UnknownTableError{Name: name}
	}
	return t, nil
}

// GetDocument returns the named table as a document table.
func (s *TableStore) GetDocument(name string) (*DocumentTable, error) {
	t, err := s.GetTable(name)
	if err != nil {
		return nil, err
	}
	if t.class != classDocument {
		return nil, NewConfigurationError("table %q is not a document table", name)
	}
	return &DocumentTable{Table: t}, nil
}

// Meta returns the "#tsmeta" system document. It always exists.
func (s *TableStore) Meta() *DocumentTable {
	return &DocumentTable{Table: s.byName[metaTableName]}
}

// Tables returns the user tables in declaration order, system tables
// excluded.
func (s *TableStore) Tables() []*Table {
	out := make([]*Table, 0, len(s.tables))
	for _, t := range s.tables {
		if !t.system {
			out = append(out, t)
		}
	}
	return out
}

// Origin identifies the backend this store was last loaded from, or
// "clean" for a store built in memory.
func (s *TableStore) Origin() string {
	return s.origin
}

// table and schemaValidator implement storeRef for the tables.
func (s *TableStore) table(name string) (*Table, error) {
	return s.GetTable(name)
}

func (s *TableStore) schemaValidator() SchemaValidator {
	return s.validator
}

// SaveToBackend writes the whole store as one batch: topology first, then
// user tables, then, once a user-table change has been detected and the
// version bumped, the system tables. The metadata document therefore
// records what this very save wrote, except its own entry, which always
// reflects the previous save.
func (s *TableStore) SaveToBackend(ctx context.Context, b Backend) error {
	if err := b.BeginBatch(ctx); err != nil {
		return fmt.Errorf("failed to begin batch on %s: %w", b, err)
	}
	def, err := s.Definition()
	if err != nil {
		return err
	}
	if err := b.Persist(ctx, defFileName, def); err != nil {
		return fmt.Errorf("failed to persist %s: %w", defFileName, err)
	}

	persist := func(name string, data []byte) error {
		return b.Persist(ctx, name, data)
	}
	before, _ := s.Meta().Field("last_modified")
	for _, t := range s.tables {
		if t.system {
			continue
		}
		if err := s.saveTable(t, persist); err != nil {
			return err
		}
	}
	if after, _ := s.Meta().Field("last_modified"); before != after {
		s.bumpVersion()
	}
	for _, t := range s.tables {
		if !t.system {
			continue
		}
		if err := s.saveTable(t, persist); err != nil {
			return err
		}
	}
	if err := b.CommitBatch(ctx); err != nil {
		return fmt.Errorf("failed to commit batch on %s: %w", b, err)
	}
	return nil
}

func (s *TableStore) saveTable(t *Table, persist persistFunc) error {
	cs, err := t.save(persist)
	if err != nil {
		return fmt.Errorf("failed to save table %q: %w", t.name, err)
	}
	tm := s.GetTableMetadata(t.name)
	if tm["md5"] != cs {
		tm["md5"] = cs
		tm["last_modified"] = utcTimestamp()
		if !t.system {
			if doc := s.Meta().Get(); doc != nil {
				doc.Set("last_modified", utcTimestamp())
			}
		}
	}
	return nil
}

func (s *TableStore) bumpVersion() {
	doc := s.Meta().Get()
	if doc == nil {
		return
	}
	v, _ := doc.Get("version")
	if n, ok := toInt(v); ok {
		doc.Set("version", int(n)+1)
	}
}

// LoadFromBackend replaces the store's topology and data with the
// backend's content and records the backend as the new origin.
func (s *TableStore) LoadFromBackend(ctx context.Context, b Backend) error {
	data, err := b.Retrieve(ctx, defFileName)
	if err != nil {
		return fmt.Errorf("failed to retrieve %s from %s: %w", defFileName, b, err)
	}
	if err := s.InitFromDefinition(data); err != nil {
		return err
	}
	return s.loadData(ctx, b)
}

// LoadDataFromBackend reloads row data for the store's current topology,
// ignoring the topology stored in the backend.
func (s *TableStore) LoadDataFromBackend(ctx context.Context, b Backend) error {
	return s.loadData(ctx, b)
}

func (s *TableStore) loadData(ctx context.Context, b Backend) error {
	retrieve := func(name string) ([]byte, error) {
		return b.Retrieve(ctx, name)
	}
	for _, t := range s.tables {
		if err := t.load(retrieve); err != nil {
			return fmt.Errorf("failed to load table %q: %w", t.name, err)
		}
	}
	s.origin = b.String()
	if doc := s.Meta().Get(); doc != nil {
		doc.Set("origin", s.origin)
	}
	return nil
}

// GetTableMetadata returns the metadata record for the named table,
// creating an empty one in the metadata document on first use. The
// returned map is the live record; mutations stick.
func (s *TableStore) GetTableMetadata(name string) map[string]any {
	doc := s.Meta().Get()
	if doc == nil {
		return map[string]any{"table_name": name, "md5": "", "last_modified": ""}
	}
	v, _ := doc.Get("tables")
	list, _ := v.([]any)
	for _, item := range list {
		if m, ok := item.(map[string]any); ok && m["table_name"] == name {
			return m
		}
	}
	m := map[string]any{"table_name": name, "md5": "", "last_modified": ""}
	doc.Set("tables", append(list, m))
	return m
}

// RefreshMetadata recomputes checksums, timestamps, and the version by
// saving to a throwaway memory backend.
func (s *TableStore) RefreshMetadata(ctx context.Context) error {
	return s.SaveToBackend(ctx, NewMemBackend("tmp"))
}

// CopyStore returns a stand-alone deep copy of a store, round-tripped
// through a scratch memory backend.
func CopyStore(ctx context.Context, src *TableStore) (*TableStore, error) {
	b := NewMemBackend(uuid.NewString())
	if err := src.SaveToBackend(ctx, b); err != nil {
		return nil, err
	}
	dst, err := NewTableStore()
	if err != nil {
		return nil, err
	}
	dst.validator = src.validator
	if err := dst.LoadFromBackend(ctx, b); err != nil {
		return nil, err
	}
	return dst, nil
}

// StoreFromURL creates the backend for a URL and loads a store from it.
func StoreFromURL(ctx context.Context, rawURL string) (*TableStore, error) {
	b, err := CreateBackend(rawURL)
	if err != nil {
		return nil, err
	}
	s, err := NewTableStore()
	if err != nil {
		return nil, err
	}
	if err := s.LoadFromBackend(ctx, b); err != nil {
		return nil, err
	}
	return s, nil
}
