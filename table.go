package relib

import (
	"regexp"
	"slices"
	"strings"
)

// tableClass is the closed set of table variants.
type tableClass string

const (
	classTable    tableClass = "table"
	classDocument tableClass = "document"
)

// Table names become file names, so they share the canonical-key alphabet
// restrictions. Names starting with "#" are reserved for system tables and
// bypass the pattern.
var tableNameRegexp = regexp.MustCompile(`^[a-z0-9.-]{1,50}$`)

// storeRef is the narrow view of a TableStore a table needs: foreign-key
// resolution by name and the schema validator. Tables never serialize it.
type storeRef interface {
	table(name string) (*Table, error)
	schemaValidator() SchemaValidator
}

// Table owns rows keyed by their canonical primary key and enforces the
// declared constraints, schema, and defaults on every admission. Create one
// through [TableStore.AddTable] or [TableStore.AddDocument]; a Table is
// bound to its store for its whole lifetime.
type Table struct {
	name        string
	class       tableClass
	pkFields    []string
	constraints []Constraint
	schema      map[string]any
	defaults    *Row
	groupBy     []string
	subfolder   string
	system      bool
	rows        map[string]*Row
	store       storeRef
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// IsSystem reports whether this is a reserved system table.
func (t *Table) IsSystem() bool { return t.system }

// IsDocument reports whether this is the single-row document variant.
func (t *Table) IsDocument() bool { return t.class == classDocument }

// PrimaryKey returns the primary-key field names in declaration order.
func (t *Table) PrimaryKey() []string { return slices.Clone(t.pkFields) }

// Constraints returns the declared constraints in declaration order.
func (t *Table) Constraints() []Constraint { return slices.Clone(t.constraints) }

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// AddPrimaryKey declares the ordered primary-key fields. The declaration
// order defines canonical-key and serialization order; the uniqueness
// constraint itself is order-insensitive.
func (t *Table) AddPrimaryKey(fields ...string) error {
	if t.class == classDocument {
		return NewConfigurationError("table %s: a document table cannot declare a primary key", t.name)
	}
	if err := validFieldNames(t.name, fields); err != nil {
		return err
	}
	t.pkFields = slices.Clone(fields)
	t.addConstraint(Constraint{Type: ConstraintPrimaryKey, Fields: sortedCopy(fields)})
	return nil
}

// AddUnique declares a uniqueness constraint over the given fields,
// independent of the primary key.
func (t *Table) AddUnique(fields ...string) error {
	if err := validFieldNames(t.name, fields); err != nil {
		return err
	}
	t.addConstraint(Constraint{Type: ConstraintUnique, Fields: sortedCopy(fields)})
	return nil
}

// AddForeignKey declares that the local fields reference aliasFields on the
// target table, which may be this table. aliasFields defaults to the local
// field names. The target must already declare a primary-key or unique
// constraint over exactly the alias fields, so dangling declarations fail
// here rather than at row insertion.
func (t *Table) AddForeignKey(fields []string, target string, aliasFields ...string) error {
	if err := validFieldNames(t.name, fields); err != nil {
		return err
	}
	alias := aliasFields
	if len(alias) == 0 {
		alias = fields
	}
	if len(alias) != len(fields) {
		return NewConfigurationError("table %s: foreign key has %d fields but %d alias fields", t.name, len(fields), len(alias))
	}
	ft, err := t.store.table(target)
	if err != nil {
		return err
	}
	sortedAlias := sortedCopy(alias)
	if !ft.hasKeyOn(sortedAlias) {
		return NewConfigurationError(
			"table %s: foreign key alias fields [%s] do not match a primary key or unique constraint on %s",
			t.name, strings.Join(sortedAlias, ","), target)
	}
	t.addConstraint(Constraint{
		Type:        ConstraintForeignKey,
		Fields:      sortedCopy(fields),
		AliasFields: sortedAlias,
		Table:       target,
	})
	return nil
}

// AddSchema declares the table's document schema and validates every
// existing row against it. The schema descriptor is an ordinary JSON-schema
// document; validation itself is delegated to the store's validator.
func (t *Table) AddSchema(schema map[string]any) error {
	t.schema = schema
	for _, row := range t.rows {
		if err := t.validateSchema(row); err != nil {
			return err
		}
	}
	return nil
}

// SetDefaults declares default field values, merged under caller-supplied
// fields whenever a row is added. String values starting with "@@" are
// dynamic markers resolved per call. On a document table the single row is
// re-materialized from the new defaults.
func (t *Table) SetDefaults(defaults *Row) error {
	t.defaults = defaults
	if t.class == classDocument {
		_, err := t.Add(nil)
		return err
	}
	return nil
}

// SetSubfolder prefixes every file this table writes with a folder name.
func (t *Table) SetSubfolder(name string) {
	t.subfolder = name
}

// SetRowsAsFiles switches the table from one-list-file serialization to
// split files. With no arguments every row gets its own file; with a subset
// of the primary-key fields, rows sharing those field values are grouped
// into one file per group. Requires a declared primary key.
func (t *Table) SetRowsAsFiles(groupBy ...string) error {
	if t.class == classDocument {
		return NewConfigurationError("table %s: a document table cannot be split into row files", t.name)
	}
	if len(t.pkFields) == 0 {
		return NewConfigurationError("table %s: declare a primary key before splitting rows into files", t.name)
	}
	if len(groupBy) == 0 {
		t.groupBy = slices.Clone(t.pkFields)
		return nil
	}
	for _, f := range groupBy {
		if !slices.Contains(t.pkFields, f) {
			return NewConfigurationError("table %s: group field %q is not part of the primary key", t.name, f)
		}
	}
	t.groupBy = slices.Clone(groupBy)
	return nil
}

// Add admits a row: defaults are merged under the caller's fields, all
// constraints and the schema are checked, and the row is inserted under its
// canonical key. On a document table the existing row is replaced. The
// returned row is the stored, fully materialized document.
func (t *Table) Add(row *Row) (*Row, error) {
	target, key, err := t.materialize(row)
	if err != nil {
		return nil, err
	}
	t.rows[key] = target
	return target, nil
}

// Check validates a row exactly like [Table.Add] without inserting it.
// Stored rows are never touched, so a failed check leaves a document table's
// row byte-for-byte unchanged.
func (t *Table) Check(row *Row) (*Row, error) {
	target, _, err := t.materialize(row)
	if err != nil {
		return nil, err
	}
	return target, nil
}

func (t *Table) materialize(row *Row) (*Row, string, error) {
	target := t.defaultRow()
	if row != nil {
		for name, value := range row.Fields() {
			target.Set(name, value)
		}
	}
	if err := t.checkConstraints(target); err != nil {
		return nil, "", err
	}
	if err := t.validateSchema(target); err != nil {
		return nil, "", err
	}
	key, err := t.keyForRow(target)
	if err != nil {
		return nil, "", err
	}
	if t.class == classTable {
		if _, exists := t.rows[key]; exists {
			return nil, "", newConstraintViolation(t.name, "a row with key %q already exists", key)
		}
	}
	return target, key, nil
}

// Get canonicalizes the key fields and returns the matching row, or nil
// when no such row exists. Only canonicalization itself can fail.
func (t *Table) Get(key map[string]any) (*Row, error) {
	k, err := t.keyFromMap(key)
	if err != nil {
		return nil, err
	}
	return t.rows[k], nil
}

// Remove deletes the row with the given key. Removing from a document table
// is illegal: its single row must always exist.
func (t *Table) Remove(key map[string]any) error {
	if t.class == classDocument {
		return NewConfigurationError("table %s: remove is illegal on a document table", t.name)
	}
	k, err := t.keyFromMap(key)
	if err != nil {
		return err
	}
	if _, ok := t.rows[k]; !ok {
		return NewNotFoundError("table %s: no row with key %q", t.name, k)
	}
	delete(t.rows, k)
	return nil
}

// Find returns all rows whose fields match every criteria entry exactly; a
// row lacking a criteria field is excluded. Nil criteria returns all rows.
// Order is unspecified. The returned rows are the live documents.
func (t *Table) Find(criteria map[string]any) []*Row {
	out := make([]*Row, 0, len(t.rows))
	for _, row := range t.rows {
		if rowMatches(row, criteria) {
			out = append(out, row)
		}
	}
	return out
}

// ForeignRows looks up the row for key, resolves the declared relationship
// to the target table, and returns the referenced rows. via selects the
// relationship by local field set when more than one is declared.
func (t *Table) ForeignRows(key map[string]any, target string, via ...string) ([]*Row, error) {
	row, err := t.Get(key)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, NewNotFoundError("table %s: no row for foreign lookup", t.name)
	}
	return t.foreignRowsFor(row, target, via)
}

func (t *Table) keyForRow(row *Row) (string, error) {
	if t.class == classDocument {
		return "", nil
	}
	return canonicalKey(t.name, t.pkFields, row.Get)
}

func (t *Table) keyFromMap(m map[string]any) (string, error) {
	if t.class == classDocument {
		return "", nil
	}
	return canonicalKey(t.name, t.pkFields, func(f string) (any, bool) {
		v, ok := m[f]
		return v, ok
	})
}

func (t *Table) validateSchema(row *Row) error {
	if t.schema == nil {
		return nil
	}
	v := t.store.schemaValidator()
	if v == nil {
		return nil
	}
	if err := v.Validate(row.Map(), t.schema); err != nil {
		return newConstraintViolation(t.name, "schema: %s", err)
	}
	return nil
}

func rowMatches(row *Row, criteria map[string]any) bool {
	for field, want := range criteria {
		have, ok := row.Get(field)
		if !ok || !valueEqual(want, have) {
			return false
		}
	}
	return true
}
