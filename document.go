package relib

// DocumentTable is the single-row table variant: no primary key, exactly one
// row at all times, serialized as one document rather than a list. Its
// canonical key is the empty string, so every [Table.Add] replaces the
// current document wholesale.
type DocumentTable struct {
	*Table
}

// Get returns the current document. A document table always holds exactly
// one row, seeded empty at creation.
func (d *DocumentTable) Get() *Row {
	return d.rows[""]
}

// Set replaces the document, running defaults, constraints, and schema
// validation like any other admission. It returns the stored document.
func (d *DocumentTable) Set(doc *Row) (*Row, error) {
	return d.Add(doc)
}

// Field returns a field of the current document.
func (d *DocumentTable) Field(name string) (any, bool) {
	doc := d.Get()
	if doc == nil {
		return nil, false
	}
	return doc.Get(name)
}
