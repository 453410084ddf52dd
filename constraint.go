package relib

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// ConstraintType tags the closed set of constraint variants.
type ConstraintType string

const (
	ConstraintPrimaryKey ConstraintType = "primary_key"
	ConstraintUnique     ConstraintType = "unique"
	ConstraintForeignKey ConstraintType = "foreign_key"
)

// Constraint declares an integrity rule on a table. Field lists are stored
// sorted so equal constraints compare equal regardless of declaration order.
// AliasFields and Table are set for foreign keys only: local Fields pair
// positionally with AliasFields on the target Table.
type Constraint struct {
	Type        ConstraintType `json:"type"`
	Fields      []string       `json:"fields"`
	AliasFields []string       `json:"alias_fields,omitempty"`
	Table       string         `json:"table,omitempty"`
}

func (c Constraint) equal(o Constraint) bool {
	return c.Type == o.Type &&
		c.Table == o.Table &&
		slices.Equal(c.Fields, o.Fields) &&
		slices.Equal(c.AliasFields, o.AliasFields)
}

func (c Constraint) String() string {
	if c.Type == ConstraintForeignKey {
		return fmt.Sprintf("%s(%s->%s.%s)", c.Type, strings.Join(c.Fields, ","), c.Table, strings.Join(c.AliasFields, ","))
	}
	return fmt.Sprintf("%s(%s)", c.Type, strings.Join(c.Fields, ","))
}

// checkConstraints runs every declared constraint against a candidate row,
// in declaration order, and returns the first violation. Primary-key and
// unique constraints require all constrained fields present and no existing
// row with the same values. Foreign keys are checked only when every local
// field is present; the referenced table must hold at least one match.
func (t *Table) checkConstraints(row *Row) error {
	for _, c := range t.constraints {
		switch c.Type {
		case ConstraintPrimaryKey, ConstraintUnique:
			criteria := make(map[string]any, len(c.Fields))
			for _, f := range c.Fields {
				v, ok := row.Get(f)
				if !ok {
					return newConstraintViolation(t.name, "row violates %s: field %q is missing", c, f)
				}
				criteria[f] = v
			}
			if found := t.Find(criteria); len(found) > 0 {
				return newConstraintViolation(t.name, "row violates %s: a row with these values already exists", c)
			}
		case ConstraintForeignKey:
			if !rowHasFields(row, c.Fields) {
				continue
			}
			found, err := t.resolveForeignKey(row, c)
			if err != nil {
				return err
			}
			if len(found) == 0 {
				return newConstraintViolation(t.name, "row violates %s: dangling reference", c)
			}
		}
	}
	return nil
}

// foreignRowsFor resolves the foreign-key relationship from this table to
// target and returns the target rows referenced by row. via, when non-empty,
// selects the relationship by its local field set; it is required when more
// than one relationship to target is declared.
func (t *Table) foreignRowsFor(row *Row, target string, via []string) ([]*Row, error) {
	viaSorted := sortedCopy(via)
	var match *Constraint
	for i := range t.constraints {
		c := &t.constraints[i]
		if c.Type != ConstraintForeignKey || c.Table != target {
			continue
		}
		if len(viaSorted) > 0 && !slices.Equal(viaSorted, c.Fields) {
			continue
		}
		if match != nil {
			return nil, &AmbiguousRelationError{Table: t.name, Target: target}
		}
		match = c
	}
	if match == nil {
		return nil, &NotFoundRelationError{Table: t.name, Target: target}
	}
	return t.resolveForeignKey(row, *match)
}

// resolveForeignKey translates row's local fields through the constraint's
// alias mapping and searches the target table.
func (t *Table) resolveForeignKey(row *Row, c Constraint) ([]*Row, error) {
	ft, err := t.store.table(c.Table)
	if err != nil {
		return nil, err
	}
	criteria := make(map[string]any, len(c.Fields))
	for i, local := range c.Fields {
		v, ok := row.Get(local)
		if !ok {
			return nil, newConstraintViolation(t.name, "cannot resolve %s: field %q is missing", c, local)
		}
		criteria[c.AliasFields[i]] = v
	}
	return ft.Find(criteria), nil
}

// hasKeyOn reports whether the table declares a primary-key or unique
// constraint over exactly the given sorted field set. Foreign keys may only
// target such field sets.
func (t *Table) hasKeyOn(sortedFields []string) bool {
	for _, c := range t.constraints {
		if (c.Type == ConstraintPrimaryKey || c.Type == ConstraintUnique) && slices.Equal(c.Fields, sortedFields) {
			return true
		}
	}
	return false
}

func (t *Table) addConstraint(c Constraint) {
	for _, have := range t.constraints {
		if have.equal(c) {
			return
		}
	}
	t.constraints = append(t.constraints, c)
}

func rowHasFields(row *Row, fields []string) bool {
	for _, f := range fields {
		if !row.Has(f) {
			return false
		}
	}
	return true
}

func sortedCopy(s []string) []string {
	out := slices.Clone(s)
	sort.Strings(out)
	return out
}

func validFieldNames(table string, fields []string) error {
	if len(fields) == 0 {
		return NewConfigurationError("table %s: constraint needs at least one field", table)
	}
	for _, f := range fields {
		if f == "" {
			return NewConfigurationError("table %s: empty field name in constraint", table)
		}
	}
	return nil
}
