package relib

import (
	"fmt"
	"strings"
)

// ConfigurationError reports an invalid declaration: a bad table or field
// name, an invalid constraint, or an operation that is illegal for the
// table variant it was called on. Always fatal at declaration time.
type ConfigurationError struct {
	msg string
}

func (e *ConfigurationError) Error() string { return e.msg }

// NewConfigurationError formats a new ConfigurationError.
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{msg: fmt.Sprintf(format, args...)}
}

// ConstraintViolation reports a row that failed admission: a uniqueness
// clash, a dangling foreign key, or schema non-conformance. The table is
// left unmodified for that row.
type ConstraintViolation struct {
	Table string
	msg   string
}

func (e *ConstraintViolation) Error() string {
	return fmt.Sprintf("table %s: %s", e.Table, e.msg)
}

func newConstraintViolation(table, format string, args ...any) *ConstraintViolation {
	return &ConstraintViolation{Table: table, msg: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing row or a missing named blob. Recoverable
// by the caller; never retried internally.
type NotFoundError struct {
	msg string
}

func (e *NotFoundError) Error() string { return e.msg }

// NewNotFoundError formats a new NotFoundError. Backends use it to signal
// that a named blob does not exist.
func NewNotFoundError(format string, args ...any) *NotFoundError {
	return &NotFoundError{msg: fmt.Sprintf(format, args...)}
}

// KeyFormatError reports a canonical key whose rendered value is unsafe for
// use as a storage name.
type KeyFormatError struct {
	Table string
	Key   string
}

func (e *KeyFormatError) Error() string {
	return fmt.Sprintf("table %s: canonical key %q contains illegal characters or is too long", e.Table, e.Key)
}

// MissingKeyFieldsError reports a key mapping that lacks one or more of the
// fields required to form a canonical key.
type MissingKeyFieldsError struct {
	Table   string
	Missing []string
}

func (e *MissingKeyFieldsError) Error() string {
	return fmt.Sprintf("table %s: missing key fields: %s", e.Table, strings.Join(e.Missing, ", "))
}

// ParseError reports a malformed document encountered during load. It always
// identifies the offending file.
type ParseError struct {
	Name string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %s", e.Name, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// UnknownTableError reports a lookup of a table name that is not registered
// on the store.
type UnknownTableError struct {
	Name string
}

func (e *UnknownTableError) Error() string {
	return fmt.Sprintf("unknown table %q", e.Name)
}

// UnknownVariantError reports an unrecognized class tag in a serialized
// store definition.
type UnknownVariantError struct {
	Tag string
}

func (e *UnknownVariantError) Error() string {
	return fmt.Sprintf("unknown variant tag %q in definition", e.Tag)
}

// AmbiguousRelationError reports a foreign-row lookup that matched more than
// one declared relationship and was given no disambiguating fields.
type AmbiguousRelationError struct {
	Table  string
	Target string
}

func (e *AmbiguousRelationError) Error() string {
	return fmt.Sprintf("table %s: more than one relation to %s, disambiguating fields required", e.Table, e.Target)
}

// NotFoundRelationError reports a foreign-row lookup against a table with no
// declared relationship to the target.
type NotFoundRelationError struct {
	Table  string
	Target string
}

func (e *NotFoundRelationError) Error() string {
	return fmt.Sprintf("table %s: no relation to %s", e.Table, e.Target)
}
