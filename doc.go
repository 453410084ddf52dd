// Package relib is an embedded relational data store for JSON documents.
//
// # Overview
//
// A [TableStore] holds named [Table] values whose rows are free-form JSON
// objects with declared primary keys, unique constraints, and foreign keys,
// optionally checked against a JSON Schema on every admission.
// [DocumentTable] is the single-row variant for configuration documents.
// The whole store serializes to human-diffable JSON files through a
// [Backend], with a choice of layouts per table: one file for the whole
// table, one file per row, or one file per row group.
//
// # Persistence
//
// Backends are addressed by URL; the memory backend is built in, and the
// fsbackend, gitbackend, and s3backend packages register "file", "git",
// and "s3" in their init functions. A save writes the topology document
// "#tsdef.json", then every user table, then the system metadata document
// "#tsmeta", which tracks a content checksum per table and a store version
// that increments exactly once per save that changed a user table.
//
// # Admission
//
// Every row entering a table, whether from [Table.Add] or from a backend
// load, is materialized the same way: table defaults (with dynamic "@@"
// markers resolved) merged under the caller's fields, constraints checked,
// schema validated, and the row stored under its canonical key.
//
// A TableStore and its tables are not safe for concurrent use.
package relib
