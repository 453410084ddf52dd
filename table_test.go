package relib

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// typeValidator is a minimal schema checker for tests: it understands
// "required" and per-property "type" for strings and numbers. The real
// validator lives in the schemaval package; the store only sees the
// interface.
type typeValidator struct{}

func (typeValidator) Validate(doc, schema map[string]any) error {
	if req, ok := schema["required"].([]any); ok {
		for _, f := range req {
			name := f.(string)
			if _, ok := doc[name]; !ok {
				return fmt.Errorf("missing required field %q", name)
			}
		}
	}
	props, _ := schema["properties"].(map[string]any)
	for name, raw := range props {
		spec, _ := raw.(map[string]any)
		want, _ := spec["type"].(string)
		v, ok := doc[name]
		if !ok || want == "" {
			continue
		}
		switch want {
		case "string":
			if _, ok := v.(string); !ok {
				return fmt.Errorf("field %q: want string, got %T", name, v)
			}
		case "integer", "number":
			if _, ok := toFloat(v); !ok {
				return fmt.Errorf("field %q: want %s, got %T", name, want, v)
			}
		case "boolean":
			if _, ok := v.(bool); !ok {
				return fmt.Errorf("field %q: want boolean, got %T", name, v)
			}
		}
	}
	return nil
}

func TestTableNames(t *testing.T) {
	s := newTestStore(t)
	tests := []struct {
		name  string
		table string
		ok    bool
	}{
		{"lowercase", "users", true},
		{"digits and dots", "v2.users-2024", true},
		{"system prefix bypasses pattern", "#Custom_Meta", true},
		{"uppercase", "Users", false},
		{"underscore", "user_names", false},
		{"slash", "a/b", false},
		{"empty", "", false},
		{"too long", strings.Repeat("a", 51), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.AddTable(tt.table)
			if tt.ok && err != nil {
				t.Errorf("AddTable(%q) error: %v", tt.table, err)
			}
			if !tt.ok {
				var cfg *ConfigurationError
				if !errors.As(err, &cfg) {
					t.Errorf("AddTable(%q) error = %v, want ConfigurationError", tt.table, err)
				}
			}
		})
	}

	t.Run("duplicate name", func(t *testing.T) {
		_, err := s.AddTable("users")
		var cfg *ConfigurationError
		if !errors.As(err, &cfg) {
			t.Errorf("AddTable(users) again error = %v, want ConfigurationError", err)
		}
	})
}

func TestTable(t *testing.T) {
	t.Run("insert get remove", func(t *testing.T) {
		s := newTestStore(t)
		users, err := s.AddTable("users")
		if err != nil {
			t.Fatalf("AddTable failed: %v", err)
		}
		if err := users.AddPrimaryKey("id"); err != nil {
			t.Fatalf("AddPrimaryKey failed: %v", err)
		}
		if err := users.SetDefaults(NewRow().Set("active", true)); err != nil {
			t.Fatalf("SetDefaults failed: %v", err)
		}

		mustAdd(t, users, NewRow().Set("id", "u1").Set("name", "Ann"))

		got, err := users.Get(map[string]any{"id": "u1"})
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got == nil {
			t.Fatal("Get returned nil for existing row")
		}
		if v, _ := got.Get("name"); v != "Ann" {
			t.Errorf("name = %v, want Ann", v)
		}
		if v, _ := got.Get("active"); v != true {
			t.Errorf("active = %v, want default true", v)
		}

		if err := users.Remove(map[string]any{"id": "u1"}); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		got, err = users.Get(map[string]any{"id": "u1"})
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got != nil {
			t.Errorf("Get after Remove = %v, want nil", got)
		}

		err = users.Remove(map[string]any{"id": "u1"})
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			t.Errorf("Remove of missing row error = %v, want NotFoundError", err)
		}
	})

	t.Run("composite primary key", func(t *testing.T) {
		s := newTestStore(t)
		tbl, _ := s.AddTable("events")
		if err := tbl.AddPrimaryKey("org", "seq"); err != nil {
			t.Fatalf("AddPrimaryKey failed: %v", err)
		}
		mustAdd(t, tbl, NewRow().Set("org", "acme").Set("seq", 1))
		got, err := tbl.Get(map[string]any{"org": "acme", "seq": 1})
		if err != nil || got == nil {
			t.Fatalf("Get = (%v, %v), want row", got, err)
		}
		// Same canonical key regardless of map construction order.
		got, err = tbl.Get(map[string]any{"seq": 1, "org": "acme"})
		if err != nil || got == nil {
			t.Fatalf("Get with reordered key = (%v, %v), want row", got, err)
		}
	})

	t.Run("get with incomplete key", func(t *testing.T) {
		s := newTestStore(t)
		tbl, _ := s.AddTable("events")
		if err := tbl.AddPrimaryKey("org", "seq"); err != nil {
			t.Fatalf("AddPrimaryKey failed: %v", err)
		}
		_, err := tbl.Get(map[string]any{"org": "acme"})
		var missing *MissingKeyFieldsError
		if !errors.As(err, &missing) {
			t.Errorf("Get() error = %v, want MissingKeyFieldsError", err)
		}
	})

	t.Run("find", func(t *testing.T) {
		s := newTestStore(t)
		users := usersTable(t, s)
		mustAdd(t, users, NewRow().Set("id", "u1").Set("email", "a@x.io").Set("role", "admin"))
		mustAdd(t, users, NewRow().Set("id", "u2").Set("email", "b@x.io").Set("role", "admin"))
		mustAdd(t, users, NewRow().Set("id", "u3").Set("email", "c@x.io").Set("role", "viewer"))

		tests := []struct {
			name     string
			criteria map[string]any
			want     int
		}{
			{"single match field", map[string]any{"role": "admin"}, 2},
			{"two fields", map[string]any{"role": "admin", "id": "u1"}, 1},
			{"no match", map[string]any{"role": "owner"}, 0},
			{"absent field excludes", map[string]any{"missing": 1}, 0},
			{"nil criteria returns all", nil, 3},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if got := len(users.Find(tt.criteria)); got != tt.want {
					t.Errorf("len(Find()) = %d, want %d", got, tt.want)
				}
			})
		}
	})

	t.Run("check does not insert", func(t *testing.T) {
		s := newTestStore(t)
		users := usersTable(t, s)
		if err := users.SetDefaults(NewRow().Set("active", true)); err != nil {
			t.Fatalf("SetDefaults failed: %v", err)
		}
		checked, err := users.Check(NewRow().Set("id", "u1").Set("email", "a@x.io"))
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if v, _ := checked.Get("active"); v != true {
			t.Errorf("checked row active = %v, want default merged", v)
		}
		if users.Len() != 0 {
			t.Errorf("Len() = %d after Check, want 0", users.Len())
		}
	})

	t.Run("schema validation", func(t *testing.T) {
		s := newTestStore(t)
		s.SetValidator(typeValidator{})
		users := usersTable(t, s)
		if err := users.AddSchema(map[string]any{
			"type":       "object",
			"properties": map[string]any{"name": map[string]any{"type": "string"}},
			"required":   []any{"name"},
		}); err != nil {
			t.Fatalf("AddSchema failed: %v", err)
		}

		t.Run("conforming row", func(t *testing.T) {
			mustAdd(t, users, NewRow().Set("id", "u1").Set("email", "a@x.io").Set("name", "Ann"))
		})
		t.Run("wrong type", func(t *testing.T) {
			_, err := users.Add(NewRow().Set("id", "u2").Set("email", "b@x.io").Set("name", 7))
			var cv *ConstraintViolation
			if !errors.As(err, &cv) {
				t.Fatalf("Add() error = %v, want ConstraintViolation", err)
			}
		})
		t.Run("missing required", func(t *testing.T) {
			_, err := users.Add(NewRow().Set("id", "u3").Set("email", "c@x.io"))
			var cv *ConstraintViolation
			if !errors.As(err, &cv) {
				t.Fatalf("Add() error = %v, want ConstraintViolation", err)
			}
		})
		t.Run("declaring a schema revalidates existing rows", func(t *testing.T) {
			err := users.AddSchema(map[string]any{
				"type":       "object",
				"properties": map[string]any{"name": map[string]any{"type": "integer"}},
			})
			var cv *ConstraintViolation
			if !errors.As(err, &cv) {
				t.Fatalf("AddSchema() error = %v, want ConstraintViolation", err)
			}
		})
	})

	t.Run("foreign rows", func(t *testing.T) {
		setup := func(t *testing.T) *TableStore {
			s := newTestStore(t)
			users := usersTable(t, s)
			mustAdd(t, users, NewRow().Set("id", "u1").Set("email", "a@x.io"))
			return s
		}

		t.Run("resolves", func(t *testing.T) {
			s := setup(t)
			orders, _ := s.AddTable("orders")
			if err := orders.AddPrimaryKey("id"); err != nil {
				t.Fatal(err)
			}
			if err := orders.AddForeignKey([]string{"user_id"}, "users", "id"); err != nil {
				t.Fatal(err)
			}
			mustAdd(t, orders, NewRow().Set("id", "o1").Set("user_id", "u1"))
			rows, err := orders.ForeignRows(map[string]any{"id": "o1"}, "users")
			if err != nil {
				t.Fatalf("ForeignRows failed: %v", err)
			}
			if len(rows) != 1 {
				t.Fatalf("len(rows) = %d, want 1", len(rows))
			}
			if v, _ := rows[0].Get("id"); v != "u1" {
				t.Errorf("foreign row id = %v, want u1", v)
			}
		})

		t.Run("no relationship", func(t *testing.T) {
			s := setup(t)
			orders, _ := s.AddTable("orders")
			if err := orders.AddPrimaryKey("id"); err != nil {
				t.Fatal(err)
			}
			mustAdd(t, orders, NewRow().Set("id", "o1"))
			_, err := orders.ForeignRows(map[string]any{"id": "o1"}, "users")
			var nrel *NotFoundRelationError
			if !errors.As(err, &nrel) {
				t.Fatalf("ForeignRows() error = %v, want NotFoundRelationError", err)
			}
		})

		t.Run("ambiguous without via", func(t *testing.T) {
			s := setup(t)
			users, _ := s.GetTable("users")
			mustAdd(t, users, NewRow().Set("id", "u2").Set("email", "b@x.io"))
			reviews, _ := s.AddTable("reviews")
			if err := reviews.AddPrimaryKey("id"); err != nil {
				t.Fatal(err)
			}
			if err := reviews.AddForeignKey([]string{"author_id"}, "users", "id"); err != nil {
				t.Fatal(err)
			}
			if err := reviews.AddForeignKey([]string{"subject_id"}, "users", "id"); err != nil {
				t.Fatal(err)
			}
			mustAdd(t, reviews, NewRow().Set("id", "r1").Set("author_id", "u1").Set("subject_id", "u2"))

			_, err := reviews.ForeignRows(map[string]any{"id": "r1"}, "users")
			var amb *AmbiguousRelationError
			if !errors.As(err, &amb) {
				t.Fatalf("ForeignRows() error = %v, want AmbiguousRelationError", err)
			}

			rows, err := reviews.ForeignRows(map[string]any{"id": "r1"}, "users", "subject_id")
			if err != nil {
				t.Fatalf("ForeignRows(via subject_id) failed: %v", err)
			}
			if v, _ := rows[0].Get("id"); v != "u2" {
				t.Errorf("foreign row id = %v, want u2", v)
			}
		})

		t.Run("missing source row", func(t *testing.T) {
			s := setup(t)
			orders, _ := s.AddTable("orders")
			if err := orders.AddPrimaryKey("id"); err != nil {
				t.Fatal(err)
			}
			if err := orders.AddForeignKey([]string{"user_id"}, "users", "id"); err != nil {
				t.Fatal(err)
			}
			_, err := orders.ForeignRows(map[string]any{"id": "nope"}, "users")
			var nf *NotFoundError
			if !errors.As(err, &nf) {
				t.Fatalf("ForeignRows() error = %v, want NotFoundError", err)
			}
		})
	})

	t.Run("rows as files guards", func(t *testing.T) {
		s := newTestStore(t)
		tbl, _ := s.AddTable("logs")
		t.Run("requires primary key", func(t *testing.T) {
			var cfg *ConfigurationError
			if err := tbl.SetRowsAsFiles(); !errors.As(err, &cfg) {
				t.Errorf("SetRowsAsFiles() error = %v, want ConfigurationError", err)
			}
		})
		if err := tbl.AddPrimaryKey("day", "id"); err != nil {
			t.Fatal(err)
		}
		t.Run("group field outside primary key", func(t *testing.T) {
			var cfg *ConfigurationError
			if err := tbl.SetRowsAsFiles("host"); !errors.As(err, &cfg) {
				t.Errorf("SetRowsAsFiles(host) error = %v, want ConfigurationError", err)
			}
		})
		t.Run("subset accepted", func(t *testing.T) {
			if err := tbl.SetRowsAsFiles("day"); err != nil {
				t.Errorf("SetRowsAsFiles(day) error: %v", err)
			}
		})
	})
}
