package relib

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDefaults(t *testing.T) {
	t.Run("merged under caller fields", func(t *testing.T) {
		s := newTestStore(t)
		users := usersTable(t, s)
		if err := users.SetDefaults(NewRow().Set("active", true).Set("name", "unnamed")); err != nil {
			t.Fatalf("SetDefaults failed: %v", err)
		}
		row := mustAdd(t, users, NewRow().Set("id", "u1").Set("email", "a@x.io").Set("name", "Ann"))
		if v, _ := row.Get("active"); v != true {
			t.Errorf("active = %v, want true", v)
		}
		// The caller's value wins over the default.
		if v, _ := row.Get("name"); v != "Ann" {
			t.Errorf("name = %v, want Ann", v)
		}
	})

	t.Run("utcnow marker", func(t *testing.T) {
		s := newTestStore(t)
		users := usersTable(t, s)
		if err := users.SetDefaults(NewRow().Set("created_on", "@@utcnow")); err != nil {
			t.Fatalf("SetDefaults failed: %v", err)
		}
		row := mustAdd(t, users, NewRow().Set("id", "u1").Set("email", "a@x.io"))
		v, _ := row.Get("created_on")
		ts, ok := v.(string)
		if !ok {
			t.Fatalf("created_on = %v (%T), want string", v, v)
		}
		if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
			t.Errorf("created_on %q is not a timestamp: %v", ts, err)
		}
	})

	t.Run("uuid4 marker", func(t *testing.T) {
		s := newTestStore(t)
		users := usersTable(t, s)
		if err := users.SetDefaults(NewRow().Set("token", "@@uuid4")); err != nil {
			t.Fatalf("SetDefaults failed: %v", err)
		}
		r1 := mustAdd(t, users, NewRow().Set("id", "u1").Set("email", "a@x.io"))
		r2 := mustAdd(t, users, NewRow().Set("id", "u2").Set("email", "b@x.io"))
		v1, _ := r1.Get("token")
		v2, _ := r2.Get("token")
		if _, err := uuid.Parse(v1.(string)); err != nil {
			t.Errorf("token %v is not a uuid: %v", v1, err)
		}
		if v1 == v2 {
			t.Error("two rows got the same uuid default")
		}
	})

	t.Run("ksid marker", func(t *testing.T) {
		s := newTestStore(t)
		users := usersTable(t, s)
		if err := users.SetDefaults(NewRow().Set("seq", "@@ksid")); err != nil {
			t.Fatalf("SetDefaults failed: %v", err)
		}
		r1 := mustAdd(t, users, NewRow().Set("id", "u1").Set("email", "a@x.io"))
		r2 := mustAdd(t, users, NewRow().Set("id", "u2").Set("email", "b@x.io"))
		v1, _ := r1.Get("seq")
		v2, _ := r2.Get("seq")
		if v1 == "" || v1 == v2 {
			t.Errorf("ksid defaults not unique: %v, %v", v1, v2)
		}
	})

	t.Run("unknown marker kept literally", func(t *testing.T) {
		s := newTestStore(t)
		users := usersTable(t, s)
		if err := users.SetDefaults(NewRow().Set("x", "@@nope")); err != nil {
			t.Fatalf("SetDefaults failed: %v", err)
		}
		row := mustAdd(t, users, NewRow().Set("id", "u1").Set("email", "a@x.io"))
		if v, _ := row.Get("x"); v != "@@nope" {
			t.Errorf("x = %v, want the literal marker", v)
		}
	})

	t.Run("container defaults are copied per row", func(t *testing.T) {
		s := newTestStore(t)
		users := usersTable(t, s)
		if err := users.SetDefaults(NewRow().Set("tags", []any{"new"})); err != nil {
			t.Fatalf("SetDefaults failed: %v", err)
		}
		r1 := mustAdd(t, users, NewRow().Set("id", "u1").Set("email", "a@x.io"))
		v1, _ := r1.Get("tags")
		v1.([]any)[0] = "mutated"
		r2 := mustAdd(t, users, NewRow().Set("id", "u2").Set("email", "b@x.io"))
		v2, _ := r2.Get("tags")
		if v2.([]any)[0] != "new" {
			t.Error("default container shared between rows")
		}
	})
}
