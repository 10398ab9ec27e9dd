package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tjfontaine/testernest-go/internal/core/ports"
)

func TestSQLiteStore_ApplyAndGet(t *testing.T) {
	// Use in-memory SQLite with shared cache for testing
	store, err := New("file:memdb1?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	err = store.Apply(ctx, ports.Mutation{Set: map[string]string{
		"base_url":   "https://example.com",
		"public_key": "pk_1",
	}})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	got, ok, err := store.Get(ctx, "base_url")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok || got != "https://example.com" {
		t.Errorf("Get() = %q, %v, want https://example.com, true", got, ok)
	}

	if _, ok, err := store.Get(ctx, "access_token"); err != nil || ok {
		t.Errorf("Get(missing) = %v, %v, want false, nil", ok, err)
	}
}

func TestSQLiteStore_OverwriteAndDelete(t *testing.T) {
	store, err := New("file:memdb2?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	_ = store.Apply(ctx, ports.Mutation{Set: map[string]string{"access_token": "a", "tester_id": "t1", "ingest_url": "u"}})
	err = store.Apply(ctx, ports.Mutation{
		Set:    map[string]string{"tester_id": "t2"},
		Delete: []string{"access_token", "ingest_url"},
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	for _, key := range []string{"access_token", "ingest_url"} {
		if _, ok, err := store.Get(ctx, key); err != nil || ok {
			t.Errorf("Get(%q) = present %v, err %v; want deleted", key, ok, err)
		}
	}
	if v, _, _ := store.Get(ctx, "tester_id"); v != "t2" {
		t.Errorf("tester_id = %q, want t2", v)
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")

	store, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := store.Apply(context.Background(), ports.Mutation{Set: map[string]string{"access_token": "persisted"}}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("New() reopen error = %v", err)
	}
	defer reopened.Close()

	got, ok, err := reopened.Get(context.Background(), "access_token")
	if err != nil || !ok || got != "persisted" {
		t.Errorf("Get() = %q, %v, %v, want persisted, true, nil", got, ok, err)
	}
}

func TestSQLiteStore_EmptyMutation(t *testing.T) {
	store, err := New("file:memdb3?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	if err := store.Apply(context.Background(), ports.Mutation{}); err != nil {
		t.Errorf("Apply(empty) error = %v", err)
	}
}
