package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/tjfontaine/testernest-go/internal/core/ports"
)

func TestMemoryStore_ApplyAndGet(t *testing.T) {
	store := New()
	ctx := context.Background()

	err := store.Apply(ctx, ports.Mutation{Set: map[string]string{"base_url": "https://example.com", "public_key": "pk_1"}})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	got, ok, err := store.Get(ctx, "public_key")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok || got != "pk_1" {
		t.Errorf("Get() = %q, %v, want pk_1, true", got, ok)
	}

	if _, ok, _ := store.Get(ctx, "missing"); ok {
		t.Error("Get() on missing key should report false")
	}
}

func TestMemoryStore_DeleteAfterSet(t *testing.T) {
	store := New()
	ctx := context.Background()

	_ = store.Apply(ctx, ports.Mutation{Set: map[string]string{"access_token": "tok"}})
	err := store.Apply(ctx, ports.Mutation{
		Set:    map[string]string{"access_token": "other", "tester_id": "t1"},
		Delete: []string{"access_token"},
	})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	if _, ok, _ := store.Get(ctx, "access_token"); ok {
		t.Error("access_token should be deleted")
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestMemoryStore_ConcurrentApply(t *testing.T) {
	store := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Apply(ctx, ports.Mutation{Set: map[string]string{"k": "v"}})
			_, _, _ = store.Get(ctx, "k")
		}()
	}
	wg.Wait()

	if v, _, _ := store.Get(ctx, "k"); v != "v" {
		t.Errorf("Get() = %q, want v", v)
	}
}
