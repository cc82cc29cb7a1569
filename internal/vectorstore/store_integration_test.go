//go:build integration

package vectorstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	collection := fmt.Sprintf("recall_test_%d", time.Now().UnixNano()%1_000_000)
	s, err := New(ctx, dbURL, collection, 3)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := s.EnsureCollection(ctx); err != nil {
		t.Fatalf("ensure collection: %v", err)
	}

	t.Cleanup(func() {
		s.pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+s.ident)
		s.Close()
	})
	return s
}

func TestIntegration_UpsertExistsSearch(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a := Point{ID: uuid.New(), ContentHash: "hash-a", Vector: []float32{1, 0, 0}, Payload: Payload{Text: "alpha", Role: "user"}}
	b := Point{ID: uuid.New(), ContentHash: "hash-b", Vector: []float32{0, 1, 0}, Payload: Payload{Text: "beta", Role: "assistant"}}
	if err := s.Upsert(ctx, []Point{a, b}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	exists, err := s.ExistsByHash(ctx, "hash-a")
	if err != nil || !exists {
		t.Fatalf("expected hash-a to exist, got %v, %v", exists, err)
	}
	exists, err = s.ExistsByHash(ctx, "hash-z")
	if err != nil || exists {
		t.Fatalf("expected hash-z to be absent, got %v, %v", exists, err)
	}

	// Re-upserting by id does not add a point.
	if err := s.Upsert(ctx, []Point{a}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	n, err := s.Count(ctx)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 points, got %d, %v", n, err)
	}

	matches, err := s.Search(ctx, []float32{0.9, 0.1, 0}, 1)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 1 || matches[0].Payload.Text != "alpha" {
		t.Fatalf("unexpected matches %+v", matches)
	}
}

func TestIntegration_IdentityChangesWhenTableRecreated(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first, err := s.Identity(ctx)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	again, err := s.Identity(ctx)
	if err != nil || again != first {
		t.Fatalf("expected stable identity %q, got %q, %v", first, again, err)
	}

	if _, err := s.pool.Exec(ctx, "DROP TABLE "+s.ident); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if err := s.EnsureCollection(ctx); err != nil {
		t.Fatalf("recreate: %v", err)
	}
	second, err := s.Identity(ctx)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if second == first {
		t.Fatalf("expected a new identity after recreate, still %q", first)
	}
}
