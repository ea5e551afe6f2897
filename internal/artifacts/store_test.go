package artifacts

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Path: ":memory:", MaxInlineBytes: 100})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestShouldStoreThreshold(t *testing.T) {
	s := newTestStore(t)

	if s.ShouldStore(strings.Repeat("a", 100)) {
		t.Error("content at the threshold should stay inline")
	}
	if !s.ShouldStore(strings.Repeat("a", 101)) {
		t.Error("content over the threshold should be stored")
	}
}

func TestPutAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	content := strings.Repeat("x", 500)
	id, summary, err := s.Put(ctx, "req-1", "web.search", content)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !strings.Contains(summary, "web.search") || !strings.Contains(summary, "500 bytes") {
		t.Errorf("summary missing tool name or size: %q", summary)
	}
	if !strings.Contains(summary, id) {
		t.Errorf("summary %q does not reference artifact ID %s", summary, id)
	}

	a, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if a.Content != content {
		t.Error("stored content does not round-trip")
	}
	if a.RequestID != "req-1" || a.ToolName != "web.search" || a.Size != 500 {
		t.Errorf("unexpected artifact metadata: %+v", a)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteForRequest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	one, _, err := s.Put(ctx, "req-1", "a.tool", "big result one")
	if err != nil {
		t.Fatal(err)
	}
	two, _, err := s.Put(ctx, "req-2", "b.tool", "big result two")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteForRequest(ctx, "req-1"); err != nil {
		t.Fatalf("DeleteForRequest failed: %v", err)
	}

	if _, err := s.Get(ctx, one); !errors.Is(err, ErrNotFound) {
		t.Errorf("artifact for rolled-back request should be gone, got %v", err)
	}
	if _, err := s.Get(ctx, two); err != nil {
		t.Errorf("artifact for other request should survive rollback: %v", err)
	}
}
