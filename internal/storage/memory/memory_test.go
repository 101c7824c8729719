package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/RolldeoDev/rolldeo-go/internal/storage"
)

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	rec, err := s.Put(ctx, storage.Record{ID: "a", Name: "A", Namespace: "ns.a", Raw: []byte(`{"x":1}`)})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if rec.CreatedAt.IsZero() || rec.UpdatedAt.IsZero() {
		t.Fatal("timestamps not set")
	}

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Raw) != `{"x":1}` || got.Name != "A" {
		t.Fatalf("got %+v", got)
	}
}

func TestPutPreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := New()

	first, _ := s.Put(ctx, storage.Record{ID: "a", Raw: []byte("1")})
	second, _ := s.Put(ctx, storage.Record{ID: "a", Raw: []byte("2")})
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatal("update must keep CreatedAt")
	}
}

func TestGetMissing(t *testing.T) {
	s := New()
	if _, err := s.Get(context.Background(), "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestListSorted(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Put(ctx, storage.Record{ID: "b"})
	s.Put(ctx, storage.Record{ID: "a"})

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("list = %+v", list)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Put(ctx, storage.Record{ID: "a"})

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "a"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
}

func TestRawIsCopied(t *testing.T) {
	ctx := context.Background()
	s := New()
	raw := []byte("abc")
	s.Put(ctx, storage.Record{ID: "a", Raw: raw})
	raw[0] = 'z'

	got, _ := s.Get(ctx, "a")
	if string(got.Raw) != "abc" {
		t.Fatalf("stored raw mutated: %q", got.Raw)
	}
}
