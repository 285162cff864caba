package kv

import (
	"context"
	"errors"
	"testing"
)

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Put(ctx, "k1", []byte("v1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("expected v1, got %s", got)
	}

	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIndexLookup(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.IndexAdd(ctx, "agent_uid", "u1", "rec1"); err != nil {
		t.Fatalf("index add: %v", err)
	}
	if err := s.IndexAdd(ctx, "agent_uid", "u1", "rec2"); err != nil {
		t.Fatalf("index add: %v", err)
	}

	keys, err := s.IndexLookup(ctx, "agent_uid", "u1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}

	if err := s.IndexRemove(ctx, "agent_uid", "u1", "rec1"); err != nil {
		t.Fatalf("index remove: %v", err)
	}
	keys, _ = s.IndexLookup(ctx, "agent_uid", "u1")
	if len(keys) != 1 || keys[0] != "rec2" {
		t.Fatalf("expected only rec2 to remain, got %v", keys)
	}
}

func TestDeleteClearsIndexes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Put(ctx, "rec1", []byte("x"))
	_ = s.IndexAdd(ctx, "tag", "foo", "rec1")

	_ = s.Delete(ctx, "rec1")

	keys, _ := s.IndexLookup(ctx, "tag", "foo")
	if len(keys) != 0 {
		t.Fatalf("expected index entry removed on delete, got %v", keys)
	}
}
