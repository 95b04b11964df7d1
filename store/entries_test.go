package store_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"outpost/internal/testsupport"
	"outpost/store"
)

func TestPutIsIdempotentUpsert(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if err := st.Put(ctx, store.DomainEvents, "42", json.RawMessage(`{"title":"v1"}`), store.PutOptions{}); err != nil {
		t.Fatalf("Put v1: %v", err)
	}
	if err := st.Put(ctx, store.DomainEvents, "42", json.RawMessage(`{"title":"v2"}`), store.PutOptions{}); err != nil {
		t.Fatalf("Put v2: %v", err)
	}

	entry, err := st.Get(ctx, store.DomainEvents, "42")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry == nil {
		t.Fatal("expected entry present")
	}
	var payload struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(entry.Data, &payload); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if payload.Title != "v2" {
		t.Fatalf("expected overwrite to win, got %q", payload.Title)
	}

	all, err := st.GetAll(ctx, store.DomainEvents, "")
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one entry, got %d", len(all))
	}
}

func TestExpiredEntryIsAbsentAndEvicted(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if err := st.Put(ctx, store.DomainArticles, "a1", json.RawMessage(`{}`), store.PutOptions{TTL: time.Millisecond}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	entry, err := st.Get(ctx, store.DomainArticles, "a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected expired entry to read as absent, got %#v", entry)
	}

	all, err := st.GetAll(ctx, store.DomainArticles, "")
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no entries after expiry, got %d", len(all))
	}
}

func TestGetAllEvictsExpiredDuringScan(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if err := st.Put(ctx, store.DomainMessages, "live", json.RawMessage(`{}`), store.PutOptions{}); err != nil {
		t.Fatalf("Put live: %v", err)
	}
	if err := st.Put(ctx, store.DomainMessages, "stale", json.RawMessage(`{}`), store.PutOptions{TTL: time.Millisecond}); err != nil {
		t.Fatalf("Put stale: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	all, err := st.GetAll(ctx, store.DomainMessages, "")
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 1 || all[0].ID != "live" {
		t.Fatalf("expected only live entry, got %#v", all)
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[store.DomainMessages].Expired != 0 {
		t.Fatalf("expected stale entry physically evicted, got %+v", stats[store.DomainMessages])
	}
}

func TestGetAllFiltersByOwner(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		owner := "alice"
		if i == 2 {
			owner = "bob"
		}
		id := fmt.Sprintf("m%d", i)
		if err := st.Put(ctx, store.DomainMessages, id, json.RawMessage(`{}`), store.PutOptions{OwnerID: owner}); err != nil {
			t.Fatalf("Put %s: %v", id, err)
		}
	}

	mine, err := st.GetAll(ctx, store.DomainMessages, "alice")
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 entries for alice, got %d", len(mine))
	}
	for _, entry := range mine {
		if entry.OwnerID != "alice" {
			t.Fatalf("unexpected owner %q", entry.OwnerID)
		}
	}
}

func TestPutManyIsAtomic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	items := []store.Item{
		{ID: "e1", Data: json.RawMessage(`{"n":1}`)},
		{ID: "e2", Data: json.RawMessage(`{"n":2}`)},
		{ID: "", Data: json.RawMessage(`{"n":3}`)}, // invalid id aborts the batch
	}
	if err := st.PutMany(ctx, store.DomainEvents, items, store.PutOptions{}); err == nil {
		t.Fatal("expected bulk write with invalid item to fail")
	}

	all, err := st.GetAll(ctx, store.DomainEvents, "")
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected no partial writes, got %d entries", len(all))
	}

	if err := st.PutMany(ctx, store.DomainEvents, items[:2], store.PutOptions{}); err != nil {
		t.Fatalf("PutMany: %v", err)
	}
	all, err = st.GetAll(ctx, store.DomainEvents, "")
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(all))
	}
}

func TestDeleteAndClear(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("a%d", i)
		if err := st.Put(ctx, store.DomainArticles, id, json.RawMessage(`{}`), store.PutOptions{}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	if err := st.Delete(ctx, store.DomainArticles, "a0"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	entry, err := st.Get(ctx, store.DomainArticles, "a0")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry != nil {
		t.Fatal("expected deleted entry to be absent")
	}

	removed, err := st.Clear(ctx, store.DomainArticles)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 entries cleared, got %d", removed)
	}
}

func TestUnknownDomainRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	err := st.Put(ctx, store.Domain("bogus"), "x", json.RawMessage(`{}`), store.PutOptions{})
	if err == nil {
		t.Fatal("expected unknown domain error")
	}
}
