// Package storagetest holds behaviour tests shared by every storage.Store
// implementation.
package storagetest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/georgeshao/api-relay/internal/storage"
	"github.com/georgeshao/api-relay/pkg/types"
)

// Run runs the shared tests against stores built by newStore. newStore must
// return an empty store and register its own cleanup.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("HistoryRoundTrip", func(t *testing.T) { testHistoryRoundTrip(t, newStore(t)) })
	t.Run("HistoryOrderAndLimit", func(t *testing.T) { testHistoryOrderAndLimit(t, newStore(t)) })
	t.Run("HistoryOwnerIsolation", func(t *testing.T) { testHistoryOwnerIsolation(t, newStore(t)) })
	t.Run("CollectionsAndItems", func(t *testing.T) { testCollectionsAndItems(t, newStore(t)) })
	t.Run("MissingRecords", func(t *testing.T) { testMissingRecords(t, newStore(t)) })
}

func testHistoryRoundTrip(t *testing.T, store storage.Store) {
	ctx := context.Background()
	now := time.Now()

	rec := &storage.HistoryRecord{
		OwnerID: "user-a",
		URL:     "https://example.test/items",
		Method:  "POST",
		Headers: map[string]string{"X-Trace": "abc"},
		QueryParams: types.Params{
			{Key: "tag", Value: "a"},
			{Key: "tag", Value: "b"},
			{Key: "page", Value: "1"},
		},
		Body:           json.RawMessage(`{"name":"widget"}`),
		ResponseStatus: 201,
		ResponseBody:   json.RawMessage(`{"id":7}`),
		DurationMs:     12,
		CreatedAt:      now,
	}

	if err := store.CreateHistory(ctx, rec); err != nil {
		t.Fatalf("CreateHistory failed: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("CreateHistory did not assign an ID")
	}

	got, err := store.GetHistory(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetHistory returned nil")
	}

	if got.OwnerID != "user-a" || got.URL != rec.URL || got.Method != "POST" {
		t.Errorf("Record mismatch: got %+v", got)
	}
	if got.Headers["X-Trace"] != "abc" {
		t.Errorf("Headers mismatch: got %v", got.Headers)
	}
	if len(got.QueryParams) != 3 || got.QueryParams[0] != rec.QueryParams[0] || got.QueryParams[1] != rec.QueryParams[1] || got.QueryParams[2] != rec.QueryParams[2] {
		t.Errorf("QueryParams mismatch: got %v", got.QueryParams)
	}
	if string(got.Body) != `{"name":"widget"}` {
		t.Errorf("Body mismatch: got %s", got.Body)
	}
	if got.ResponseStatus != 201 || string(got.ResponseBody) != `{"id":7}` {
		t.Errorf("Response mismatch: got %d %s", got.ResponseStatus, got.ResponseBody)
	}
	if got.DurationMs != 12 {
		t.Errorf("DurationMs mismatch: got %d", got.DurationMs)
	}
	if !got.CreatedAt.Equal(time.Unix(0, now.UnixNano())) {
		t.Errorf("CreatedAt mismatch: got %v, want %v", got.CreatedAt, now)
	}
}

func testHistoryOrderAndLimit(t *testing.T, store storage.Store) {
	ctx := context.Background()
	base := time.Now()

	for i := 0; i < 5; i++ {
		rec := &storage.HistoryRecord{
			ID:             fmt.Sprintf("hist_%d", i),
			OwnerID:        "user-a",
			URL:            fmt.Sprintf("https://example.test/%d", i),
			Method:         "GET",
			ResponseStatus: 200,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
		if err := store.CreateHistory(ctx, rec); err != nil {
			t.Fatalf("CreateHistory failed: %v", err)
		}
	}

	records, err := store.ListHistory(ctx, storage.HistoryFilter{OwnerID: "user-a", Limit: 3})
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	for i, want := range []string{"hist_4", "hist_3", "hist_2"} {
		if records[i].ID != want {
			t.Errorf("Record %d: got %s, want %s", i, records[i].ID, want)
		}
	}

	// Records created at the same instant come back newest insert first.
	same := base.Add(time.Hour)
	for _, id := range []string{"hist_tie_1", "hist_tie_2"} {
		rec := &storage.HistoryRecord{ID: id, OwnerID: "user-a", URL: "https://example.test", Method: "GET", CreatedAt: same}
		if err := store.CreateHistory(ctx, rec); err != nil {
			t.Fatalf("CreateHistory failed: %v", err)
		}
	}
	records, err = store.ListHistory(ctx, storage.HistoryFilter{OwnerID: "user-a", Limit: 2})
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if len(records) != 2 || records[0].ID != "hist_tie_2" || records[1].ID != "hist_tie_1" {
		t.Errorf("Tie order mismatch: got %v", ids(records))
	}
}

func testHistoryOwnerIsolation(t *testing.T, store storage.Store) {
	ctx := context.Background()

	// "a" is a prefix of "a:b"; neither owner may see the other's records.
	for _, owner := range []string{"a", "a:b"} {
		rec := &storage.HistoryRecord{OwnerID: owner, URL: "https://example.test", Method: "GET", CreatedAt: time.Now()}
		if err := store.CreateHistory(ctx, rec); err != nil {
			t.Fatalf("CreateHistory failed: %v", err)
		}
	}

	for _, owner := range []string{"a", "a:b"} {
		records, err := store.ListHistory(ctx, storage.HistoryFilter{OwnerID: owner, Limit: 50})
		if err != nil {
			t.Fatalf("ListHistory failed: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("Owner %q: expected 1 record, got %d", owner, len(records))
		}
		if records[0].OwnerID != owner {
			t.Errorf("Owner %q got record of %q", owner, records[0].OwnerID)
		}
	}

	records, err := store.ListHistory(ctx, storage.HistoryFilter{OwnerID: "nobody", Limit: 50})
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Errorf("Expected empty non-nil slice, got %v", records)
	}
}

func testCollectionsAndItems(t *testing.T, store storage.Store) {
	ctx := context.Background()
	base := time.Now()

	older := &storage.CollectionRecord{OwnerID: "user-a", Name: "Older", CreatedAt: base}
	newer := &storage.CollectionRecord{OwnerID: "user-a", Name: "Newer", CreatedAt: base.Add(time.Second)}
	foreign := &storage.CollectionRecord{OwnerID: "user-b", Name: "Theirs", CreatedAt: base}

	for _, col := range []*storage.CollectionRecord{older, newer, foreign} {
		if err := store.CreateCollection(ctx, col); err != nil {
			t.Fatalf("CreateCollection failed: %v", err)
		}
		if col.ID == "" {
			t.Fatal("CreateCollection did not assign an ID")
		}
	}

	got, err := store.GetCollection(ctx, newer.ID)
	if err != nil {
		t.Fatalf("GetCollection failed: %v", err)
	}
	if got == nil || got.Name != "Newer" || got.OwnerID != "user-a" {
		t.Fatalf("GetCollection mismatch: got %+v", got)
	}

	cols, err := store.ListCollections(ctx, "user-a")
	if err != nil {
		t.Fatalf("ListCollections failed: %v", err)
	}
	if len(cols) != 2 || cols[0].ID != newer.ID || cols[1].ID != older.ID {
		t.Fatalf("ListCollections order mismatch: got %d collections", len(cols))
	}

	for _, hist := range []string{"hist_1", "hist_2"} {
		item := &storage.CollectionItemRecord{OwnerID: "user-a", CollectionID: newer.ID, HistoryRecordID: hist, CreatedAt: time.Now()}
		if err := store.CreateCollectionItem(ctx, item); err != nil {
			t.Fatalf("CreateCollectionItem failed: %v", err)
		}
		if item.ID == "" {
			t.Fatal("CreateCollectionItem did not assign an ID")
		}
	}
	// Same collection id under another owner stays invisible to user-a.
	stray := &storage.CollectionItemRecord{OwnerID: "user-b", CollectionID: newer.ID, HistoryRecordID: "hist_x", CreatedAt: time.Now()}
	if err := store.CreateCollectionItem(ctx, stray); err != nil {
		t.Fatalf("CreateCollectionItem failed: %v", err)
	}

	items, err := store.ListCollectionItems(ctx, "user-a", newer.ID)
	if err != nil {
		t.Fatalf("ListCollectionItems failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	seen := map[string]bool{}
	for _, item := range items {
		seen[item.HistoryRecordID] = true
		if item.OwnerID != "user-a" || item.CollectionID != newer.ID {
			t.Errorf("Item mismatch: got %+v", item)
		}
	}
	if !seen["hist_1"] || !seen["hist_2"] {
		t.Errorf("Items mismatch: got %v", seen)
	}

	items, err = store.ListCollectionItems(ctx, "user-a", older.ID)
	if err != nil {
		t.Fatalf("ListCollectionItems failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Expected no items in older collection, got %d", len(items))
	}
}

func testMissingRecords(t *testing.T, store storage.Store) {
	ctx := context.Background()

	rec, err := store.GetHistory(ctx, "hist_missing")
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if rec != nil {
		t.Errorf("Expected nil history record, got %+v", rec)
	}

	col, err := store.GetCollection(ctx, "col_missing")
	if err != nil {
		t.Fatalf("GetCollection failed: %v", err)
	}
	if col != nil {
		t.Errorf("Expected nil collection, got %+v", col)
	}
}

func ids(records []*storage.HistoryRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}
