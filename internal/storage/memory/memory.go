// Package memory is a process-local Store. It keeps nothing across restarts
// and is meant for development and tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/georgeshao/api-relay/internal/storage"
)

type Store struct {
	mu          sync.RWMutex
	seq         int64
	history     map[string]*entry[storage.HistoryRecord]
	collections map[string]*entry[storage.CollectionRecord]
	items       []*entry[storage.CollectionItemRecord]
}

type entry[T any] struct {
	seq int64
	rec T
}

func New() *Store {
	return &Store{
		history:     make(map[string]*entry[storage.HistoryRecord]),
		collections: make(map[string]*entry[storage.CollectionRecord]),
	}
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) CreateHistory(ctx context.Context, rec *storage.HistoryRecord) error {
	if rec.ID == "" {
		rec.ID = storage.NewID(storage.HistoryIDPrefix)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.history[rec.ID]; ok {
		return fmt.Errorf("history record already exists: %s", rec.ID)
	}
	s.seq++
	s.history[rec.ID] = &entry[storage.HistoryRecord]{seq: s.seq, rec: cloneHistory(rec)}
	return nil
}

func (s *Store) GetHistory(ctx context.Context, id string) (*storage.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.history[id]
	if !ok {
		return nil, nil
	}
	rec := cloneHistory(&e.rec)
	return &rec, nil
}

func (s *Store) ListHistory(ctx context.Context, filter storage.HistoryFilter) ([]*storage.HistoryRecord, error) {
	if filter.OwnerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = storage.DefaultHistoryLimit
	}

	s.mu.RLock()
	var matched []*entry[storage.HistoryRecord]
	for _, e := range s.history {
		if e.rec.OwnerID == filter.OwnerID {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
			return a.rec.CreatedAt.After(b.rec.CreatedAt)
		}
		return a.seq > b.seq
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}

	records := make([]*storage.HistoryRecord, len(matched))
	for i, e := range matched {
		rec := cloneHistory(&e.rec)
		records[i] = &rec
	}
	return records, nil
}

// cloneHistory copies rec so stored records share no maps or slices with
// callers.
func cloneHistory(rec *storage.HistoryRecord) storage.HistoryRecord {
	c := *rec
	c.Headers = maps.Clone(rec.Headers)
	c.QueryParams = slices.Clone(rec.QueryParams)
	c.Body = bytes.Clone(rec.Body)
	c.ResponseBody = bytes.Clone(rec.ResponseBody)
	return c
}

func (s *Store) CreateCollection(ctx context.Context, col *storage.CollectionRecord) error {
	if col.ID == "" {
		col.ID = storage.NewID(storage.CollectionIDPrefix)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[col.ID]; ok {
		return fmt.Errorf("collection already exists: %s", col.ID)
	}
	s.seq++
	s.collections[col.ID] = &entry[storage.CollectionRecord]{seq: s.seq, rec: *col}
	return nil
}

func (s *Store) GetCollection(ctx context.Context, id string) (*storage.CollectionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.collections[id]
	if !ok {
		return nil, nil
	}
	col := e.rec
	return &col, nil
}

func (s *Store) ListCollections(ctx context.Context, ownerID string) ([]*storage.CollectionRecord, error) {
	s.mu.RLock()
	var matched []*entry[storage.CollectionRecord]
	for _, e := range s.collections {
		if e.rec.OwnerID == ownerID {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.rec.CreatedAt.Equal(b.rec.CreatedAt) {
			return a.rec.CreatedAt.After(b.rec.CreatedAt)
		}
		return a.seq > b.seq
	})

	cols := make([]*storage.CollectionRecord, len(matched))
	for i, e := range matched {
		col := e.rec
		cols[i] = &col
	}
	return cols, nil
}

func (s *Store) CreateCollectionItem(ctx context.Context, item *storage.CollectionItemRecord) error {
	if item.ID == "" {
		item.ID = storage.NewID(storage.CollectionItemIDPrefix)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.items = append(s.items, &entry[storage.CollectionItemRecord]{seq: s.seq, rec: *item})
	return nil
}

func (s *Store) ListCollectionItems(ctx context.Context, ownerID, collectionID string) ([]*storage.CollectionItemRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]*storage.CollectionItemRecord, 0)
	for _, e := range s.items {
		if e.rec.OwnerID == ownerID && e.rec.CollectionID == collectionID {
			item := e.rec
			items = append(items, &item)
		}
	}
	return items, nil
}
