// Package collection manages named, owner-scoped groups of saved requests.
package collection

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/georgeshao/api-relay/internal/apperr"
	"github.com/georgeshao/api-relay/internal/identity"
	"github.com/georgeshao/api-relay/internal/storage"
)

// maxItemQueries bounds the concurrent item lookups made by List.
const maxItemQueries = 8

// Store is the part of storage.Store the manager needs.
type Store interface {
	CreateCollection(ctx context.Context, col *storage.CollectionRecord) error
	GetCollection(ctx context.Context, id string) (*storage.CollectionRecord, error)
	ListCollections(ctx context.Context, ownerID string) ([]*storage.CollectionRecord, error)
	CreateCollectionItem(ctx context.Context, item *storage.CollectionItemRecord) error
	ListCollectionItems(ctx context.Context, ownerID, collectionID string) ([]*storage.CollectionItemRecord, error)
}

// Summary is a collection with the history record ids saved in it.
type Summary struct {
	ID        string
	Name      string
	CreatedAt time.Time
	Items     []string
}

type Manager struct {
	store  Store
	now    func() time.Time
	logger zerolog.Logger
}

func NewManager(store Store, logger zerolog.Logger) *Manager {
	return &Manager{
		store:  store,
		now:    time.Now,
		logger: logger.With().Str("component", "collection").Logger(),
	}
}

func (m *Manager) Create(ctx context.Context, id *identity.Identity, name string) (*storage.CollectionRecord, error) {
	if id == nil {
		return nil, apperr.AuthRequired()
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("Name is required")
	}

	col := &storage.CollectionRecord{
		OwnerID:   id.SubjectID,
		Name:      name,
		CreatedAt: m.now(),
	}
	if err := m.store.CreateCollection(ctx, col); err != nil {
		m.logger.Error().Err(err).Str("owner", id.SubjectID).Msg("failed to create collection")
		return nil, apperr.StoreFailure("Failed to create collection", err)
	}
	return col, nil
}

// AddItem saves historyRecordID into the caller's collection. A missing
// collection and one owned by someone else are the same denial. The history
// record id is not checked.
func (m *Manager) AddItem(ctx context.Context, id *identity.Identity, collectionID, historyRecordID string) (*storage.CollectionItemRecord, error) {
	if id == nil {
		return nil, apperr.AuthRequired()
	}

	collectionID = strings.TrimSpace(collectionID)
	historyRecordID = strings.TrimSpace(historyRecordID)
	if collectionID == "" || historyRecordID == "" {
		return nil, apperr.Validation("Collection ID and request ID are required")
	}

	col, err := m.store.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, apperr.StoreFailure("Failed to get collection", err)
	}
	if col == nil || col.OwnerID != id.SubjectID {
		return nil, apperr.OwnershipDenied()
	}

	item := &storage.CollectionItemRecord{
		OwnerID:         id.SubjectID,
		CollectionID:    col.ID,
		HistoryRecordID: historyRecordID,
		CreatedAt:       m.now(),
	}
	if err := m.store.CreateCollectionItem(ctx, item); err != nil {
		m.logger.Error().Err(err).Str("owner", id.SubjectID).Str("collection", col.ID).Msg("failed to add collection item")
		return nil, apperr.StoreFailure("Failed to add collection item", err)
	}
	return item, nil
}

// List returns the caller's collections newest first, each with its history
// record ids. Anonymous callers get an empty slice.
func (m *Manager) List(ctx context.Context, id *identity.Identity) ([]Summary, error) {
	if id == nil {
		return []Summary{}, nil
	}

	cols, err := m.store.ListCollections(ctx, id.SubjectID)
	if err != nil {
		return nil, apperr.StoreFailure("Failed to list collections", err)
	}

	summaries := make([]Summary, len(cols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxItemQueries)

	for i, col := range cols {
		i, col := i, col
		summaries[i] = Summary{ID: col.ID, Name: col.Name, CreatedAt: col.CreatedAt}

		g.Go(func() error {
			items, err := m.store.ListCollectionItems(gctx, id.SubjectID, col.ID)
			if err != nil {
				return err
			}
			ids := make([]string, len(items))
			for j, item := range items {
				ids[j] = item.HistoryRecordID
			}
			summaries[i].Items = ids
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, apperr.StoreFailure("Failed to list collection items", err)
	}
	return summaries, nil
}
