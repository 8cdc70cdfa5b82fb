package storage

import (
	"context"
)

// Store is the document store behind the relay. Create methods assign an id
// when the record has none; Get methods return nil, nil for a missing id.
type Store interface {
	CreateHistory(ctx context.Context, rec *HistoryRecord) error
	GetHistory(ctx context.Context, id string) (*HistoryRecord, error)
	// ListHistory returns the owner's records newest first, at most filter.Limit.
	ListHistory(ctx context.Context, filter HistoryFilter) ([]*HistoryRecord, error)

	CreateCollection(ctx context.Context, col *CollectionRecord) error
	GetCollection(ctx context.Context, id string) (*CollectionRecord, error)
	// ListCollections returns the owner's collections newest first.
	ListCollections(ctx context.Context, ownerID string) ([]*CollectionRecord, error)

	CreateCollectionItem(ctx context.Context, item *CollectionItemRecord) error
	ListCollectionItems(ctx context.Context, ownerID, collectionID string) ([]*CollectionItemRecord, error)

	Close() error
}
