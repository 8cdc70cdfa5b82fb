// Package history records relayed calls for authenticated callers and lists
// them back to their owner.
package history

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/georgeshao/api-relay/internal/apperr"
	"github.com/georgeshao/api-relay/internal/identity"
	"github.com/georgeshao/api-relay/internal/relay"
	"github.com/georgeshao/api-relay/internal/storage"
)

// MaxRecords is how many records List returns at most.
const MaxRecords = storage.DefaultHistoryLimit

// Store is the part of storage.Store the recorder needs.
type Store interface {
	CreateHistory(ctx context.Context, rec *storage.HistoryRecord) error
	GetHistory(ctx context.Context, id string) (*storage.HistoryRecord, error)
	ListHistory(ctx context.Context, filter storage.HistoryFilter) ([]*storage.HistoryRecord, error)
}

type Recorder struct {
	store  Store
	now    func() time.Time
	logger zerolog.Logger
}

func NewRecorder(store Store, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		now:    time.Now,
		logger: logger.With().Str("component", "history").Logger(),
	}
}

// Record persists req and out for id and returns the new record id. Anonymous
// callers are never recorded: Record returns nil, nil for them. On a store
// failure it returns nil and a StoreFailure error.
func (r *Recorder) Record(ctx context.Context, id *identity.Identity, req *relay.Request, out *relay.Outcome) (*string, error) {
	if id == nil {
		return nil, nil
	}

	rec := &storage.HistoryRecord{
		OwnerID:        id.SubjectID,
		URL:            req.URL,
		Method:         req.Method,
		Headers:        req.Headers,
		QueryParams:    req.Params,
		Body:           req.Body,
		ResponseStatus: out.Status,
		ResponseBody:   out.Body,
		DurationMs:     out.Duration.Milliseconds(),
		CreatedAt:      r.now(),
	}

	if err := r.store.CreateHistory(ctx, rec); err != nil {
		r.logger.Error().Err(err).Str("owner", id.SubjectID).Msg("failed to save history record")
		return nil, apperr.StoreFailure("Failed to save request history", err)
	}

	recordID := rec.ID
	return &recordID, nil
}

// List returns the caller's newest records, at most MaxRecords. Anonymous
// callers have no server-side history and get an empty slice.
func (r *Recorder) List(ctx context.Context, id *identity.Identity) ([]*storage.HistoryRecord, error) {
	if id == nil {
		return []*storage.HistoryRecord{}, nil
	}

	records, err := r.store.ListHistory(ctx, storage.HistoryFilter{
		OwnerID: id.SubjectID,
		Limit:   MaxRecords,
	})
	if err != nil {
		return nil, apperr.StoreFailure("Failed to list history", err)
	}
	return records, nil
}

// Get returns one of the caller's records. Records owned by someone else are
// reported as not found.
func (r *Recorder) Get(ctx context.Context, id *identity.Identity, recordID string) (*storage.HistoryRecord, error) {
	if id == nil {
		return nil, apperr.AuthRequired()
	}
	if recordID == "" {
		return nil, apperr.Validation("Request ID is required")
	}

	rec, err := r.store.GetHistory(ctx, recordID)
	if err != nil {
		return nil, apperr.StoreFailure("Failed to get history record", err)
	}
	if rec == nil || rec.OwnerID != id.SubjectID {
		return nil, apperr.NotFound("History record not found")
	}
	return rec, nil
}
