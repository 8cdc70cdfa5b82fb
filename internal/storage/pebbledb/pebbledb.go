package pebbledb

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/multierr"

	"github.com/georgeshao/api-relay/internal/storage"
	"github.com/georgeshao/api-relay/pkg/types"
)

// Key prefixes. Owner ids are hex encoded so one owner's prefix can never be
// a prefix of another's.
const (
	prefixHist      = "hist:"     // hist:{id} → history JSON
	prefixHistOwner = "hist_own:" // hist_own:{owner}:{invts}:{invseq}:{id} → empty
	prefixCol       = "col:"      // col:{id} → collection JSON
	prefixColOwner  = "col_own:"  // col_own:{owner}:{invts}:{invseq}:{id} → empty
	prefixItem      = "item:"     // item:{id} → item JSON
	prefixItemCol   = "item_col:" // item_col:{owner}:{collection}:{ts}:{id} → empty
)

type PebbleStore struct {
	db          *pebble.DB
	batchWriter *BatchWriter
	useBatch    bool
	seq         atomic.Int64
}

type historyData struct {
	ID             string            `json:"id"`
	OwnerID        string            `json:"owner_id"`
	URL            string            `json:"url"`
	Method         string            `json:"method"`
	Headers        map[string]string `json:"headers,omitempty"`
	QueryParams    types.Params      `json:"query_params,omitempty"`
	Body           json.RawMessage   `json:"body,omitempty"`
	ResponseStatus int               `json:"response_status"`
	ResponseBody   json.RawMessage   `json:"response_body,omitempty"`
	DurationMs     int64             `json:"duration_ms"`
	CreatedAt      int64             `json:"created_at"` // Unix nano
}

type collectionData struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"` // Unix nano
}

type itemData struct {
	ID              string `json:"id"`
	OwnerID         string `json:"owner_id"`
	CollectionID    string `json:"collection_id"`
	HistoryRecordID string `json:"history_record_id"`
	CreatedAt       int64  `json:"created_at"` // Unix nano
}

// New opens a Pebble store at dbPath. With useBatch, writes from concurrent
// requests are grouped into shared commits.
func New(dbPath string, useBatch bool) (*PebbleStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}

	store := &PebbleStore{
		db:       db,
		useBatch: useBatch,
	}

	if useBatch {
		store.batchWriter = NewBatchWriter(db, DefaultBatchWriterConfig())
	}

	return store, nil
}

func (s *PebbleStore) Close() error {
	var err error
	// Close batch writer first to flush remaining writes
	if s.batchWriter != nil {
		err = multierr.Append(err, s.batchWriter.Close())
	}
	return multierr.Append(err, s.db.Close())
}

func histKey(id string) []byte {
	return []byte(prefixHist + id)
}

func colKey(id string) []byte {
	return []byte(prefixCol + id)
}

func itemKey(id string) []byte {
	return []byte(prefixItem + id)
}

func ownerPrefix(prefix, ownerID string) []byte {
	return []byte(prefix + hex.EncodeToString([]byte(ownerID)) + ":")
}

// newestFirstKey orders entries by descending creation time, then descending
// insertion sequence.
func newestFirstKey(prefix, ownerID string, ts, seq int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%020d:%s", ownerPrefix(prefix, ownerID), math.MaxInt64-ts, math.MaxInt64-seq, id))
}

func itemColPrefix(ownerID, collectionID string) []byte {
	return []byte(fmt.Sprintf("%s%s:", ownerPrefix(prefixItemCol, ownerID), hex.EncodeToString([]byte(collectionID))))
}

func itemColKey(ownerID, collectionID string, ts int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", itemColPrefix(ownerID, collectionID), ts, id))
}

func upperBound(prefix []byte) []byte {
	ub := make([]byte, len(prefix))
	copy(ub, prefix)
	for i := len(ub) - 1; i >= 0; i-- {
		if ub[i] < 0xff {
			ub[i]++
			return ub
		}
		ub[i] = 0
	}
	return append(ub, 0)
}

// write commits ops atomically, through the batch writer when enabled.
func (s *PebbleStore) write(ctx context.Context, ops ...writeOp) error {
	if s.useBatch {
		return s.batchWriter.Write(ctx, ops...)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	for _, op := range ops {
		if err := batch.Set(op.key, op.value, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) get(key []byte, dst any) (bool, error) {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()

	if err := json.Unmarshal(value, dst); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// scanIDs walks the index under prefix and returns the ids at the end of
// each key, stopping after limit entries when limit > 0.
func (s *PebbleStore) scanIDs(prefix []byte, limit int) ([]string, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var ids []string
	for iter.First(); iter.Valid(); iter.Next() {
		if id := extractID(iter.Key()); id != "" {
			ids = append(ids, id)
		}
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids, iter.Error()
}

func (s *PebbleStore) CreateHistory(ctx context.Context, rec *storage.HistoryRecord) error {
	if rec.ID == "" {
		rec.ID = storage.NewID(storage.HistoryIDPrefix)
	}

	data := historyData{
		ID:             rec.ID,
		OwnerID:        rec.OwnerID,
		URL:            rec.URL,
		Method:         rec.Method,
		Headers:        rec.Headers,
		QueryParams:    rec.QueryParams,
		Body:           rec.Body,
		ResponseStatus: rec.ResponseStatus,
		ResponseBody:   rec.ResponseBody,
		DurationMs:     rec.DurationMs,
		CreatedAt:      rec.CreatedAt.UnixNano(),
	}

	value, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal history record: %w", err)
	}

	err = s.write(ctx,
		writeOp{key: histKey(rec.ID), value: value},
		writeOp{key: newestFirstKey(prefixHistOwner, rec.OwnerID, data.CreatedAt, s.seq.Add(1), rec.ID)},
	)
	if err != nil {
		return fmt.Errorf("failed to create history record: %w", err)
	}
	return nil
}

func (s *PebbleStore) GetHistory(ctx context.Context, id string) (*storage.HistoryRecord, error) {
	var data historyData
	found, err := s.get(histKey(id), &data)
	if err != nil {
		return nil, fmt.Errorf("failed to get history record: %w", err)
	}
	if !found {
		return nil, nil
	}
	return toHistoryRecord(&data), nil
}

func (s *PebbleStore) ListHistory(ctx context.Context, filter storage.HistoryFilter) ([]*storage.HistoryRecord, error) {
	if filter.OwnerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = storage.DefaultHistoryLimit
	}

	ids, err := s.scanIDs(ownerPrefix(prefixHistOwner, filter.OwnerID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	records := make([]*storage.HistoryRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetHistory(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (s *PebbleStore) CreateCollection(ctx context.Context, col *storage.CollectionRecord) error {
	if col.ID == "" {
		col.ID = storage.NewID(storage.CollectionIDPrefix)
	}

	data := collectionData{
		ID:        col.ID,
		OwnerID:   col.OwnerID,
		Name:      col.Name,
		CreatedAt: col.CreatedAt.UnixNano(),
	}

	value, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal collection: %w", err)
	}

	err = s.write(ctx,
		writeOp{key: colKey(col.ID), value: value},
		writeOp{key: newestFirstKey(prefixColOwner, col.OwnerID, data.CreatedAt, s.seq.Add(1), col.ID)},
	)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func (s *PebbleStore) GetCollection(ctx context.Context, id string) (*storage.CollectionRecord, error) {
	var data collectionData
	found, err := s.get(colKey(id), &data)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	if !found {
		return nil, nil
	}
	return toCollectionRecord(&data), nil
}

func (s *PebbleStore) ListCollections(ctx context.Context, ownerID string) ([]*storage.CollectionRecord, error) {
	ids, err := s.scanIDs(ownerPrefix(prefixColOwner, ownerID), 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	cols := make([]*storage.CollectionRecord, 0, len(ids))
	for _, id := range ids {
		col, err := s.GetCollection(ctx, id)
		if err != nil {
			return nil, err
		}
		if col != nil {
			cols = append(cols, col)
		}
	}
	return cols, nil
}

func (s *PebbleStore) CreateCollectionItem(ctx context.Context, item *storage.CollectionItemRecord) error {
	if item.ID == "" {
		item.ID = storage.NewID(storage.CollectionItemIDPrefix)
	}

	data := itemData{
		ID:              item.ID,
		OwnerID:         item.OwnerID,
		CollectionID:    item.CollectionID,
		HistoryRecordID: item.HistoryRecordID,
		CreatedAt:       item.CreatedAt.UnixNano(),
	}

	value, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal collection item: %w", err)
	}

	err = s.write(ctx,
		writeOp{key: itemKey(item.ID), value: value},
		writeOp{key: itemColKey(item.OwnerID, item.CollectionID, data.CreatedAt, item.ID)},
	)
	if err != nil {
		return fmt.Errorf("failed to create collection item: %w", err)
	}
	return nil
}

func (s *PebbleStore) ListCollectionItems(ctx context.Context, ownerID, collectionID string) ([]*storage.CollectionItemRecord, error) {
	ids, err := s.scanIDs(itemColPrefix(ownerID, collectionID), 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection items: %w", err)
	}

	items := make([]*storage.CollectionItemRecord, 0, len(ids))
	for _, id := range ids {
		var data itemData
		found, err := s.get(itemKey(id), &data)
		if err != nil {
			return nil, fmt.Errorf("failed to get collection item: %w", err)
		}
		if found {
			items = append(items, toCollectionItemRecord(&data))
		}
	}
	return items, nil
}

// --- Conversion helpers ---

func toHistoryRecord(data *historyData) *storage.HistoryRecord {
	return &storage.HistoryRecord{
		ID:             data.ID,
		OwnerID:        data.OwnerID,
		URL:            data.URL,
		Method:         data.Method,
		Headers:        data.Headers,
		QueryParams:    data.QueryParams,
		Body:           data.Body,
		ResponseStatus: data.ResponseStatus,
		ResponseBody:   data.ResponseBody,
		DurationMs:     data.DurationMs,
		CreatedAt:      time.Unix(0, data.CreatedAt),
	}
}

func toCollectionRecord(data *collectionData) *storage.CollectionRecord {
	return &storage.CollectionRecord{
		ID:        data.ID,
		OwnerID:   data.OwnerID,
		Name:      data.Name,
		CreatedAt: time.Unix(0, data.CreatedAt),
	}
}

func toCollectionItemRecord(data *itemData) *storage.CollectionItemRecord {
	return &storage.CollectionItemRecord{
		ID:              data.ID,
		OwnerID:         data.OwnerID,
		CollectionID:    data.CollectionID,
		HistoryRecordID: data.HistoryRecordID,
		CreatedAt:       time.Unix(0, data.CreatedAt),
	}
}

// extractID returns the id segment at the end of an index key.
func extractID(key []byte) string {
	i := bytes.LastIndexByte(key, ':')
	if i < 0 || i == len(key)-1 {
		return ""
	}
	return string(key[i+1:])
}
