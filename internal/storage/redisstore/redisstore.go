// Package redisstore keeps relay records in Redis. Records are JSON strings;
// per-owner indexes are sorted sets scored by creation time, with an insertion
// sequence in the member so equal timestamps keep insert order.
package redisstore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/georgeshao/api-relay/internal/storage"
	"github.com/georgeshao/api-relay/pkg/types"
)

const DefaultKeyPrefix = "relay:"

type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type RedisStore struct {
	client *redis.Client
	prefix string
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
	CreatedAt int64  `json:"created_at"`
}

type itemData struct {
	ID              string `json:"id"`
	OwnerID         string `json:"owner_id"`
	CollectionID    string `json:"collection_id"`
	HistoryRecordID string `json:"history_record_id"`
	CreatedAt       int64  `json:"created_at"`
}

// New connects to Redis and checks the connection.
func New(ctx context.Context, cfg Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(parts ...string) string {
	return s.prefix + strings.Join(parts, ":")
}

// ownerKey builds an index key; owner and collection ids are hex encoded so
// no id can forge another's key.
func (s *RedisStore) ownerKey(kind string, ids ...string) string {
	parts := []string{kind}
	for _, id := range ids {
		parts = append(parts, hex.EncodeToString([]byte(id)))
	}
	return s.key(parts...)
}

// indexMember orders members with equal scores by insertion sequence.
func indexMember(seq int64, id string) string {
	return fmt.Sprintf("%020d:%s", seq, id)
}

func memberID(member string) string {
	_, id, _ := strings.Cut(member, ":")
	return id
}

// score is the creation time in microseconds, exact in a float64.
func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

// insert stores value under recordKey and indexes it under indexKey in one
// MULTI/EXEC transaction.
func (s *RedisStore) insert(ctx context.Context, recordKey, indexKey, id string, createdAt time.Time, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	seq, err := s.client.Incr(ctx, s.key("seq")).Result()
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recordKey, raw, 0)
		pipe.ZAdd(ctx, indexKey, &redis.Z{Score: score(createdAt), Member: indexMember(seq, id)})
		return nil
	})
	return err
}

func (s *RedisStore) get(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// load fetches the records for members in one MGET, calling decode for each
// one that still exists.
func (s *RedisStore) load(ctx context.Context, kind string, members []string, decode func(raw []byte) error) error {
	if len(members) == 0 {
		return nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = s.key(kind, memberID(m))
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return err
	}
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		if err := decode([]byte(str)); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", keys[i], err)
		}
	}
	return nil
}

func (s *RedisStore) CreateHistory(ctx context.Context, rec *storage.HistoryRecord) error {
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

	if err := s.insert(ctx, s.key("hist", rec.ID), s.ownerKey("hist_own", rec.OwnerID), rec.ID, rec.CreatedAt, data); err != nil {
		return fmt.Errorf("failed to create history record: %w", err)
	}
	return nil
}

func (s *RedisStore) GetHistory(ctx context.Context, id string) (*storage.HistoryRecord, error) {
	var data historyData
	found, err := s.get(ctx, s.key("hist", id), &data)
	if err != nil {
		return nil, fmt.Errorf("failed to get history record: %w", err)
	}
	if !found {
		return nil, nil
	}
	return toHistoryRecord(&data), nil
}

func (s *RedisStore) ListHistory(ctx context.Context, filter storage.HistoryFilter) ([]*storage.HistoryRecord, error) {
	if filter.OwnerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = storage.DefaultHistoryLimit
	}

	members, err := s.client.ZRevRange(ctx, s.ownerKey("hist_own", filter.OwnerID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	records := make([]*storage.HistoryRecord, 0, len(members))
	err = s.load(ctx, "hist", members, func(raw []byte) error {
		var data historyData
		if err := json.Unmarshal(raw, &data); err != nil {
			return err
		}
		records = append(records, toHistoryRecord(&data))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return records, nil
}

func (s *RedisStore) CreateCollection(ctx context.Context, col *storage.CollectionRecord) error {
	if col.ID == "" {
		col.ID = storage.NewID(storage.CollectionIDPrefix)
	}

	data := collectionData{
		ID:        col.ID,
		OwnerID:   col.OwnerID,
		Name:      col.Name,
		CreatedAt: col.CreatedAt.UnixNano(),
	}

	if err := s.insert(ctx, s.key("col", col.ID), s.ownerKey("col_own", col.OwnerID), col.ID, col.CreatedAt, data); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func (s *RedisStore) GetCollection(ctx context.Context, id string) (*storage.CollectionRecord, error) {
	var data collectionData
	found, err := s.get(ctx, s.key("col", id), &data)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	if !found {
		return nil, nil
	}
	return toCollectionRecord(&data), nil
}

func (s *RedisStore) ListCollections(ctx context.Context, ownerID string) ([]*storage.CollectionRecord, error) {
	members, err := s.client.ZRevRange(ctx, s.ownerKey("col_own", ownerID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	cols := make([]*storage.CollectionRecord, 0, len(members))
	err = s.load(ctx, "col", members, func(raw []byte) error {
		var data collectionData
		if err := json.Unmarshal(raw, &data); err != nil {
			return err
		}
		cols = append(cols, toCollectionRecord(&data))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	return cols, nil
}

func (s *RedisStore) CreateCollectionItem(ctx context.Context, item *storage.CollectionItemRecord) error {
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

	indexKey := s.ownerKey("item_col", item.OwnerID, item.CollectionID)
	if err := s.insert(ctx, s.key("item", item.ID), indexKey, item.ID, item.CreatedAt, data); err != nil {
		return fmt.Errorf("failed to create collection item: %w", err)
	}
	return nil
}

func (s *RedisStore) ListCollectionItems(ctx context.Context, ownerID, collectionID string) ([]*storage.CollectionItemRecord, error) {
	members, err := s.client.ZRange(ctx, s.ownerKey("item_col", ownerID, collectionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list collection items: %w", err)
	}

	items := make([]*storage.CollectionItemRecord, 0, len(members))
	err = s.load(ctx, "item", members, func(raw []byte) error {
		var data itemData
		if err := json.Unmarshal(raw, &data); err != nil {
			return err
		}
		items = append(items, toCollectionItemRecord(&data))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list collection items: %w", err)
	}
	return items, nil
}

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
