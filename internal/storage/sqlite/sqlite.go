package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/georgeshao/api-relay/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

type SQLiteStore struct {
	db *sql.DB
}

func New(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite works best with single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(schemaSQL)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateHistory(ctx context.Context, rec *storage.HistoryRecord) error {
	if rec.ID == "" {
		rec.ID = storage.NewID(storage.HistoryIDPrefix)
	}

	headers, err := json.Marshal(rec.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}
	params, err := json.Marshal(rec.QueryParams)
	if err != nil {
		return fmt.Errorf("failed to marshal query params: %w", err)
	}

	_, err = s.db.ExecContext(ctx, createHistory,
		rec.ID,
		rec.OwnerID,
		rec.URL,
		rec.Method,
		string(headers),
		string(params),
		toNullString(rec.Body),
		rec.ResponseStatus,
		toNullString(rec.ResponseBody),
		rec.DurationMs,
		rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to create history record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetHistory(ctx context.Context, id string) (*storage.HistoryRecord, error) {
	rec, err := scanHistory(s.db.QueryRowContext(ctx, getHistory, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get history record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListHistory(ctx context.Context, filter storage.HistoryFilter) ([]*storage.HistoryRecord, error) {
	if filter.OwnerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = storage.DefaultHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx, listHistoryByOwner, filter.OwnerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	records := make([]*storage.HistoryRecord, 0)
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	return records, nil
}

func (s *SQLiteStore) CreateCollection(ctx context.Context, col *storage.CollectionRecord) error {
	if col.ID == "" {
		col.ID = storage.NewID(storage.CollectionIDPrefix)
	}

	_, err := s.db.ExecContext(ctx, createCollection, col.ID, col.OwnerID, col.Name, col.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCollection(ctx context.Context, id string) (*storage.CollectionRecord, error) {
	var col storage.CollectionRecord
	var createdAt int64

	err := s.db.QueryRowContext(ctx, getCollection, id).Scan(&col.ID, &col.OwnerID, &col.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}

	col.CreatedAt = time.Unix(0, createdAt)
	return &col, nil
}

func (s *SQLiteStore) ListCollections(ctx context.Context, ownerID string) ([]*storage.CollectionRecord, error) {
	rows, err := s.db.QueryContext(ctx, listCollectionsByOwner, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	cols := make([]*storage.CollectionRecord, 0)
	for rows.Next() {
		var col storage.CollectionRecord
		var createdAt int64
		if err := rows.Scan(&col.ID, &col.OwnerID, &col.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan collection: %w", err)
		}
		col.CreatedAt = time.Unix(0, createdAt)
		cols = append(cols, &col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	return cols, nil
}

func (s *SQLiteStore) CreateCollectionItem(ctx context.Context, item *storage.CollectionItemRecord) error {
	if item.ID == "" {
		item.ID = storage.NewID(storage.CollectionItemIDPrefix)
	}

	_, err := s.db.ExecContext(ctx, createCollectionItem,
		item.ID,
		item.OwnerID,
		item.CollectionID,
		item.HistoryRecordID,
		item.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to create collection item: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListCollectionItems(ctx context.Context, ownerID, collectionID string) ([]*storage.CollectionItemRecord, error) {
	rows, err := s.db.QueryContext(ctx, listCollectionItems, ownerID, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection items: %w", err)
	}
	defer rows.Close()

	items := make([]*storage.CollectionItemRecord, 0)
	for rows.Next() {
		var item storage.CollectionItemRecord
		var createdAt int64
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.CollectionID, &item.HistoryRecordID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan collection item: %w", err)
		}
		item.CreatedAt = time.Unix(0, createdAt)
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list collection items: %w", err)
	}

	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHistory(row rowScanner) (*storage.HistoryRecord, error) {
	var (
		rec          storage.HistoryRecord
		headers      sql.NullString
		params       sql.NullString
		body         sql.NullString
		responseBody sql.NullString
		createdAt    int64
	)

	err := row.Scan(
		&rec.ID,
		&rec.OwnerID,
		&rec.URL,
		&rec.Method,
		&headers,
		&params,
		&body,
		&rec.ResponseStatus,
		&responseBody,
		&rec.DurationMs,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	if headers.Valid && headers.String != "" {
		if err := json.Unmarshal([]byte(headers.String), &rec.Headers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
		}
	}
	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &rec.QueryParams); err != nil {
			return nil, fmt.Errorf("failed to unmarshal query params: %w", err)
		}
	}

	rec.Body = fromNullString(body)
	rec.ResponseBody = fromNullString(responseBody)
	rec.CreatedAt = time.Unix(0, createdAt)

	return &rec, nil
}

func toNullString(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func fromNullString(ns sql.NullString) json.RawMessage {
	if !ns.Valid {
		return nil
	}
	return json.RawMessage(ns.String)
}
