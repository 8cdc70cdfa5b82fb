package api

import (
	"time"

	"github.com/georgeshao/api-relay/internal/collection"
	"github.com/georgeshao/api-relay/internal/storage"
	"github.com/georgeshao/api-relay/pkg/types"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func recordToHistory(record *storage.HistoryRecord) types.HistoryRecord {
	rec := types.HistoryRecord{
		ID:             record.ID,
		URL:            record.URL,
		Method:         record.Method,
		Headers:        record.Headers,
		QueryParams:    record.QueryParams,
		Body:           record.Body,
		ResponseStatus: record.ResponseStatus,
		ResponseBody:   record.ResponseBody,
		DurationMs:     record.DurationMs,
		CreatedAt:      formatTime(record.CreatedAt),
	}

	if rec.Headers == nil {
		rec.Headers = map[string]string{}
	}
	if rec.QueryParams == nil {
		rec.QueryParams = types.Params{}
	}

	return rec
}

func summaryToCollection(s collection.Summary) types.Collection {
	requests := s.Items
	if requests == nil {
		requests = []string{}
	}
	return types.Collection{
		ID:        s.ID,
		Name:      s.Name,
		Requests:  requests,
		CreatedAt: formatTime(s.CreatedAt),
	}
}
