package storage

import (
	"encoding/json"
	"time"

	"github.com/georgeshao/api-relay/pkg/types"
)

// HistoryRecord is one relayed call and its outcome. Records are never
// updated after creation.
type HistoryRecord struct {
	ID             string
	OwnerID        string
	URL            string
	Method         string
	Headers        map[string]string
	QueryParams    types.Params
	Body           json.RawMessage
	ResponseStatus int
	ResponseBody   json.RawMessage
	DurationMs     int64
	CreatedAt      time.Time
}

type CollectionRecord struct {
	ID        string
	OwnerID   string
	Name      string
	CreatedAt time.Time
}

// CollectionItemRecord links a collection to a history record id. The history
// id is not checked for existence.
type CollectionItemRecord struct {
	ID              string
	OwnerID         string
	CollectionID    string
	HistoryRecordID string
	CreatedAt       time.Time
}

type HistoryFilter struct {
	OwnerID string
	Limit   int
}
