package storage

import "github.com/google/uuid"

const (
	HistoryIDPrefix        = "hist_"
	CollectionIDPrefix     = "col_"
	CollectionItemIDPrefix = "item_"

	DefaultHistoryLimit = 50
)

func NewID(prefix string) string {
	return prefix + uuid.New().String()
}
