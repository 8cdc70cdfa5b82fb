package types

type CreateCollectionRequest struct {
	Name string `json:"name" validate:"required"`
}

type AddCollectionItemRequest struct {
	CollectionID string `json:"collectionId" validate:"required"`
	RequestID    string `json:"requestId" validate:"required"`
}

// Collection lists the history record ids saved in a collection.
type Collection struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Requests  []string `json:"requests"`
	CreatedAt string   `json:"createdAt,omitempty"`
}

type CollectionItem struct {
	ID string `json:"id"`
}
