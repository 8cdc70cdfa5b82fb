package sqlite

const (
	createHistory = `
INSERT INTO history (id, owner_id, url, method, headers, query_params, body, response_status, response_body, duration_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	getHistory = `
SELECT id, owner_id, url, method, headers, query_params, body, response_status, response_body, duration_ms, created_at
FROM history WHERE id = ?`

	// rowid breaks ties between records created in the same nanosecond.
	listHistoryByOwner = `
SELECT id, owner_id, url, method, headers, query_params, body, response_status, response_body, duration_ms, created_at
FROM history WHERE owner_id = ?
ORDER BY created_at DESC, rowid DESC
LIMIT ?`

	createCollection = `
INSERT INTO collections (id, owner_id, name, created_at) VALUES (?, ?, ?, ?)`

	getCollection = `
SELECT id, owner_id, name, created_at FROM collections WHERE id = ?`

	listCollectionsByOwner = `
SELECT id, owner_id, name, created_at FROM collections WHERE owner_id = ?
ORDER BY created_at DESC, rowid DESC`

	createCollectionItem = `
INSERT INTO collection_items (id, owner_id, collection_id, history_id, created_at) VALUES (?, ?, ?, ?, ?)`

	listCollectionItems = `
SELECT id, owner_id, collection_id, history_id, created_at FROM collection_items
WHERE owner_id = ? AND collection_id = ?
ORDER BY rowid`
)
