package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/georgeshao/api-relay/internal/collection"
	"github.com/georgeshao/api-relay/internal/history"
	"github.com/georgeshao/api-relay/internal/identity"
	"github.com/georgeshao/api-relay/internal/relay"
	"github.com/georgeshao/api-relay/internal/storage"
	"github.com/georgeshao/api-relay/internal/storage/sqlite"
	"github.com/georgeshao/api-relay/pkg/types"
)

type testEnv struct {
	app      *fiber.App
	verifier *identity.JWTVerifier
	upstream *httptest.Server
}

// upstreamHandler answers /status/{code} with that code and echoes the
// request line otherwise.
func upstreamHandler(w http.ResponseWriter, r *http.Request) {
	var code int
	if _, err := fmt.Sscanf(r.URL.Path, "/status/%d", &code); err == nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		fmt.Fprintf(w, `{"code":%d}`, code)
		return
	}
	if r.URL.Path == "/text" {
		_, _ = w.Write([]byte("plain text"))
		return
	}

	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"method": r.Method,
		"query":  r.URL.RawQuery,
		"body":   string(body),
		"trace":  r.Header.Get("X-Trace"),
	})
}

func newTestEnv(t *testing.T, store storage.Store, opts Options) *testEnv {
	t.Helper()

	verifier, err := identity.NewJWTVerifier("test-secret", "", "")
	if err != nil {
		t.Fatalf("Failed to create verifier: %v", err)
	}

	upstream := httptest.NewServer(http.HandlerFunc(upstreamHandler))
	t.Cleanup(upstream.Close)

	logger := zerolog.Nop()
	h := NewHandler(
		identity.NewResolver(verifier, logger),
		relay.NewClient(relay.Config{Timeout: 5 * time.Second}, logger),
		history.NewRecorder(store, logger),
		collection.NewManager(store, logger),
		opts,
		logger,
	)

	app := NewApp(AppConfig{BodyLimit: 1024 * 1024}, h, logger)
	return &testEnv{app: app, verifier: verifier, upstream: upstream}
}

func setupTestApp(t *testing.T, opts Options) *testEnv {
	t.Helper()

	// Create temp directory
	tempDir, err := os.MkdirTemp("", "api_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tempDir, "test.db")
	store, err := sqlite.New(dbPath)
	if err != nil {
		if removeErr := os.RemoveAll(tempDir); removeErr != nil {
			t.Logf("Failed to remove temp dir: %v", removeErr)
		}
		t.Fatalf("Failed to create store: %v", err)
	}

	t.Cleanup(func() {
		if closeErr := store.Close(); closeErr != nil {
			t.Logf("Failed to close store: %v", closeErr)
		}
		if removeErr := os.RemoveAll(tempDir); removeErr != nil {
			t.Logf("Failed to remove temp dir: %v", removeErr)
		}
	})

	return newTestEnv(t, store, opts)
}

func (e *testEnv) token(t *testing.T, subject string) string {
	t.Helper()
	tok, err := e.verifier.Issue(subject, subject+"@example.test", time.Hour)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	return tok
}

// do sends a request with an optional JSON body and bearer token and decodes
// the JSON response into out when out is non-nil.
func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}, out interface{}) int {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("Failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("Failed to decode response %q: %v", raw, err)
		}
	}
	return resp.StatusCode
}

func (e *testEnv) proxy(t *testing.T, token string, body interface{}) (int, types.ProxyResponse) {
	t.Helper()
	var out types.ProxyResponse
	status := e.do(t, http.MethodPost, "/proxy", token, body, &out)
	return status, out
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestApp(t, Options{})

	if status := env.do(t, http.MethodGet, "/health", "", nil, nil); status != http.StatusOK {
		t.Errorf("Expected status 200, got %d", status)
	}
}

func TestRootEndpoint(t *testing.T) {
	env := setupTestApp(t, Options{})

	var msg types.MessageResponse
	if status := env.do(t, http.MethodGet, "/", "", nil, &msg); status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if msg.Message == "" {
		t.Error("Expected a liveness message")
	}
}

func TestProxyAnonymous(t *testing.T) {
	env := setupTestApp(t, Options{})

	status, out := env.proxy(t, "", map[string]interface{}{
		"url":    env.upstream.URL + "/echo",
		"method": "GET",
		"params": map[string]string{"q": "relay"},
	})
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if out.Status != http.StatusOK {
		t.Errorf("Expected upstream status 200, got %d", out.Status)
	}
	if out.RequestID != nil {
		t.Errorf("Expected null requestId for anonymous caller, got %s", *out.RequestID)
	}

	var echo map[string]string
	if err := json.Unmarshal(out.Data, &echo); err != nil {
		t.Fatalf("Failed to decode data: %v", err)
	}
	if echo["query"] != "q=relay" {
		t.Errorf("Query mismatch: got %q", echo["query"])
	}

	var records []types.HistoryRecord
	env.do(t, http.MethodGet, "/history", "", nil, &records)
	if len(records) != 0 {
		t.Errorf("Expected no anonymous history, got %d records", len(records))
	}
}

func TestProxyPassesThroughUpstreamErrors(t *testing.T) {
	env := setupTestApp(t, Options{})
	token := env.token(t, "user-a")

	for _, code := range []int{404, 500} {
		status, out := env.proxy(t, token, map[string]string{
			"url":    fmt.Sprintf("%s/status/%d", env.upstream.URL, code),
			"method": "GET",
		})
		if status != http.StatusOK {
			t.Fatalf("Expected relay status 200, got %d", status)
		}
		if out.Status != code {
			t.Errorf("Expected upstream status %d, got %d", code, out.Status)
		}
		if string(out.Data) != fmt.Sprintf(`{"code":%d}`, code) {
			t.Errorf("Data mismatch: got %s", out.Data)
		}
		if out.RequestID == nil {
			t.Error("Expected requestId for authenticated caller")
		}
	}
}

func TestProxyValidation(t *testing.T) {
	env := setupTestApp(t, Options{})

	tests := map[string]interface{}{
		"missing url":    map[string]string{"method": "GET"},
		"missing method": map[string]string{"url": env.upstream.URL},
		"blank url":      map[string]string{"url": "   ", "method": "GET"},
		"malformed":      `{"url":`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			var errResp types.ErrorResponse
			status := env.do(t, http.MethodPost, "/proxy", "", body, &errResp)
			if status != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", status)
			}
			if errResp.Error == "" {
				t.Error("Expected error message")
			}
		})
	}
}

func TestProxyTransportFailure(t *testing.T) {
	env := setupTestApp(t, Options{})

	closed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := closed.URL
	closed.Close()

	var errResp types.ErrorResponse
	status := env.do(t, http.MethodPost, "/proxy", "", map[string]string{"url": url, "method": "GET"}, &errResp)
	if status != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", status)
	}
	if errResp.Error == "" {
		t.Error("Expected error message")
	}
}

func TestProxyNonStringHeaderValues(t *testing.T) {
	env := setupTestApp(t, Options{})

	body := `{"url":"` + env.upstream.URL + `/echo","method":"GET","headers":{"X-Trace":7}}`
	status, out := env.proxy(t, "", body)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}

	var echo map[string]string
	if err := json.Unmarshal(out.Data, &echo); err != nil {
		t.Fatalf("Failed to decode data: %v", err)
	}
	if echo["trace"] != "7" {
		t.Errorf("Expected header sent as literal text, got %q", echo["trace"])
	}
}

func TestHistoryScenario(t *testing.T) {
	env := setupTestApp(t, Options{})
	tokenA := env.token(t, "user-a")
	tokenB := env.token(t, "user-b")

	// Params keep order and duplicates all the way into history.
	body := `{"url":"` + env.upstream.URL + `/echo","method":"GET","headers":{"X-Trace":"t-1"},"params":{"tag":"a","tag":"b","page":1}}`
	status, out := env.proxy(t, tokenA, body)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if out.RequestID == nil {
		t.Fatal("Expected requestId")
	}

	var echo map[string]string
	if err := json.Unmarshal(out.Data, &echo); err != nil {
		t.Fatalf("Failed to decode data: %v", err)
	}
	if echo["query"] != "tag=a&tag=b&page=1" {
		t.Errorf("Query mismatch: got %q", echo["query"])
	}
	if echo["trace"] != "t-1" {
		t.Errorf("Header not forwarded: got %q", echo["trace"])
	}

	var records []types.HistoryRecord
	if status := env.do(t, http.MethodGet, "/history", tokenA, nil, &records); status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	rec := records[0]
	if rec.ID != *out.RequestID || rec.Method != "GET" || rec.ResponseStatus != 200 {
		t.Errorf("Record mismatch: got %+v", rec)
	}
	raw, _ := json.Marshal(rec.QueryParams)
	if string(raw) != `{"tag":"a","tag":"b","page":"1"}` {
		t.Errorf("QueryParams mismatch: got %s", raw)
	}
	if rec.Headers["X-Trace"] != "t-1" {
		t.Errorf("Headers mismatch: got %v", rec.Headers)
	}

	// Reads are idempotent.
	var again []types.HistoryRecord
	env.do(t, http.MethodGet, "/history", tokenA, nil, &again)
	if len(again) != 1 || again[0].ID != rec.ID {
		t.Errorf("Second read differs: got %+v", again)
	}

	var single types.HistoryRecord
	if status := env.do(t, http.MethodGet, "/history/"+rec.ID, tokenA, nil, &single); status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if single.ID != rec.ID {
		t.Errorf("Expected %s, got %s", rec.ID, single.ID)
	}

	// Another caller sees nothing of user-a's.
	var others []types.HistoryRecord
	env.do(t, http.MethodGet, "/history", tokenB, nil, &others)
	if len(others) != 0 {
		t.Errorf("Expected empty history for user-b, got %d", len(others))
	}
	if status := env.do(t, http.MethodGet, "/history/"+rec.ID, tokenB, nil, nil); status != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", status)
	}
	if status := env.do(t, http.MethodGet, "/history/"+rec.ID, "", nil, nil); status != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", status)
	}
}

func TestHistoryCap(t *testing.T) {
	env := setupTestApp(t, Options{})
	token := env.token(t, "user-a")

	var last string
	for i := 0; i < history.MaxRecords+3; i++ {
		_, out := env.proxy(t, token, map[string]string{
			"url":    fmt.Sprintf("%s/echo?i=%d", env.upstream.URL, i),
			"method": "GET",
		})
		if out.RequestID == nil {
			t.Fatalf("Request %d: expected requestId", i)
		}
		last = *out.RequestID
	}

	var records []types.HistoryRecord
	env.do(t, http.MethodGet, "/history", token, nil, &records)
	if len(records) != history.MaxRecords {
		t.Fatalf("Expected %d records, got %d", history.MaxRecords, len(records))
	}
	if records[0].ID != last {
		t.Errorf("Expected newest record first, got %s", records[0].ID)
	}
}

func TestCollectionsScenario(t *testing.T) {
	env := setupTestApp(t, Options{})
	tokenA := env.token(t, "user-a")
	tokenB := env.token(t, "user-b")

	_, out := env.proxy(t, tokenA, map[string]string{"url": env.upstream.URL + "/text", "method": "GET"})
	if string(out.Data) != `"plain text"` {
		t.Errorf("Expected text body as JSON string, got %s", out.Data)
	}
	if out.RequestID == nil {
		t.Fatal("Expected requestId")
	}

	var col types.Collection
	if status := env.do(t, http.MethodPost, "/collections", tokenA, map[string]string{"name": "Favourites"}, &col); status != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", status)
	}
	if col.ID == "" || col.Name != "Favourites" || col.Requests == nil || len(col.Requests) != 0 {
		t.Errorf("Collection mismatch: got %+v", col)
	}

	var item types.CollectionItem
	addBody := map[string]string{"collectionId": col.ID, "requestId": *out.RequestID}
	if status := env.do(t, http.MethodPost, "/collection-items", tokenA, addBody, &item); status != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", status)
	}
	if item.ID == "" {
		t.Error("Expected item id")
	}

	var cols []types.Collection
	env.do(t, http.MethodGet, "/collections", tokenA, nil, &cols)
	if len(cols) != 1 || cols[0].ID != col.ID {
		t.Fatalf("Expected 1 collection, got %+v", cols)
	}
	if len(cols[0].Requests) != 1 || cols[0].Requests[0] != *out.RequestID {
		t.Errorf("Requests mismatch: got %v", cols[0].Requests)
	}

	// user-b can neither see nor add to user-a's collection.
	var othersCols []types.Collection
	env.do(t, http.MethodGet, "/collections", tokenB, nil, &othersCols)
	if len(othersCols) != 0 {
		t.Errorf("Expected no collections for user-b, got %d", len(othersCols))
	}
	if status := env.do(t, http.MethodPost, "/collection-items", tokenB, addBody, nil); status != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", status)
	}
	unknown := map[string]string{"collectionId": "col_missing", "requestId": *out.RequestID}
	if status := env.do(t, http.MethodPost, "/collection-items", tokenA, unknown, nil); status != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", status)
	}
}

func TestCollectionWritesRequireAuth(t *testing.T) {
	env := setupTestApp(t, Options{})
	token := env.token(t, "user-a")

	if status := env.do(t, http.MethodPost, "/collections", "", map[string]string{"name": "x"}, nil); status != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", status)
	}
	if status := env.do(t, http.MethodPost, "/collection-items", "", map[string]string{"collectionId": "c", "requestId": "r"}, nil); status != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", status)
	}
	if status := env.do(t, http.MethodPost, "/collections", "not-a-jwt", map[string]string{"name": "x"}, nil); status != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for invalid token, got %d", status)
	}
	if status := env.do(t, http.MethodPost, "/collections", token, map[string]string{"name": "  "}, nil); status != http.StatusBadRequest {
		t.Errorf("Expected status 400 for blank name, got %d", status)
	}
	if status := env.do(t, http.MethodPost, "/collection-items", token, map[string]string{"collectionId": "c"}, nil); status != http.StatusBadRequest {
		t.Errorf("Expected status 400 for missing requestId, got %d", status)
	}
}

func TestAnonymousReads(t *testing.T) {
	lenient := setupTestApp(t, Options{})
	for _, path := range []string{"/history", "/collections"} {
		var list []json.RawMessage
		if status := lenient.do(t, http.MethodGet, path, "", nil, &list); status != http.StatusOK {
			t.Errorf("%s: expected status 200, got %d", path, status)
		}
		if list == nil || len(list) != 0 {
			t.Errorf("%s: expected empty list, got %v", path, list)
		}
	}

	strict := setupTestApp(t, Options{RequireAuthForReads: true})
	for _, path := range []string{"/history", "/collections"} {
		if status := strict.do(t, http.MethodGet, path, "", nil, nil); status != http.StatusUnauthorized {
			t.Errorf("%s: expected status 401, got %d", path, status)
		}
	}
}

var errStoreDown = errors.New("store down")

// failingStore fails every operation.
type failingStore struct{}

func (failingStore) CreateHistory(context.Context, *storage.HistoryRecord) error { return errStoreDown }
func (failingStore) GetHistory(context.Context, string) (*storage.HistoryRecord, error) {
	return nil, errStoreDown
}
func (failingStore) ListHistory(context.Context, storage.HistoryFilter) ([]*storage.HistoryRecord, error) {
	return nil, errStoreDown
}
func (failingStore) CreateCollection(context.Context, *storage.CollectionRecord) error {
	return errStoreDown
}
func (failingStore) GetCollection(context.Context, string) (*storage.CollectionRecord, error) {
	return nil, errStoreDown
}
func (failingStore) ListCollections(context.Context, string) ([]*storage.CollectionRecord, error) {
	return nil, errStoreDown
}
func (failingStore) CreateCollectionItem(context.Context, *storage.CollectionItemRecord) error {
	return errStoreDown
}
func (failingStore) ListCollectionItems(context.Context, string, string) ([]*storage.CollectionItemRecord, error) {
	return nil, errStoreDown
}
func (failingStore) Close() error { return nil }

func TestStoreFailures(t *testing.T) {
	env := newTestEnv(t, failingStore{}, Options{})
	token := env.token(t, "user-a")

	// The relayed result survives a failed history write.
	status, out := env.proxy(t, token, map[string]string{"url": env.upstream.URL + "/status/201", "method": "GET"})
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", status)
	}
	if out.Status != 201 {
		t.Errorf("Expected upstream status 201, got %d", out.Status)
	}
	if out.RequestID != nil {
		t.Errorf("Expected null requestId, got %s", *out.RequestID)
	}
	if out.HistoryError == "" {
		t.Error("Expected historyError")
	}

	// Reads degrade to empty lists.
	for _, path := range []string{"/history", "/collections"} {
		var list []json.RawMessage
		if status := env.do(t, http.MethodGet, path, token, nil, &list); status != http.StatusOK {
			t.Errorf("%s: expected status 200, got %d", path, status)
		}
		if len(list) != 0 {
			t.Errorf("%s: expected empty list, got %d entries", path, len(list))
		}
	}

	// Writes surface the failure.
	if status := env.do(t, http.MethodPost, "/collections", token, map[string]string{"name": "x"}, nil); status != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", status)
	}
	if status := env.do(t, http.MethodPost, "/collection-items", token, map[string]string{"collectionId": "c", "requestId": "r"}, nil); status != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", status)
	}
}
