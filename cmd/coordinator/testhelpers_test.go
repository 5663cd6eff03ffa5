package main

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dreamware/pjas/internal/cluster"
	"github.com/dreamware/pjas/internal/config"
	"github.com/dreamware/pjas/internal/coordinator"
	"github.com/dreamware/pjas/internal/storage"
)

// newTestServer builds a server with rate limiting disabled unless the
// caller's mutate says otherwise.
func newTestServer(t *testing.T, mutate func(cfg *config.Coordinator)) (*server, http.Handler) {
	t.Helper()
	cfg := config.Default()
	cfg.RateLimiters = config.RateLimiters{}
	cfg.PushTimeout = 2 * time.Second
	cfg.FetchTimeout = 2 * time.Second
	if mutate != nil {
		mutate(cfg)
	}
	srv := newServer(cfg, coordinator.NewNodeClient(cfg.PushTimeout, cfg.FetchTimeout), log.New(io.Discard))
	t.Cleanup(srv.close)
	return srv, srv.routes()
}

// storageNode serves the chunk protocol from a MemoryStore.
func storageNode(t *testing.T, allocated int64) (*httptest.Server, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore(allocated)
	mux := http.NewServeMux()
	mux.HandleFunc("/chunk", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			payload, _ := io.ReadAll(r.Body)
			meta, data, err := cluster.DecodeChunk(r.Header.Get(cluster.MetadataLengthHeader), payload)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, cluster.StoreResponse{Error: err.Error()})
				return
			}
			if err := store.Put(meta.ChunkID, meta.FileID, data); err != nil {
				writeJSON(w, http.StatusInsufficientStorage, cluster.StoreResponse{Error: err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, cluster.StoreResponse{Success: true, StoredBytes: int64(len(data))})
		case http.MethodGet:
			data, err := store.Get(r.URL.Query().Get("id"))
			if err != nil {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write(data)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(out); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
}

func registerNode(t *testing.T, h http.Handler, id, address string, free int64) {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/api/nodes/register", cluster.RegisterRequest{
		NodeID:       id,
		Address:      address,
		StorageStats: &cluster.StorageStats{AllocatedBytes: free, FreeBytes: free},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Register %s: expected 200, got %d: %s", id, w.Code, w.Body.String())
	}
}

func uploadRequest(t *testing.T, field, name string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, name)
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("Failed to write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Failed to close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func patterned(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}
