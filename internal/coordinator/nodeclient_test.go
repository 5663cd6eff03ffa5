package coordinator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/pjas/internal/cluster"
)

// chunkNode is a minimal node speaking the chunk protocol for client tests.
func chunkNode(t *testing.T, store func(meta cluster.ChunkMetadata, data []byte) (int, any)) *httptest.Server {
	t.Helper()
	chunks := map[string][]byte{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			payload, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			meta, data, err := cluster.DecodeChunk(r.Header.Get(cluster.MetadataLengthHeader), payload)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(cluster.StoreResponse{Error: err.Error()})
				return
			}
			code, body := store(meta, data)
			if code == http.StatusOK {
				chunks[meta.ChunkID] = append([]byte(nil), data...)
			}
			w.WriteHeader(code)
			if s, ok := body.(string); ok {
				io.WriteString(w, s)
				return
			}
			json.NewEncoder(w).Encode(body)
		case http.MethodGet:
			data, ok := chunks[r.URL.Query().Get("id")]
			if !ok {
				http.NotFound(w, r)
				return
			}
			w.Write(data)
		}
	}))
}

func TestNodeClientPushAndFetch(t *testing.T) {
	var gotMeta cluster.ChunkMetadata
	srv := chunkNode(t, func(meta cluster.ChunkMetadata, data []byte) (int, any) {
		gotMeta = meta
		return http.StatusOK, cluster.StoreResponse{Success: true, StoredBytes: int64(len(data))}
	})
	defer srv.Close()

	c := NewNodeClient(time.Second, time.Second)
	node := Node{ID: "n1", Address: srv.URL}
	meta := cluster.ChunkMetadata{ChunkID: "c1", FileID: "f1", Filename: "a.txt"}

	require.NoError(t, c.Push(context.Background(), node, meta, []byte("hello world")))
	assert.Equal(t, "c1", gotMeta.ChunkID)
	assert.Equal(t, "f1", gotMeta.FileID)
	assert.Equal(t, int64(11), gotMeta.ChunkSize)

	data, err := c.Fetch(context.Background(), node, "c1", 11)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	_, err = c.Fetch(context.Background(), node, "missing", 11)
	assert.ErrorIs(t, err, ErrNodeRejected)
}

func TestNodeClientPushRejections(t *testing.T) {
	tests := []struct {
		name string
		code int
		body any
	}{
		{"success false", http.StatusOK, cluster.StoreResponse{Success: false, Error: "Not enough free space"}},
		{"server error", http.StatusInternalServerError, cluster.StoreResponse{Success: true}},
		{"no json", http.StatusOK, "stored"},
		{"empty object", http.StatusOK, map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := chunkNode(t, func(cluster.ChunkMetadata, []byte) (int, any) { return tt.code, tt.body })
			defer srv.Close()

			c := NewNodeClient(time.Second, time.Second)
			err := c.Push(context.Background(), Node{ID: "n1", Address: srv.URL}, cluster.ChunkMetadata{ChunkID: "c1"}, []byte("x"))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrNodeRejected)

			var ne *NodeError
			require.ErrorAs(t, err, &ne)
			assert.Equal(t, "n1", ne.NodeID)
			assert.Equal(t, "c1", ne.ChunkID)
			assert.Equal(t, "push", ne.Op)
		})
	}
}

func TestNodeClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := NewNodeClient(time.Second, time.Second)
	node := Node{ID: "gone", Address: addr}

	err := c.Push(context.Background(), node, cluster.ChunkMetadata{ChunkID: "c1"}, []byte("x"))
	assert.ErrorIs(t, err, ErrNodeUnreachable)

	_, err = c.Fetch(context.Background(), node, "c1", 1)
	assert.ErrorIs(t, err, ErrNodeUnreachable)
}

func TestNodeClientTimeouts(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewNodeClient(50*time.Millisecond, 50*time.Millisecond)
	node := Node{ID: "slow", Address: srv.URL}

	start := time.Now()
	err := c.Push(context.Background(), node, cluster.ChunkMetadata{ChunkID: "c1"}, []byte("x"))
	assert.ErrorIs(t, err, ErrNodeUnreachable)

	_, err = c.Fetch(context.Background(), node, "c1", 1)
	assert.ErrorIs(t, err, ErrNodeUnreachable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNodeClientFetchWrongLength(t *testing.T) {
	body := make([]byte, 1<<20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	c := NewNodeClient(time.Second, time.Second)
	node := Node{ID: "n1", Address: srv.URL}

	tests := []struct {
		name string
		size int64
	}{
		{"oversized body", 10},
		{"short body", 2 << 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := c.Fetch(context.Background(), node, "c1", tt.size)
			assert.Nil(t, data)
			assert.ErrorIs(t, err, ErrNodeRejected)
			assert.ErrorIs(t, err, ErrLengthMismatch)
		})
	}

	data, err := c.Fetch(context.Background(), node, "c1", int64(len(body)))
	require.NoError(t, err)
	assert.Len(t, data, len(body))
}
