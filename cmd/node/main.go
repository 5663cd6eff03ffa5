// Package main implements the volunteer storage node, which keeps the chunks
// the coordinator pushes to it and serves them back on request.
//
// The node is a worker in the cluster, responsible for:
//   - Registering with the coordinator and reporting its capacity
//   - Sending a heartbeat every 30 seconds
//   - Storing chunks (POST /chunk) and serving them (GET /chunk?id=)
//   - Verifying chunk checksums before returning bytes
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│                Node                     │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    /health       - Health check         │
//	│    /chunk        - Store / fetch chunk  │
//	│    /info         - Node information     │
//	├─────────────────────────────────────────┤
//	│  Components:                            │
//	│    Node          - Runtime state        │
//	│    storage.Store - Chunk storage        │
//	│    Heartbeat     - Coordinator link     │
//	└─────────────────────────────────────────┘
//
// Configuration:
//   - NODE_ID: Unique node identifier (default: random "node-<uuid>")
//   - NODE_LISTEN: Listen address (default: ":8420")
//   - NODE_ADDR: Public address for coordinator (default: "http://127.0.0.1:8420")
//   - COORDINATOR_ADDR: Coordinator URL (required)
//   - NODE_STORAGE_PATH: Chunk directory (default: in-memory store)
//   - NODE_ALLOCATED_GB: Volunteered capacity in GiB (default: 100)
//
// Example usage:
//
//	NODE_ID=node-1 \
//	NODE_ADDR=http://localhost:8420 \
//	NODE_STORAGE_PATH=./node_storage \
//	COORDINATOR_ADDR=http://localhost:8080 \
//	./node
package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/dreamware/pjas/internal/activity"
	"github.com/dreamware/pjas/internal/cluster"
	"github.com/dreamware/pjas/internal/storage"
)

const (
	defaultListen       = ":8420"
	defaultPublic       = "http://127.0.0.1:8420"
	defaultAllocatedGB  = 100
	heartbeatInterval   = 30 * time.Second
	registerAttempts    = 10
	nodeVersion         = "1.0.0"
	maxChunkRequestSize = 64 << 20
)

// logFatal is a variable to allow mocking log.Fatal in tests.
// This indirection enables test code to intercept fatal errors
// without actually terminating the test process.
var logFatal = log.Fatalf

// registerRetryDelay is the pause between registration attempts.
var registerRetryDelay = 400 * time.Millisecond

// Node represents a storage node in the cluster: an identity plus the store
// that holds its chunks.
//
// Concurrency model:
//   - The store synchronizes its own access
//   - Node fields are immutable after creation
type Node struct {
	store storage.Store

	logger *log.Logger

	// started is used for the uptime reported by /info.
	started time.Time

	// ID uniquely identifies this node in the cluster.
	ID string

	// Address is the public URL the coordinator pushes chunks to.
	Address string
}

// NewNode creates a node backed by store.
//
// Parameters:
//   - id: Unique identifier for this node (must not be empty)
//   - address: Public URL of this node
//   - store: Chunk storage backend
//   - logger: Process logger (nil uses the default logger)
//
// Example:
//
//	node := NewNode("node-1", "http://127.0.0.1:8420", storage.NewMemoryStore(1<<30), nil)
func NewNode(id, address string, store storage.Store, logger *log.Logger) *Node {
	if logger == nil {
		logger = log.Default()
	}
	return &Node{
		ID:      id,
		Address: address,
		store:   store,
		logger:  logger.With("node", id),
		started: time.Now(),
	}
}

// Routes returns the node's HTTP handler.
func (n *Node) Routes() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint for monitoring
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "node_id": n.ID})
	})

	// Chunk protocol: POST stores, GET ?id= fetches
	mux.HandleFunc("/chunk", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			n.handleStoreChunk(w, r)
		case http.MethodGet:
			n.handleGetChunk(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/info", n.handleInfo)
	return mux
}

// RegisterRequest builds the registration body with current capacity.
func (n *Node) RegisterRequest() cluster.RegisterRequest {
	return cluster.RegisterRequest{
		NodeID:       n.ID,
		Address:      n.Address,
		Version:      nodeVersion,
		StorageStats: n.store.Stats().Cluster(),
	}
}

// verifyStore reads back every indexed chunk and drops the ones that are
// missing or fail their checksum. Returns how many chunks were kept and
// dropped.
func (n *Node) verifyStore() (kept, dropped int) {
	for _, id := range n.store.List() {
		_, err := n.store.Get(id)
		switch {
		case err == nil:
			kept++
		case errors.Is(err, storage.ErrChunkNotFound), errors.Is(err, storage.ErrChecksumMismatch):
			if derr := n.store.Delete(id); derr != nil {
				n.logger.Error("drop unreadable chunk", "chunk", id, "err", derr)
				continue
			}
			n.logger.Warn("dropped unreadable chunk", "chunk", id, "err", err)
			dropped++
		default:
			n.logger.Warn("verify chunk", "chunk", id, "err", err)
			kept++
		}
	}
	return kept, dropped
}

// handleStoreChunk decodes a chunk request and writes it to the store.
//
// Endpoint: POST /chunk
//
// Request:
//   - Header X-Metadata-Length: byte length of the JSON metadata prefix
//   - Body: metadata JSON followed by the raw chunk bytes
//
// Response:
//   - 200 OK: {"success": true, "stored_bytes": n}
//   - 400 Bad Request: malformed request
//   - 507 Insufficient Storage: chunk larger than free space
//   - 500 Internal Server Error: storage backend error
//
// Every non-200 response carries {"success": false, "error": "..."}.
func (n *Node) handleStoreChunk(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxChunkRequestSize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, cluster.StoreResponse{Error: "failed to read body"})
		return
	}

	meta, data, err := cluster.DecodeChunk(r.Header.Get(cluster.MetadataLengthHeader), payload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, cluster.StoreResponse{Error: err.Error()})
		return
	}

	if err := n.store.Put(meta.ChunkID, meta.FileID, data); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, storage.ErrInsufficientSpace):
			status = http.StatusInsufficientStorage
		case errors.Is(err, storage.ErrInvalidChunkID):
			status = http.StatusBadRequest
		}
		n.logger.Error("store chunk failed", "chunk", meta.ChunkID, "err", err)
		writeJSON(w, status, cluster.StoreResponse{Error: err.Error()})
		return
	}

	n.logger.Info("stored chunk", "chunk", meta.ChunkID, "file", meta.FileID,
		"size", activity.FormatBytes(int64(len(data))))
	writeJSON(w, http.StatusOK, cluster.StoreResponse{Success: true, StoredBytes: int64(len(data))})
}

// handleGetChunk returns raw chunk bytes.
//
// Endpoint: GET /chunk?id={chunk_id}
//
// Response:
//   - 200 OK: raw bytes, application/octet-stream
//   - 400 Bad Request: id missing
//   - 404 Not Found: chunk not stored here
//   - 500 Internal Server Error: checksum mismatch or read failure
func (n *Node) handleGetChunk(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing chunk id", http.StatusBadRequest)
		return
	}

	data, err := n.store.Get(id)
	switch {
	case errors.Is(err, storage.ErrChunkNotFound):
		http.Error(w, "chunk not found", http.StatusNotFound)
		return
	case err != nil:
		n.logger.Error("read chunk failed", "chunk", id, "err", err)
		http.Error(w, "chunk unreadable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		n.logger.Warn("write chunk response", "chunk", id, "err", err)
	}
}

// handleInfo returns a node summary for monitoring and debugging.
//
// Endpoint: GET /info
//
// Response body:
//
//	{
//	  "node_id": "node-1",
//	  "address": "http://127.0.0.1:8420",
//	  "version": "1.0.0",
//	  "uptime_seconds": 42,
//	  "storage_stats": {"allocated_bytes": ..., "used_bytes": ..., "free_bytes": ...}
//	}
func (n *Node) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		StorageStats *cluster.StorageStats `json:"storage_stats"`
		NodeID       string                `json:"node_id"`
		Address      string                `json:"address"`
		Version      string                `json:"version"`
		Uptime       int64                 `json:"uptime_seconds"`
	}{
		StorageStats: n.store.Stats().Cluster(),
		NodeID:       n.ID,
		Address:      n.Address,
		Version:      nodeVersion,
		Uptime:       int64(time.Since(n.started).Seconds()),
	})
}

// main initializes and runs the node service, registering with the coordinator
// and serving chunk operations until shutdown.
//
// The main function:
//  1. Reads configuration from environment variables
//  2. Opens the chunk store (disk when NODE_STORAGE_PATH is set)
//  3. Drops indexed chunks that can no longer be read back
//  4. Sets up HTTP endpoints
//  5. Registers with coordinator (with retries)
//  6. Heartbeats until shutdown signal
//  7. Performs graceful shutdown
//
// Exit codes:
//   - 0: Normal shutdown via signal
//   - 1: Missing required configuration, storage or registration failure
func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "node"})

	nodeID := getenv("NODE_ID", "node-"+uuid.NewString()[:8])
	listen := getenv("NODE_LISTEN", defaultListen)
	public := getenv("NODE_ADDR", defaultPublic)
	coord := mustGetenv("COORDINATOR_ADDR")
	allocated := allocatedBytes(getenv("NODE_ALLOCATED_GB", ""))

	store, err := openStore(getenv("NODE_STORAGE_PATH", ""), nodeID, allocated)
	if err != nil {
		logFatal("open storage: %v", err)
		return
	}

	node := NewNode(nodeID, public, store, logger)
	kept, dropped := node.verifyStore()
	logger.Info("node initialized", "id", nodeID, "allocated", activity.FormatBytes(allocated),
		"chunks", kept, "dropped", dropped)

	// Configure HTTP server with security timeouts
	s := &http.Server{
		Addr:              listen,
		Handler:           node.Routes(),
		ReadHeaderTimeout: 5 * time.Second, // Prevent slowloris attacks
	}

	// Start server in goroutine for non-blocking operation
	go func() {
		logger.Info("listening", "addr", listen, "public", public)
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Register with coordinator (with retries)
	register(ctx, coord, node)
	go heartbeatLoop(ctx, coord, node, heartbeatInterval)

	// Set up signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	cancel()

	// Initiate graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}
	logger.Info("node stopped")
}

// openStore picks a DiskStore when path is set and a MemoryStore otherwise.
func openStore(path, nodeID string, allocated int64) (storage.Store, error) {
	if path == "" {
		return storage.NewMemoryStore(allocated), nil
	}
	return storage.OpenDiskStore(path, nodeID, allocated)
}

// allocatedBytes parses NODE_ALLOCATED_GB, falling back to 100 GiB for
// missing or non-positive values.
func allocatedBytes(gb string) int64 {
	v, err := strconv.ParseFloat(gb, 64)
	if err != nil || v <= 0 {
		v = defaultAllocatedGB
	}
	return int64(v * (1 << 30))
}

// register attempts to register the node with the coordinator, retrying on
// failure to handle coordinator startup delays or temporary network issues.
//
// Retry strategy:
//   - 10 attempts maximum
//   - registerRetryDelay between attempts
//   - Fatal error if all attempts fail
//
// Error handling:
//   - Network errors trigger retry
//   - 4xx/5xx responses trigger retry
//   - Persistent failure is fatal (the coordinator never places chunks on
//     an unregistered node)
func register(ctx context.Context, coord string, node *Node) {
	url := cluster.BaseURL(coord) + "/api/nodes/register"
	var lastErr error

	for i := 0; i < registerAttempts; i++ {
		lastErr = cluster.PostJSON(ctx, url, node.RegisterRequest(), nil)
		if lastErr == nil {
			node.logger.Info("registered with coordinator", "coordinator", coord)
			return
		}
		node.logger.Warn("register retry", "attempt", i+1, "err", lastErr)
		time.Sleep(registerRetryDelay)
	}

	logFatal("failed to register with coordinator: %v", lastErr)
}

// heartbeat sends one heartbeat. A 404 means the coordinator forgot this
// node (it keeps no state across restarts), so the node registers again.
func heartbeat(ctx context.Context, coord string, node *Node) error {
	req := cluster.HeartbeatRequest{NodeID: node.ID, StorageStats: node.store.Stats().Cluster()}
	err := cluster.PostJSON(ctx, cluster.BaseURL(coord)+"/api/nodes/heartbeat", req, nil)

	var se *cluster.StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		node.logger.Warn("coordinator does not know this node, registering again")
		return cluster.PostJSON(ctx, cluster.BaseURL(coord)+"/api/nodes/register", node.RegisterRequest(), nil)
	}
	return err
}

// heartbeatLoop sends a heartbeat every interval until ctx is cancelled.
// Failures are logged and retried on the next tick.
func heartbeatLoop(ctx context.Context, coord string, node *Node, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := heartbeat(ctx, coord, node); err != nil {
				node.logger.Warn("heartbeat failed", "err", err)
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// getenv retrieves an environment variable with a default fallback value.
//
// Example:
//
//	listen := getenv("NODE_LISTEN", ":8420")
//	// Returns $NODE_LISTEN if set, otherwise ":8420"
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// mustGetenv retrieves a required environment variable, terminating the
// program if it's not set.
func mustGetenv(k string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	logFatal("missing env %s", k)
	return ""
}
