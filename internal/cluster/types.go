package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// StorageStats is the capacity a node reports about itself.
type StorageStats struct {
	AllocatedBytes int64   `json:"allocated_bytes"`
	UsedBytes      int64   `json:"used_bytes"`
	FreeBytes      int64   `json:"free_bytes"`
	ChunkCount     int     `json:"chunk_count,omitempty"`
	UsagePercent   float64 `json:"usage_percent,omitempty"`
}

// RegisterRequest is the body of POST /api/nodes/register.
// StorageStats is a pointer so that an absent object can be told apart from
// a node that reports zero capacity.
type RegisterRequest struct {
	StorageStats *StorageStats `json:"storage_stats"`
	NodeID       string        `json:"node_id"`
	Address      string        `json:"address"`
	Version      string        `json:"version,omitempty"`
}

// HeartbeatRequest is the body of POST /api/nodes/heartbeat.
type HeartbeatRequest struct {
	StorageStats *StorageStats `json:"storage_stats"`
	NodeID       string        `json:"node_id"`
}

// ChunkMetadata precedes the chunk bytes in a store request.
type ChunkMetadata struct {
	ChunkID   string `json:"chunk_id"`
	FileID    string `json:"file_id"`
	Filename  string `json:"filename"`
	ChunkSize int64  `json:"chunk_size"`
}

// StoreResponse is a node's answer to a store request. Only Success == true
// counts as an acknowledgement.
type StoreResponse struct {
	Error       string `json:"error,omitempty"`
	StoredBytes int64  `json:"stored_bytes,omitempty"`
	Success     bool   `json:"success"`
}

// BaseURL normalizes a node address into a scheme-qualified URL without a
// trailing slash. Bare host:port addresses are assumed to be plain HTTP.
func BaseURL(addr string) string {
	u := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = "http://" + u
	}
	return u
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &StatusError{URL: url, Code: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %s: %d", e.URL, e.Code)
}
