package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/dreamware/pjas/internal/cluster"
)

// maxStoreResponse bounds how much of a store response body is read.
const maxStoreResponse = 64 * 1024

// ChunkTransport moves chunk bytes between the coordinator and one node.
// Implementations bound every call by their own timeout and report
// failures as *NodeError.
type ChunkTransport interface {
	Push(ctx context.Context, node Node, meta cluster.ChunkMetadata, data []byte) error
	Fetch(ctx context.Context, node Node, chunkID string, size int64) ([]byte, error)
}

// NodeClient speaks the node chunk protocol over HTTP.
type NodeClient struct {
	httpClient   *http.Client
	pushTimeout  time.Duration
	fetchTimeout time.Duration
}

// NewNodeClient creates a client whose pushes and fetches are each bounded
// by the given timeouts, independent of the caller's deadline.
func NewNodeClient(pushTimeout, fetchTimeout time.Duration) *NodeClient {
	return &NodeClient{
		// per-call deadlines come from the context
		httpClient:   &http.Client{},
		pushTimeout:  pushTimeout,
		fetchTimeout: fetchTimeout,
	}
}

// Push stores one chunk on node. Only a 2xx answer whose JSON body carries
// success=true counts as stored.
func (c *NodeClient) Push(ctx context.Context, node Node, meta cluster.ChunkMetadata, data []byte) error {
	fail := func(kind, err error) error {
		return &NodeError{Op: "push", NodeID: node.ID, ChunkID: meta.ChunkID, Kind: kind, Err: err}
	}

	body, metaLen, err := cluster.EncodeChunk(meta, data)
	if err != nil {
		return fail(ErrNodeRejected, errors.Wrap(err, "encode chunk"))
	}

	ctx, cancel := context.WithTimeout(ctx, c.pushTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cluster.StoreURL(node.Address), bytes.NewReader(body))
	if err != nil {
		return fail(ErrNodeUnreachable, errors.Wrap(err, "build request"))
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(cluster.MetadataLengthHeader, strconv.Itoa(metaLen))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail(ErrNodeUnreachable, errors.Wrap(err, "post chunk"))
	}
	defer resp.Body.Close()

	var out cluster.StoreResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxStoreResponse)).Decode(&out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(ErrNodeRejected, errors.Errorf("status %d: %s", resp.StatusCode, out.Error))
	}
	if decodeErr != nil {
		return fail(ErrNodeRejected, errors.Wrap(decodeErr, "decode store response"))
	}
	if !out.Success {
		return fail(ErrNodeRejected, errors.Errorf("success=false: %s", out.Error))
	}
	return nil
}

// Fetch reads one chunk of the given size back from node. A body of any
// other length is rejected, and at most size+1 bytes are read.
func (c *NodeClient) Fetch(ctx context.Context, node Node, chunkID string, size int64) ([]byte, error) {
	fail := func(kind, err error) error {
		return &NodeError{Op: "fetch", NodeID: node.ID, ChunkID: chunkID, Kind: kind, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cluster.FetchURL(node.Address, chunkID), nil)
	if err != nil {
		return nil, fail(ErrNodeUnreachable, errors.Wrap(err, "build request"))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fail(ErrNodeUnreachable, errors.Wrap(err, "get chunk"))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxStoreResponse))
		return nil, fail(ErrNodeRejected, errors.Errorf("status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, size+1))
	if err != nil {
		return nil, fail(ErrNodeUnreachable, errors.Wrap(err, "read chunk"))
	}
	if int64(len(data)) != size {
		return nil, fail(ErrNodeRejected, errors.Wrapf(ErrLengthMismatch, "got %d bytes, want %d", len(data), size))
	}
	return data, nil
}
