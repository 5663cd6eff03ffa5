package coordinator

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dreamware/pjas/internal/activity"
	"github.com/dreamware/pjas/internal/cluster"
)

// fakeTransport keeps chunks in memory per node and can be told to fail or
// delay specific nodes.
type fakeTransport struct {
	stored     map[string]map[string][]byte // node -> chunk -> bytes
	failPush   map[string]bool
	failFetch  map[string]bool
	corrupt    map[string]bool
	fetchDelay map[string]time.Duration
	pushCalls  map[string]int
	fetchCalls map[string]int
	mu         sync.Mutex
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		stored:     make(map[string]map[string][]byte),
		failPush:   make(map[string]bool),
		failFetch:  make(map[string]bool),
		corrupt:    make(map[string]bool),
		fetchDelay: make(map[string]time.Duration),
		pushCalls:  make(map[string]int),
		fetchCalls: make(map[string]int),
	}
}

func (f *fakeTransport) Push(ctx context.Context, node Node, meta cluster.ChunkMetadata, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pushCalls[node.ID]++
	if f.failPush[node.ID] {
		return &NodeError{Op: "push", NodeID: node.ID, ChunkID: meta.ChunkID, Kind: ErrNodeUnreachable, Err: errors.New("connection refused")}
	}
	if f.stored[node.ID] == nil {
		f.stored[node.ID] = make(map[string][]byte)
	}
	f.stored[node.ID][meta.ChunkID] = append([]byte(nil), data...)
	return nil
}

func (f *fakeTransport) Fetch(ctx context.Context, node Node, chunkID string, _ int64) ([]byte, error) {
	f.mu.Lock()
	f.fetchCalls[node.ID]++
	delay := f.fetchDelay[node.ID]
	fail := f.failFetch[node.ID]
	corrupt := f.corrupt[node.ID]
	data, ok := f.stored[node.ID][chunkID]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, &NodeError{Op: "fetch", NodeID: node.ID, ChunkID: chunkID, Kind: ErrNodeUnreachable, Err: ctx.Err()}
		}
	}
	if fail || !ok {
		return nil, &NodeError{Op: "fetch", NodeID: node.ID, ChunkID: chunkID, Kind: ErrNodeRejected, Err: errors.New("status 404")}
	}
	if corrupt {
		return data[:len(data)/2], nil
	}
	return append([]byte(nil), data...), nil
}

func (f *fakeTransport) fetches(nodeID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls[nodeID]
}

func (f *fakeTransport) pushes(nodeID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushCalls[nodeID]
}

func (f *fakeTransport) setFailFetch(nodeID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFetch[nodeID] = true
}

func newTestActivity() *activity.Log {
	return activity.New(activity.DefaultRetention, log.New(io.Discard))
}
