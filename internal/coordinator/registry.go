// Package coordinator implements the placement and retrieval core of the store.
// See doc.go for complete package documentation.
package coordinator

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/pjas/internal/cluster"
)

// LivenessThreshold is how long a node may stay silent before it is
// reported offline.
const LivenessThreshold = 60 * time.Second

// NodeStatus is derived from last_seen, never stored as a decision.
type NodeStatus string

const (
	NodeOnline  NodeStatus = "online"
	NodeOffline NodeStatus = "offline"
)

// Node is a snapshot of a registered storage node as returned by the
// registry. Mutating a Node never affects the registry.
type Node struct {
	LastSeen     time.Time            `json:"last_seen"`
	RegisteredAt time.Time            `json:"registered_at"`
	ID           string               `json:"node_id"`
	Address      string               `json:"address"`
	Version      string               `json:"version,omitempty"`
	Status       NodeStatus           `json:"status"`
	StorageStats cluster.StorageStats `json:"storage_stats"`
	Chunks       int                  `json:"chunks"` // chunks placed here since registration
}

// RegistryStats aggregates the registry for the dashboard.
type RegistryStats struct {
	TotalNodes    int     `json:"totalNodes"`
	OnlineNodes   int     `json:"onlineNodes"`
	TotalStorage  int64   `json:"totalStorage"`
	UsedStorage   int64   `json:"usedStorage"`
	NetworkHealth float64 `json:"networkHealth"`
}

type nodeRecord struct {
	chunks map[string]struct{}
	node   Node
}

// Registry tracks known storage nodes and their liveness.
//
// Liveness model:
//   - Register and Heartbeat set last_seen = now and status = online
//   - Every enumeration recomputes status from now - last_seen
//   - Nodes are never removed; silence drives them offline
//
// Concurrency Model:
// The registry owns its map and serializes every operation on it. A
// register and a heartbeat for the same id are applied one after the other,
// so a heartbeat either sees the complete registered record or fails with
// ErrNotRegistered.
type Registry struct {
	// nodes maps node ids to their records.
	nodes map[string]*nodeRecord

	// order keeps first-registration order. Placement breaks free-space
	// ties by this order.
	order []string

	// now is the clock, replaceable in tests.
	now func() time.Time

	mu sync.Mutex
}

// NewRegistry creates an empty registry. Nothing is loaded from disk: a
// restarted coordinator starts without nodes until they register again.
func NewRegistry() *Registry {
	return &Registry{
		nodes: make(map[string]*nodeRecord),
		now:   time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Register inserts or fully replaces the record for req.NodeID.
//
// Upsert contract:
//   - a new id is appended to the registry
//   - an existing id keeps its position but every attribute is replaced,
//     registered_at included, and its chunk occupancy is cleared
//
// Parameters:
//   - req: the node's announcement; NodeID and StorageStats are required
//
// Returns:
//   - the stored snapshot
//   - ErrValidation if NodeID or StorageStats is absent
//
// Example:
//
//	node, err := registry.Register(cluster.RegisterRequest{
//	    NodeID:       "node-1",
//	    Address:      "http://10.0.0.5:8420",
//	    StorageStats: &cluster.StorageStats{AllocatedBytes: 1 << 30, FreeBytes: 1 << 30},
//	})
func (r *Registry) Register(req cluster.RegisterRequest) (Node, error) {
	if req.NodeID == "" {
		return Node{}, fmt.Errorf("%w: node_id is required", ErrValidation)
	}
	if req.StorageStats == nil {
		return Node{}, fmt.Errorf("%w: storage_stats is required", ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rec := &nodeRecord{
		chunks: make(map[string]struct{}),
		node: Node{
			ID:           req.NodeID,
			Address:      req.Address,
			Version:      req.Version,
			StorageStats: *req.StorageStats,
			LastSeen:     now,
			RegisteredAt: now,
			Status:       NodeOnline,
		},
	}
	if _, exists := r.nodes[req.NodeID]; !exists {
		r.order = append(r.order, req.NodeID)
	}
	r.nodes[req.NodeID] = rec

	return rec.node, nil
}

// Heartbeat refreshes last_seen and storage stats for a registered node.
// There is no implicit registration: unknown ids get ErrNotRegistered and
// no record is created.
func (r *Registry) Heartbeat(nodeID string, stats *cluster.StorageStats) (Node, error) {
	if nodeID == "" {
		return Node{}, fmt.Errorf("%w: node_id is required", ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.nodes[nodeID]
	if !ok {
		return Node{}, fmt.Errorf("%w: %s", ErrNotRegistered, nodeID)
	}
	rec.node.LastSeen = r.now()
	rec.node.Status = NodeOnline
	if stats != nil {
		rec.node.StorageStats = *stats
	}
	return r.snapshot(rec), nil
}

// ListAll returns every known node in registration order after recomputing
// each node's status.
func (r *Registry) ListAll() []Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refreshLocked()
	out := make([]Node, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.snapshot(r.nodes[id]))
	}
	return out
}

// ListOnline returns the online nodes in registration order after
// recomputing each node's status.
func (r *Registry) ListOnline() []Node {
	all := r.ListAll()
	return slices.DeleteFunc(all, func(n Node) bool { return n.Status != NodeOnline })
}

// Get returns the snapshot of one node with its status recomputed.
func (r *Registry) Get(nodeID string) (Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.nodes[nodeID]
	if !ok {
		return Node{}, false
	}
	rec.node.Status = r.statusLocked(rec.node.LastSeen)
	return r.snapshot(rec), true
}

// Stats aggregates storage and liveness across all nodes. NetworkHealth is
// the online percentage and is defined as 100 for an empty registry.
func (r *Registry) Stats() RegistryStats {
	nodes := r.ListAll()

	stats := RegistryStats{TotalNodes: len(nodes), NetworkHealth: 100}
	for _, n := range nodes {
		stats.TotalStorage += n.StorageStats.AllocatedBytes
		stats.UsedStorage += n.StorageStats.UsedBytes
		if n.Status == NodeOnline {
			stats.OnlineNodes++
		}
	}
	if stats.TotalNodes > 0 {
		stats.NetworkHealth = float64(stats.OnlineNodes) / float64(stats.TotalNodes) * 100
	}
	return stats
}

// RecordChunk notes that chunkID was stored on nodeID. Unknown nodes are
// ignored; the chunk manifest stays authoritative either way.
func (r *Registry) RecordChunk(nodeID, chunkID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.nodes[nodeID]; ok {
		rec.chunks[chunkID] = struct{}{}
	}
}

func (r *Registry) refreshLocked() {
	for _, rec := range r.nodes {
		rec.node.Status = r.statusLocked(rec.node.LastSeen)
	}
}

func (r *Registry) statusLocked(lastSeen time.Time) NodeStatus {
	if r.now().Sub(lastSeen) > LivenessThreshold {
		return NodeOffline
	}
	return NodeOnline
}

func (r *Registry) snapshot(rec *nodeRecord) Node {
	n := rec.node
	n.Chunks = len(rec.chunks)
	return n
}
