// Package coordinator implements the placement and retrieval core of the
// volunteer object store: the node registry, the replica planner, chunk
// distribution, file reassembly and the file index.
//
// # Overview
//
// Clients hand the coordinator whole files. The coordinator splits each file
// into fixed-size chunks, pushes every chunk to a small replica set of
// volunteer storage nodes and remembers where each chunk actually landed.
// A download walks that manifest and pulls each chunk from whichever replica
// answers first in recorded order.
//
// # Architecture
//
//	┌──────────────────────────────────────────────┐
//	│                 Coordinator                  │
//	├──────────────────────────────────────────────┤
//	│  Upload                      Download        │
//	│    │                            │            │
//	│    ▼                            ▼            │
//	│  FileIndex.Create          FileIndex.Get     │
//	│    │                            │            │
//	│    ▼                            ▼            │
//	│  Distributor ──► SelectReplicas Retriever    │
//	│    │                 ▲          │            │
//	│    │              Registry ◄────┘            │
//	│    ▼                                         │
//	│  FileIndex.Complete                          │
//	└──────────────┬───────────────────────────────┘
//	               │ ChunkTransport (NodeClient)
//	        ┌──────┼──────┐
//	        ▼      ▼      ▼
//	      node   node   node
//
// # Core Components
//
// Registry: known nodes and their liveness
//   - Register is an upsert; Heartbeat requires a prior Register
//   - status is recomputed from last_seen on every enumeration (60s window)
//   - nodes are never removed, silence makes them offline
//
// SelectReplicas: stateless planner
//   - ranks online nodes by reported free bytes, stable on ties
//   - returns at most the replication factor, empty when nothing is online
//
// Distributor: pushes chunks
//   - 10 MiB chunks by default, handled in index order
//   - concurrent pushes per chunk, each bounded by its own timeout (30s)
//   - realized replica set = nodes that answered success=true
//
// Retriever: reassembles files
//   - stored replica order, offline replicas skipped without a request
//   - each fetch bounded by its own timeout (10s)
//   - any chunk without a readable replica fails the whole download
//
// FileIndex: file id -> metadata + ordered chunk manifest
//   - processing -> completed exactly once, partial replication allowed
//
// # Error Taxonomy
//
//	ErrValidation        missing fields, 400, never retried
//	ErrNotRegistered     heartbeat from unknown node, 404, node re-registers
//	ErrNodeUnreachable   one push/fetch failed to connect, tolerated
//	ErrNodeRejected      one push/fetch refused by the node, tolerated
//	ErrChunkUnavailable  every replica of a chunk failed, download fails
//	ErrNoNodesAvailable  nothing online at upload, chunks recorded failed
//
// # Concurrency Model
//
// Each map is owned by one component (Registry, FileIndex, activity.Log) and
// is only touched through that component's methods, which serialize access
// internally. No lock is held during network I/O. Two uploads share nothing
// but registry reads. A file's manifest is built privately by the
// Distributor and published once by FileIndex.Complete.
//
// # Limitations
//
// All coordinator metadata is volatile. A restart loses the registry and the
// entire file index; nodes repopulate the registry when they next register,
// files uploaded before the restart cannot be downloaded through the new
// process even though their chunks still sit on the nodes. There is no
// re-replication pass: a chunk keeps the replica set it got at upload time.
//
// # Usage Example
//
//	log := activity.New(100, logger)
//	c := coordinator.New(cfg, coordinator.NewNodeClient(cfg.PushTimeout, cfg.FetchTimeout), log)
//
//	c.Registry.Register(cluster.RegisterRequest{NodeID: "n1", Address: addr, StorageStats: &stats})
//	file, _ := c.Upload(ctx, "video.mp4", "video/mp4", data)
//	_, data, err := c.Download(ctx, file.ID)
//	if errors.Is(err, coordinator.ErrChunkUnavailable) {
//	    // too many replicas offline
//	}
package coordinator
