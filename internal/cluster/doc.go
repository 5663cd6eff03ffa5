// Package cluster holds the wire contract shared by the coordinator and the
// storage nodes: registration and heartbeat bodies, the chunk store/fetch
// protocol, and small JSON-over-HTTP helpers.
//
// # Overview
//
// The coordinator is the single source of truth for placement. Nodes never
// talk to each other; they announce themselves to the coordinator and then
// answer the coordinator's chunk requests:
//
//	              ┌──────────────┐
//	              │ Coordinator  │
//	              │              │
//	              │ - Registry   │
//	              │ - File index │
//	              └──────┬───────┘
//	                     │  POST /chunk, GET /chunk?id=
//	      ┌──────────────┼──────────────┐
//	      │              │              │
//	┌─────▼─────┐ ┌─────▼─────┐ ┌─────▼─────┐
//	│  Node 1   │ │  Node 2   │ │  Node 3   │
//	└───────────┘ └───────────┘ └───────────┘
//	   register / heartbeat flow the other way
//
// # Node Announcements
//
// Registration (POST /api/nodes/register):
//   - node_id, address and storage_stats are required
//   - re-registering an existing id replaces the record
//
// Heartbeat (POST /api/nodes/heartbeat):
//   - refreshes liveness and storage_stats
//   - unknown ids get 404 and must register again
//
// # Chunk Protocol
//
// Store (POST {node}/chunk): the request body is the JSON ChunkMetadata
// immediately followed by the raw chunk bytes. The metadata length travels in
// the X-Metadata-Length header so the node can split the payload without a
// multipart parser. The node answers {"success": true} only once the bytes are
// durable; anything else counts as a failed replica.
//
// Fetch (GET {node}/chunk?id=...): raw bytes with 200, any non-2xx status
// when the chunk is absent or corrupt.
//
// # Usage Example
//
//	body, n, err := cluster.EncodeChunk(cluster.ChunkMetadata{
//	    ChunkID: chunkID, FileID: fileID, Filename: name,
//	}, data)
//	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, cluster.StoreURL(addr), bytes.NewReader(body))
//	req.Header.Set(cluster.MetadataLengthHeader, strconv.Itoa(n))
package cluster
