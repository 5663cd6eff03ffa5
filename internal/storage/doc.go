// Package storage holds the chunk stores a storage node volunteers to the
// cluster.
//
// # Overview
//
// A node receives opaque chunks from the coordinator and must hand them back
// byte for byte. Every store records the sha256 of a chunk when it is written
// and verifies it on read, so silent corruption surfaces as
// ErrChecksumMismatch instead of bad bytes in a reassembled file.
//
// # Implementations
//
// MemoryStore: map-backed, capacity limited
//   - No persistence (chunks lost on restart)
//   - Used when a node runs without a storage path and in tests
//
// DiskStore: one file per chunk
//
//	<root>/
//	├── node_metadata.json      chunk index: file_id, size, created, checksum
//	└── chunks/
//	    └── <chunk_id>.chunk    raw chunk bytes
//
// Chunk files and the index are written to a temp file and renamed into
// place. The index is reloaded on open, so a restarted node keeps serving
// the chunks it already holds.
//
// # Capacity
//
// Both stores are created with the number of bytes the node volunteers.
// Put refuses a chunk larger than the remaining free bytes with
// ErrInsufficientSpace; overwriting a chunk counts its old size as free.
// Stats reports allocated, used and free bytes in the shape the node sends
// to the coordinator with every registration and heartbeat.
//
// # Concurrency
//
// All stores are safe for concurrent use. Reads take a shared lock, writes
// an exclusive one.
//
// # Usage
//
//	store := storage.NewMemoryStore(100 << 30)
//	if err := store.Put(chunkID, fileID, data); err != nil {
//	    return err
//	}
//	data, err := store.Get(chunkID)
package storage
