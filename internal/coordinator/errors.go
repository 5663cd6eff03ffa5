package coordinator

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks requests missing required fields. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrNotRegistered is returned for heartbeats from unknown node ids.
	// The node must register again.
	ErrNotRegistered = errors.New("node not registered")

	// ErrNodeUnreachable marks a single push or fetch that never got an
	// answer from the node (connection error, timeout).
	ErrNodeUnreachable = errors.New("node unreachable")

	// ErrNodeRejected marks a single push or fetch the node answered but
	// refused (non-2xx, success=false, wrong length).
	ErrNodeRejected = errors.New("node rejected request")

	// ErrChunkUnavailable means no replica of a chunk could be read.
	ErrChunkUnavailable = errors.New("chunk unavailable")

	// ErrNoNodesAvailable is the degraded-placement signal. Distribution
	// carries on and records failed chunks.
	ErrNoNodesAvailable = errors.New("no nodes available")

	ErrFileNotFound     = errors.New("file not found")
	ErrFileNotReady     = errors.New("file is still processing")
	ErrAlreadyCompleted = errors.New("file already completed")
	ErrInvalidManifest  = errors.New("chunk manifest is not contiguous")
	ErrLengthMismatch   = errors.New("reassembled length does not match manifest")
)

// NodeError describes one failed exchange with a storage node. Kind is
// ErrNodeUnreachable or ErrNodeRejected; Err is the underlying cause.
type NodeError struct {
	Kind    error
	Err     error
	NodeID  string
	ChunkID string
	Op      string // "push" or "fetch"
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s chunk %s on node %s: %v: %v", e.Op, e.ChunkID, e.NodeID, e.Kind, e.Err)
}

func (e *NodeError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// ChunkUnavailableError names the chunk that stopped a reassembly.
// The chunk id is for logs; HTTP callers only see a generic message.
type ChunkUnavailableError struct {
	FileID  string
	ChunkID string
	Index   int
	Tried   int // replicas attempted over the network
	Skipped int // replicas skipped because the registry marks them offline
}

func (e *ChunkUnavailableError) Error() string {
	return fmt.Sprintf("chunk %s (index %d) of file %s unavailable: %d replicas tried, %d offline",
		e.ChunkID, e.Index, e.FileID, e.Tried, e.Skipped)
}

func (e *ChunkUnavailableError) Is(target error) bool {
	return target == ErrChunkUnavailable
}
