package coordinator

import (
	"context"
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/dreamware/pjas/internal/activity"
)

// Retriever reassembles files from whichever replicas answer.
type Retriever struct {
	files     *FileIndex
	registry  *Registry
	transport ChunkTransport
	log       *activity.Log
}

func NewRetriever(files *FileIndex, registry *Registry, transport ChunkTransport, log *activity.Log) *Retriever {
	return &Retriever{files: files, registry: registry, transport: transport, log: log}
}

// Reassemble returns the original bytes of fileID.
//
// Chunks are read in ascending index order. For each chunk the recorded
// replicas are tried in stored order; a replica the registry currently marks
// offline is skipped without a network attempt. Fetches to the remaining
// replicas run concurrently, but the answer taken is always the earliest
// replica in stored order that succeeded, so a slow first replica is still
// preferred over a fast later one as long as it answers within its timeout.
//
// Failure modes:
//   - ErrFileNotFound / ErrFileNotReady before any network traffic
//   - *ChunkUnavailableError (errors.Is ErrChunkUnavailable) as soon as one
//     chunk has no readable replica; no partial bytes are returned
//   - ctx.Err() when the caller goes away; chunks not yet started are never
//     requested
//   - ErrLengthMismatch if the result differs from the recorded length
func (r *Retriever) Reassemble(ctx context.Context, fileID string) (File, []byte, error) {
	file, err := r.files.Get(fileID)
	if err != nil {
		return File{}, nil, err
	}
	if file.Status != FileCompleted {
		return file, nil, fmt.Errorf("%w: %s", ErrFileNotReady, fileID)
	}

	chunks := slices.Clone(file.Chunks)
	slices.SortStableFunc(chunks, func(a, b Chunk) int { return a.Index - b.Index })

	expected := file.StoredBytes()
	out := make([]byte, 0, expected)

	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return file, nil, err
		}
		data, err := r.fetchChunk(ctx, c)
		if err != nil {
			r.log.Error("file reassembly failed", "file", fileID, "chunk", c.ID, "index", c.Index, "err", err)
			return file, nil, err
		}
		out = append(out, data...)
	}

	if int64(len(out)) != expected {
		r.log.Error("reassembled length mismatch", "file", fileID, "got", len(out), "want", expected)
		return file, nil, fmt.Errorf("%w: got %d, want %d", ErrLengthMismatch, len(out), expected)
	}
	r.log.Info("file reassembled", "file", fileID, "chunks", len(chunks), "size", activity.FormatBytes(expected))
	return file, out, nil
}

type fetchResult struct {
	err  error
	data []byte
}

// fetchChunk reads one chunk with failover across its replica set.
func (r *Retriever) fetchChunk(ctx context.Context, c Chunk) ([]byte, error) {
	unavailable := &ChunkUnavailableError{FileID: c.FileID, ChunkID: c.ID, Index: c.Index}

	candidates := make([]Node, 0, len(c.Replicas))
	for _, id := range c.Replicas {
		node, ok := r.registry.Get(id)
		if !ok || node.Status != NodeOnline {
			unavailable.Skipped++
			r.log.Warn("replica skipped, node offline", "node", id, "chunk", c.ID)
			continue
		}
		candidates = append(candidates, node)
	}
	if len(candidates) == 0 {
		return nil, unavailable
	}

	fctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// buffered so that abandoned fetches never block
	results := make([]chan fetchResult, len(candidates))
	for i, node := range candidates {
		results[i] = make(chan fetchResult, 1)
		go func(ch chan<- fetchResult) {
			data, err := r.transport.Fetch(fctx, node, c.ID, c.Size)
			if err == nil && int64(len(data)) != c.Size {
				err = &NodeError{Op: "fetch", NodeID: node.ID, ChunkID: c.ID, Kind: ErrNodeRejected,
					Err: fmt.Errorf("%w: got %d bytes, want %d", ErrLengthMismatch, len(data), c.Size)}
			}
			ch <- fetchResult{data: data, err: err}
		}(results[i])
	}

	for i, ch := range results {
		select {
		case res := <-ch:
			unavailable.Tried++
			if res.err == nil {
				return res.data, nil
			}
			r.log.Error("chunk fetch failed",
				"node", candidates[i].ID, "chunk", c.ID, "size", activity.FormatBytes(c.Size), "err", res.err)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, unavailable
}
