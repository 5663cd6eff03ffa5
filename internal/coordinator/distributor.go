package coordinator

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/pjas/internal/activity"
	"github.com/dreamware/pjas/internal/cluster"
)

// ChunkCount returns ceil(size / chunkSize), the number of chunks a file
// of size bytes is split into. A zero-byte file has no chunks.
func ChunkCount(size, chunkSize int64) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((size + chunkSize - 1) / chunkSize)
}

// Distributor splits files into chunks and pushes every chunk to its
// planned replica set.
type Distributor struct {
	registry  *Registry
	transport ChunkTransport
	log       *activity.Log
	newID     func() string
	chunkSize int64
	replicas  int
}

// NewDistributor wires a distributor to the registry it plans from and the
// transport it pushes with.
func NewDistributor(registry *Registry, transport ChunkTransport, log *activity.Log, chunkSize int64, replicas int) *Distributor {
	return &Distributor{
		registry:  registry,
		transport: transport,
		log:       log,
		newID:     uuid.NewString,
		chunkSize: chunkSize,
		replicas:  replicas,
	}
}

// DistributeFile splits data into chunkSize pieces and places each one.
//
// Chunks are handled strictly in index order. For each chunk:
//  1. a fresh chunk id is generated
//  2. SelectReplicas plans up to the replication factor over the nodes
//     online right now
//  3. the chunk is pushed to every planned node concurrently, each push
//     bounded by the transport's own timeout
//  4. the realized replica set is exactly the nodes that acknowledged,
//     kept in planned order
//
// A failed push never stops the other pushes of the same chunk nor the
// following chunks. With no node online the condition is logged once and
// every chunk is recorded as failed with an empty replica set; distribution
// never waits for nodes to appear.
//
// Returns:
//   - the manifest, len == ChunkCount(len(data), chunkSize), indices 0..n-1
func (d *Distributor) DistributeFile(ctx context.Context, file File, data []byte) []Chunk {
	total := int64(len(data))
	n := ChunkCount(total, d.chunkSize)
	chunks := make([]Chunk, 0, n)

	warnedNoNodes := false
	if len(d.registry.ListOnline()) == 0 && n > 0 {
		d.log.Warn("no storage nodes online, chunks will be recorded as failed",
			"file", file.ID, "chunks", n, "err", ErrNoNodesAvailable)
		warnedNoNodes = true
	}

	for i := 0; i < n; i++ {
		start := int64(i) * d.chunkSize
		end := min(start+d.chunkSize, total)
		piece := data[start:end]

		chunk := Chunk{
			ID:       d.newID(),
			FileID:   file.ID,
			Index:    i,
			Size:     int64(len(piece)),
			Replicas: []string{},
		}

		targets := SelectReplicas(d.registry.ListOnline(), d.replicas)
		if len(targets) == 0 && !warnedNoNodes {
			d.log.Warn("no storage nodes online, chunks will be recorded as failed",
				"file", file.ID, "chunk", chunk.ID, "err", ErrNoNodesAvailable)
			warnedNoNodes = true
		}

		meta := cluster.ChunkMetadata{ChunkID: chunk.ID, FileID: file.ID, Filename: file.Name}
		var pushErr error
		chunk.Replicas, pushErr = d.push(ctx, targets, meta, piece)

		chunk.Status = ChunkStored
		if len(chunk.Replicas) == 0 {
			chunk.Status = ChunkFailed
			if len(targets) > 0 {
				d.log.Error("chunk not stored on any node",
					"file", file.ID, "chunk", chunk.ID, "index", i, "attempted", len(targets), "err", pushErr)
			}
		} else if len(chunk.Replicas) < d.replicas {
			keyvals := []any{"chunk", chunk.ID, "replicas", len(chunk.Replicas), "wanted", d.replicas}
			if pushErr != nil {
				keyvals = append(keyvals, "err", pushErr)
			}
			d.log.Warn("chunk under-replicated", keyvals...)
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// push sends piece to every target and returns the ids that acknowledged,
// in target order, along with the first push failure. The group has no
// shared context so one failure never cancels the sibling pushes.
func (d *Distributor) push(ctx context.Context, targets []Node, meta cluster.ChunkMetadata, piece []byte) ([]string, error) {
	acked := make([]bool, len(targets))

	var g errgroup.Group
	for i, node := range targets {
		g.Go(func() error {
			if err := d.transport.Push(ctx, node, meta, piece); err != nil {
				d.log.Error("chunk push failed",
					"node", node.ID, "chunk", meta.ChunkID, "size", activity.FormatBytes(int64(len(piece))), "err", err)
				return err
			}
			acked[i] = true
			d.registry.RecordChunk(node.ID, meta.ChunkID)
			d.log.Info("chunk stored",
				"node", node.ID, "chunk", meta.ChunkID, "size", activity.FormatBytes(int64(len(piece))))
			return nil
		})
	}
	err := g.Wait()

	replicas := make([]string, 0, len(targets))
	for i, node := range targets {
		if acked[i] {
			replicas = append(replicas, node.ID)
		}
	}
	return replicas, err
}
