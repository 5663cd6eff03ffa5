package coordinator

import (
	"context"

	"github.com/dreamware/pjas/internal/activity"
	"github.com/dreamware/pjas/internal/config"
)

// Coordinator ties the registry, the file index, distribution and retrieval
// together behind the operations the HTTP layer needs.
type Coordinator struct {
	Registry    *Registry
	Files       *FileIndex
	Log         *activity.Log
	distributor *Distributor
	retriever   *Retriever
}

// New builds a coordinator with empty, process-lifetime state.
func New(cfg *config.Coordinator, transport ChunkTransport, log *activity.Log) *Coordinator {
	registry := NewRegistry()
	files := NewFileIndex()
	return &Coordinator{
		Registry:    registry,
		Files:       files,
		Log:         log,
		distributor: NewDistributor(registry, transport, log, cfg.ChunkSize, cfg.ReplicationFactor),
		retriever:   NewRetriever(files, registry, transport, log),
	}
}

// ClusterStats is the dashboard summary.
type ClusterStats struct {
	RegistryStats
	ActiveFiles       int    `json:"activeFiles"`
	TotalStorageHuman string `json:"totalStorageHuman"`
	UsedStorageHuman  string `json:"usedStorageHuman"`
}

// Upload indexes a new file, distributes its chunks and marks it completed.
// Partial or failed replication is recorded per chunk and does not make the
// upload fail.
func (c *Coordinator) Upload(ctx context.Context, name, contentType string, data []byte) (File, error) {
	file := c.Files.Create(name, int64(len(data)), contentType)
	c.Log.Info("upload accepted", "file", file.ID, "name", name, "size", activity.FormatBytes(file.Size))

	chunks := c.distributor.DistributeFile(ctx, file, data)

	done, err := c.Files.Complete(file.ID, chunks)
	if err != nil {
		c.Log.Error("could not complete file", "file", file.ID, "err", err)
		return file, err
	}

	failed := 0
	for _, ch := range done.Chunks {
		if ch.Status == ChunkFailed {
			failed++
		}
	}
	if failed > 0 {
		c.Log.Warn("file completed with failed chunks", "file", done.ID, "chunks", len(done.Chunks), "failed", failed)
	} else {
		c.Log.Info("file completed", "file", done.ID, "chunks", len(done.Chunks))
	}
	return done, nil
}

// Download reassembles a completed file.
func (c *Coordinator) Download(ctx context.Context, fileID string) (File, []byte, error) {
	return c.retriever.Reassemble(ctx, fileID)
}

// Stats aggregates the registry and the file index.
func (c *Coordinator) Stats() ClusterStats {
	rs := c.Registry.Stats()
	return ClusterStats{
		RegistryStats:     rs,
		ActiveFiles:       c.Files.Count(),
		TotalStorageHuman: activity.FormatBytes(rs.TotalStorage),
		UsedStorageHuman:  activity.FormatBytes(rs.UsedStorage),
	}
}
