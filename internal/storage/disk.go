package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	chunksDirName    = "chunks"
	metadataFileName = "node_metadata.json"
	chunkExt         = ".chunk"
)

// diskMetadata is the on-disk index of a DiskStore
type diskMetadata struct {
	Chunks      map[string]ChunkInfo `json:"chunks"`
	NodeID      string               `json:"node_id"`
	TotalStored int64                `json:"total_stored"`
}

// DiskStore keeps each chunk in its own file under <root>/chunks and the
// chunk index in <root>/node_metadata.json. The index survives restarts.
type DiskStore struct {
	meta      diskMetadata
	root      string
	allocated int64
	mu        sync.RWMutex
}

// OpenDiskStore opens or initializes a store rooted at root.
func OpenDiskStore(root, nodeID string, allocated int64) (*DiskStore, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "resolve storage path")
	}
	if err := os.MkdirAll(filepath.Join(root, chunksDirName), 0o755); err != nil {
		return nil, errors.Wrap(err, "create chunks dir")
	}

	s := &DiskStore{
		root:      root,
		allocated: allocated,
		meta:      diskMetadata{NodeID: nodeID, Chunks: make(map[string]ChunkInfo)},
	}

	raw, err := os.ReadFile(s.metadataPath())
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := s.saveLocked(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, errors.Wrap(err, "read metadata")
	default:
		if err := json.Unmarshal(raw, &s.meta); err != nil {
			return nil, errors.Wrap(err, "decode metadata")
		}
		if s.meta.Chunks == nil {
			s.meta.Chunks = make(map[string]ChunkInfo)
		}
		s.meta.NodeID = nodeID
	}
	return s, nil
}

func (s *DiskStore) metadataPath() string {
	return filepath.Join(s.root, metadataFileName)
}

func (s *DiskStore) chunkPath(chunkID string) string {
	return filepath.Join(s.root, chunksDirName, chunkID+chunkExt)
}

// saveLocked rewrites the metadata file atomically. Caller holds mu.
func (s *DiskStore) saveLocked() error {
	s.meta.TotalStored = computeStats(s.allocated, s.meta.Chunks).UsedBytes
	raw, err := json.MarshalIndent(s.meta, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode metadata")
	}
	tmp := s.metadataPath() + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return errors.Wrap(err, "write metadata")
	}
	return errors.Wrap(os.Rename(tmp, s.metadataPath()), "replace metadata")
}

// Put writes the chunk file and records its checksum
func (s *DiskStore) Put(chunkID, fileID string, data []byte) error {
	if !ValidChunkID(chunkID) {
		return ErrInvalidChunkID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	free := computeStats(s.allocated, s.meta.Chunks).FreeBytes
	prev, hadPrev := s.meta.Chunks[chunkID]
	if hadPrev {
		free += prev.Size
	}
	if int64(len(data)) > free {
		return ErrInsufficientSpace
	}

	path := s.chunkPath(chunkID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "write chunk %s", chunkID)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "commit chunk %s", chunkID)
	}

	s.meta.Chunks[chunkID] = ChunkInfo{
		FileID:   fileID,
		Size:     int64(len(data)),
		Created:  time.Now(),
		Checksum: Checksum(data),
	}
	if err := s.saveLocked(); err != nil {
		// keep the index matching what the metadata file says
		if hadPrev {
			s.meta.Chunks[chunkID] = prev
		} else {
			delete(s.meta.Chunks, chunkID)
			_ = os.Remove(path)
		}
		return err
	}
	return nil
}

// Get reads a chunk and verifies it against the recorded checksum
func (s *DiskStore) Get(chunkID string) ([]byte, error) {
	if !ValidChunkID(chunkID) {
		return nil, ErrChunkNotFound
	}

	s.mu.RLock()
	info, known := s.meta.Chunks[chunkID]
	s.mu.RUnlock()

	data, err := os.ReadFile(s.chunkPath(chunkID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrChunkNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read chunk %s", chunkID)
	}
	if known && Checksum(data) != info.Checksum {
		return nil, ErrChecksumMismatch
	}
	return data, nil
}

// Delete removes the chunk file and its metadata
func (s *DiskStore) Delete(chunkID string) error {
	if !ValidChunkID(chunkID) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.chunkPath(chunkID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "remove chunk %s", chunkID)
	}
	if _, ok := s.meta.Chunks[chunkID]; !ok {
		return nil
	}
	delete(s.meta.Chunks, chunkID)
	return s.saveLocked()
}

// List returns the ids of all indexed chunks
func (s *DiskStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.meta.Chunks))
	for id := range s.meta.Chunks {
		ids = append(ids, id)
	}
	return ids
}

// Stats returns storage statistics from the chunk index
func (s *DiskStore) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return computeStats(s.allocated, s.meta.Chunks)
}
