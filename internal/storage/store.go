package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dreamware/pjas/internal/cluster"
)

var (
	// ErrChunkNotFound is returned when a chunk doesn't exist in the store
	ErrChunkNotFound = errors.New("chunk not found")

	// ErrInsufficientSpace is returned when a chunk exceeds the free bytes
	ErrInsufficientSpace = errors.New("not enough free space")

	// ErrChecksumMismatch is returned when stored bytes no longer match
	// the checksum recorded at write time
	ErrChecksumMismatch = errors.New("chunk corrupted")

	// ErrInvalidChunkID is returned for ids that cannot be used as file names
	ErrInvalidChunkID = errors.New("invalid chunk id")
)

// Store defines the interface for a node's chunk storage
// All implementations must be thread-safe for concurrent access
type Store interface {
	// Put stores a chunk under chunkID
	// Overwrites any existing chunk with the same id
	// Returns ErrInsufficientSpace if the chunk does not fit
	Put(chunkID, fileID string, data []byte) error

	// Get retrieves a chunk and verifies its checksum
	// Returns ErrChunkNotFound or ErrChecksumMismatch
	Get(chunkID string) ([]byte, error)

	// Delete removes a chunk
	// No error if the chunk doesn't exist
	Delete(chunkID string) error

	// List returns all chunk ids in the store
	// Order is not guaranteed
	List() []string

	// Stats returns storage statistics
	Stats() StoreStats
}

// ChunkInfo is the per-chunk metadata a store keeps
type ChunkInfo struct {
	Created  time.Time `json:"created"`
	FileID   string    `json:"file_id"`
	Checksum string    `json:"checksum"` // hex sha256
	Size     int64     `json:"size"`
}

// StoreStats contains statistics about the store
type StoreStats struct {
	AllocatedBytes int64   // Capacity the node volunteers
	UsedBytes      int64   // Total size of all chunks
	FreeBytes      int64   // AllocatedBytes - UsedBytes
	ChunkCount     int     // Number of chunks
	UsagePercent   float64 // UsedBytes / AllocatedBytes * 100
}

// Cluster converts the stats into the form nodes report to the coordinator
func (s StoreStats) Cluster() *cluster.StorageStats {
	return &cluster.StorageStats{
		AllocatedBytes: s.AllocatedBytes,
		UsedBytes:      s.UsedBytes,
		FreeBytes:      s.FreeBytes,
		ChunkCount:     s.ChunkCount,
		UsagePercent:   s.UsagePercent,
	}
}

// Checksum returns the hex sha256 of data
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidChunkID reports whether id is safe to use as a file name
func ValidChunkID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

func computeStats(allocated int64, chunks map[string]ChunkInfo) StoreStats {
	var used int64
	for _, c := range chunks {
		used += c.Size
	}
	stats := StoreStats{
		AllocatedBytes: allocated,
		UsedBytes:      used,
		FreeBytes:      allocated - used,
		ChunkCount:     len(chunks),
	}
	if allocated > 0 {
		stats.UsagePercent = float64(used) / float64(allocated) * 100
	}
	return stats
}

// MemoryStore implements Store interface with in-memory storage
// Uses sync.RWMutex for thread-safe concurrent access
type MemoryStore struct {
	data      map[string][]byte    // Chunk bytes
	info      map[string]ChunkInfo // Chunk metadata
	allocated int64                // Capacity in bytes
	mu        sync.RWMutex         // Protects concurrent access
}

// NewMemoryStore creates a new in-memory store with the given capacity
func NewMemoryStore(allocated int64) *MemoryStore {
	return &MemoryStore{
		data:      make(map[string][]byte),
		info:      make(map[string]ChunkInfo),
		allocated: allocated,
	}
}

// Put stores a chunk
// Makes a copy of the data to prevent external modification
func (m *MemoryStore) Put(chunkID, fileID string, data []byte) error {
	if !ValidChunkID(chunkID) {
		return ErrInvalidChunkID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	free := computeStats(m.allocated, m.info).FreeBytes
	if prev, ok := m.info[chunkID]; ok {
		free += prev.Size
	}
	if int64(len(data)) > free {
		return ErrInsufficientSpace
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	m.data[chunkID] = stored
	m.info[chunkID] = ChunkInfo{
		FileID:   fileID,
		Size:     int64(len(data)),
		Created:  time.Now(),
		Checksum: Checksum(data),
	}
	return nil
}

// Get retrieves a chunk
// Returns a copy of the data to prevent external modification
func (m *MemoryStore) Get(chunkID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.data[chunkID]
	if !exists {
		return nil, ErrChunkNotFound
	}
	if Checksum(value) != m.info[chunkID].Checksum {
		return nil, ErrChecksumMismatch
	}

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Delete removes a chunk
// No error if the chunk doesn't exist (idempotent)
func (m *MemoryStore) Delete(chunkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, chunkID)
	delete(m.info, chunkID)
	return nil
}

// List returns all chunk ids in the store
func (m *MemoryStore) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	return ids
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return computeStats(m.allocated, m.info)
}
