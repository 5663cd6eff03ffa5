package coordinator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

type FileStatus string

const (
	FileProcessing FileStatus = "processing"
	FileCompleted  FileStatus = "completed"
)

type ChunkStatus string

const (
	ChunkStored ChunkStatus = "stored"
	ChunkFailed ChunkStatus = "failed"
)

// Chunk describes one placed slice of a file. Replicas lists the nodes that
// acknowledged the chunk, in the order they were planned.
type Chunk struct {
	ID       string      `json:"chunk_id"`
	FileID   string      `json:"file_id"`
	Status   ChunkStatus `json:"status"`
	Replicas []string    `json:"replicas"`
	Index    int         `json:"index"`
	Size     int64       `json:"size"`
}

// File is the externally visible unit of the store.
type File struct {
	UploadedAt  time.Time  `json:"uploaded_at"`
	ID          string     `json:"file_id"`
	Name        string     `json:"filename"`
	ContentType string     `json:"content_type"`
	Status      FileStatus `json:"status"`
	Chunks      []Chunk    `json:"chunks"`
	Size        int64      `json:"size"`
}

// FileSummary is the listing form of a File.
type FileSummary struct {
	UploadedAt  time.Time  `json:"uploaded_at"`
	ID          string     `json:"file_id"`
	Name        string     `json:"filename"`
	Status      FileStatus `json:"status"`
	Size        int64      `json:"size"`
	ChunksCount int        `json:"chunks_count"`
}

// Summary reduces f to its listing form.
func (f File) Summary() FileSummary {
	return FileSummary{
		ID:          f.ID,
		Name:        f.Name,
		Size:        f.Size,
		UploadedAt:  f.UploadedAt,
		Status:      f.Status,
		ChunksCount: len(f.Chunks),
	}
}

// StoredBytes is the sum of recorded chunk lengths.
func (f File) StoredBytes() int64 {
	var total int64
	for _, c := range f.Chunks {
		total += c.Size
	}
	return total
}

// FileIndex maps file ids to their metadata and chunk manifest.
//
// A file is created in FileProcessing with no chunks. Its manifest is
// attached exactly once by Complete, which also moves it to FileCompleted.
// Nothing observes a file's chunks before that. Files are never deleted and
// the index lives only as long as the process.
type FileIndex struct {
	files map[string]*File
	order []string
	now   func() time.Time
	newID func() string
	mu    sync.RWMutex
}

func NewFileIndex() *FileIndex {
	return &FileIndex{
		files: make(map[string]*File),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Create registers a new file in FileProcessing and returns its snapshot.
func (fi *FileIndex) Create(name string, size int64, contentType string) File {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	f := &File{
		ID:          fi.newID(),
		Name:        name,
		Size:        size,
		ContentType: contentType,
		UploadedAt:  fi.now(),
		Status:      FileProcessing,
		Chunks:      []Chunk{},
	}
	fi.files[f.ID] = f
	fi.order = append(fi.order, f.ID)
	return copyFile(f)
}

// Complete attaches the chunk manifest and marks the file completed.
//
// Returns:
//   - ErrFileNotFound for unknown ids
//   - ErrAlreadyCompleted if the file left FileProcessing before
//   - ErrInvalidManifest unless chunk indices are exactly 0..n-1 in order
//     and every chunk belongs to the file
func (fi *FileIndex) Complete(fileID string, chunks []Chunk) (File, error) {
	for i, c := range chunks {
		if c.Index != i || c.FileID != fileID {
			return File{}, fmt.Errorf("%w: chunk %d has index %d", ErrInvalidManifest, i, c.Index)
		}
	}

	fi.mu.Lock()
	defer fi.mu.Unlock()

	f, ok := fi.files[fileID]
	if !ok {
		return File{}, fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	}
	if f.Status != FileProcessing {
		return File{}, fmt.Errorf("%w: %s", ErrAlreadyCompleted, fileID)
	}
	f.Chunks = cloneChunks(chunks)
	f.Status = FileCompleted
	return copyFile(f), nil
}

// Get returns a snapshot of one file.
func (fi *FileIndex) Get(fileID string) (File, error) {
	fi.mu.RLock()
	defer fi.mu.RUnlock()

	f, ok := fi.files[fileID]
	if !ok {
		return File{}, fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	}
	return copyFile(f), nil
}

// List returns every file in upload order.
func (fi *FileIndex) List() []FileSummary {
	fi.mu.RLock()
	defer fi.mu.RUnlock()

	out := make([]FileSummary, 0, len(fi.order))
	for _, id := range fi.order {
		out = append(out, fi.files[id].Summary())
	}
	return out
}

// Count returns the number of indexed files.
func (fi *FileIndex) Count() int {
	fi.mu.RLock()
	defer fi.mu.RUnlock()
	return len(fi.files)
}

func copyFile(f *File) File {
	out := *f
	out.Chunks = cloneChunks(f.Chunks)
	return out
}

func cloneChunks(chunks []Chunk) []Chunk {
	out := make([]Chunk, len(chunks))
	for i, c := range chunks {
		c.Replicas = slices.Clone(c.Replicas)
		if c.Replicas == nil {
			c.Replicas = []string{}
		}
		out[i] = c
	}
	return out
}
