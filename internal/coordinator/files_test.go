package coordinator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manifest(fileID string, sizes ...int64) []Chunk {
	chunks := make([]Chunk, len(sizes))
	for i, s := range sizes {
		chunks[i] = Chunk{
			ID:       fmt.Sprintf("%s-c%d", fileID, i),
			FileID:   fileID,
			Index:    i,
			Size:     s,
			Status:   ChunkStored,
			Replicas: []string{"n1"},
		}
	}
	return chunks
}

func TestFileIndexCreate(t *testing.T) {
	fi := NewFileIndex()
	f := fi.Create("a.txt", 12, "text/plain")

	assert.NotEmpty(t, f.ID)
	assert.Equal(t, "a.txt", f.Name)
	assert.Equal(t, int64(12), f.Size)
	assert.Equal(t, "text/plain", f.ContentType)
	assert.Equal(t, FileProcessing, f.Status)
	assert.Empty(t, f.Chunks)
	assert.False(t, f.UploadedAt.IsZero())

	other := fi.Create("b.txt", 1, "")
	assert.NotEqual(t, f.ID, other.ID)
	assert.Equal(t, 2, fi.Count())
}

func TestFileIndexComplete(t *testing.T) {
	fi := NewFileIndex()
	f := fi.Create("a.bin", 25, "application/octet-stream")

	done, err := fi.Complete(f.ID, manifest(f.ID, 10, 10, 5))
	require.NoError(t, err)
	assert.Equal(t, FileCompleted, done.Status)
	assert.Len(t, done.Chunks, 3)
	assert.Equal(t, int64(25), done.StoredBytes())

	// exactly once
	_, err = fi.Complete(f.ID, manifest(f.ID, 25))
	assert.ErrorIs(t, err, ErrAlreadyCompleted)

	got, err := fi.Get(f.ID)
	require.NoError(t, err)
	assert.Len(t, got.Chunks, 3)
}

func TestFileIndexCompleteRejectsGaps(t *testing.T) {
	fi := NewFileIndex()
	f := fi.Create("a.bin", 20, "")

	chunks := manifest(f.ID, 10, 10)
	chunks[1].Index = 2
	_, err := fi.Complete(f.ID, chunks)
	assert.ErrorIs(t, err, ErrInvalidManifest)

	foreign := manifest("other", 10, 10)
	_, err = fi.Complete(f.ID, foreign)
	assert.ErrorIs(t, err, ErrInvalidManifest)

	got, _ := fi.Get(f.ID)
	assert.Equal(t, FileProcessing, got.Status)
}

func TestFileIndexUnknown(t *testing.T) {
	fi := NewFileIndex()
	_, err := fi.Get("nope")
	assert.ErrorIs(t, err, ErrFileNotFound)

	_, err = fi.Complete("nope", nil)
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestFileIndexListSummaries(t *testing.T) {
	fi := NewFileIndex()
	a := fi.Create("a", 25, "")
	b := fi.Create("b", 0, "")
	_, err := fi.Complete(a.ID, manifest(a.ID, 10, 10, 5))
	require.NoError(t, err)

	list := fi.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, 3, list[0].ChunksCount)
	assert.Equal(t, FileCompleted, list[0].Status)
	assert.Equal(t, b.ID, list[1].ID)
	assert.Equal(t, 0, list[1].ChunksCount)
	assert.Equal(t, FileProcessing, list[1].Status)
}

func TestFileIndexSnapshotsAreCopies(t *testing.T) {
	fi := NewFileIndex()
	f := fi.Create("a", 10, "")
	_, err := fi.Complete(f.ID, manifest(f.ID, 10))
	require.NoError(t, err)

	got, _ := fi.Get(f.ID)
	got.Chunks[0].Replicas[0] = "tampered"
	got.Chunks[0].Size = 99

	again, _ := fi.Get(f.ID)
	assert.Equal(t, "n1", again.Chunks[0].Replicas[0])
	assert.Equal(t, int64(10), again.Chunks[0].Size)
}
