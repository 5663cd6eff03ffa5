package cluster

import (
	"bytes"
	"errors"
	"strconv"
	"testing"
)

func TestEncodeDecodeChunk(t *testing.T) {
	data := bytes.Repeat([]byte("abc"), 1000)
	meta := ChunkMetadata{ChunkID: "c1", FileID: "f1", Filename: "report.pdf"}

	body, n, err := EncodeChunk(meta, data)
	if err != nil {
		t.Fatalf("EncodeChunk failed: %v", err)
	}
	if len(body) != n+len(data) {
		t.Fatalf("body length = %d, want %d", len(body), n+len(data))
	}

	got, payload, err := DecodeChunk(strconv.Itoa(n), body)
	if err != nil {
		t.Fatalf("DecodeChunk failed: %v", err)
	}
	if got.ChunkID != "c1" || got.FileID != "f1" || got.Filename != "report.pdf" {
		t.Errorf("Unexpected metadata: %+v", got)
	}
	if got.ChunkSize != int64(len(data)) {
		t.Errorf("chunk_size = %d, want %d", got.ChunkSize, len(data))
	}
	if !bytes.Equal(payload, data) {
		t.Error("payload differs from original data")
	}
}

func TestEncodeChunkEmptyData(t *testing.T) {
	body, n, err := EncodeChunk(ChunkMetadata{ChunkID: "c0"}, nil)
	if err != nil {
		t.Fatalf("EncodeChunk failed: %v", err)
	}
	meta, data, err := DecodeChunk(strconv.Itoa(n), body)
	if err != nil {
		t.Fatalf("DecodeChunk failed: %v", err)
	}
	if meta.ChunkSize != 0 || len(data) != 0 {
		t.Errorf("Expected empty chunk, got size %d len %d", meta.ChunkSize, len(data))
	}
}

func TestDecodeChunkErrors(t *testing.T) {
	body, n, _ := EncodeChunk(ChunkMetadata{ChunkID: "c1"}, []byte("hello"))

	tests := []struct {
		name    string
		header  string
		payload []byte
		want    error
	}{
		{"missing header", "", body, ErrMetadataLength},
		{"not a number", "abc", body, ErrMetadataLength},
		{"longer than payload", strconv.Itoa(len(body) + 1), body, ErrMetadataLength},
		{"cut json", strconv.Itoa(n - 1), body, ErrMetadataDecode},
		{"no chunk id", "2", []byte("{}hello"), ErrMetadataDecode},
		{"truncated data", strconv.Itoa(n), body[:len(body)-1], ErrChunkSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeChunk(tt.header, tt.payload)
			if !errors.Is(err, tt.want) {
				t.Errorf("DecodeChunk() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestChunkURLs(t *testing.T) {
	if got := StoreURL("10.0.0.1:8420/"); got != "http://10.0.0.1:8420/chunk" {
		t.Errorf("StoreURL = %s", got)
	}
	if got := FetchURL("http://n1:8420", "a b"); got != "http://n1:8420/chunk?id=a+b" {
		t.Errorf("FetchURL = %s", got)
	}
}
