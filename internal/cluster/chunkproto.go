package cluster

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// MetadataLengthHeader carries the byte length of the JSON metadata block
// that prefixes the chunk bytes in a store request.
const MetadataLengthHeader = "X-Metadata-Length"

var (
	ErrMetadataLength = errors.New("invalid metadata length")
	ErrMetadataDecode = errors.New("invalid chunk metadata")
	ErrChunkSize      = errors.New("chunk size does not match payload")
)

// EncodeChunk builds a store request body: the metadata JSON immediately
// followed by the raw chunk bytes. The returned length belongs in
// MetadataLengthHeader.
func EncodeChunk(meta ChunkMetadata, data []byte) ([]byte, int, error) {
	meta.ChunkSize = int64(len(data))
	head, err := json.Marshal(meta)
	if err != nil {
		return nil, 0, err
	}
	body := make([]byte, 0, len(head)+len(data))
	body = append(body, head...)
	body = append(body, data...)
	return body, len(head), nil
}

// DecodeChunk splits a store request payload using the header value.
// The returned data aliases payload.
func DecodeChunk(metaLen string, payload []byte) (ChunkMetadata, []byte, error) {
	var meta ChunkMetadata

	n, err := strconv.Atoi(metaLen)
	if err != nil || n <= 0 || n > len(payload) {
		return meta, nil, fmt.Errorf("%w: %q", ErrMetadataLength, metaLen)
	}
	if err := json.Unmarshal(payload[:n], &meta); err != nil {
		return meta, nil, fmt.Errorf("%w: %v", ErrMetadataDecode, err)
	}
	if meta.ChunkID == "" {
		return meta, nil, fmt.Errorf("%w: chunk_id missing", ErrMetadataDecode)
	}
	data := payload[n:]
	if meta.ChunkSize != int64(len(data)) {
		return meta, nil, fmt.Errorf("%w: declared %d, got %d", ErrChunkSize, meta.ChunkSize, len(data))
	}
	return meta, data, nil
}

// StoreURL is the node endpoint accepting chunk pushes.
func StoreURL(addr string) string {
	return BaseURL(addr) + "/chunk"
}

// FetchURL is the node endpoint serving a stored chunk.
func FetchURL(addr, chunkID string) string {
	return BaseURL(addr) + "/chunk?id=" + url.QueryEscape(chunkID)
}
