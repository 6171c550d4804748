package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	payloadBlobsDirectoryNameConstant       = "blobs"
	payloadShardPrefixLengthConstant        = 2
	payloadNotFoundTemplateConstant         = "payload %s not found"
	payloadInvalidReferenceTemplateConstant = "invalid payload reference %q"
	payloadWriteErrorTemplateConstant       = "unable to store payload %s: %w"
	payloadReadErrorTemplateConstant        = "unable to read payload %s: %w"
	payloadDirectoryRequiredMessageConstant = "payload directory must be provided"
)

// ErrPayloadNotFound indicates the referenced payload is absent from the store.
var ErrPayloadNotFound = errors.New("payload not found")

// PayloadStore keeps evidence payloads outside the ledger, addressed by digest.
type PayloadStore interface {
	Put(data []byte) (string, error)
	Get(reference string) ([]byte, error)
}

// MemoryPayloadStore is an in-process content-addressed store.
type MemoryPayloadStore struct {
	mutex    sync.RWMutex
	payloads map[string][]byte
}

// NewMemoryPayloadStore constructs an empty in-memory payload store.
func NewMemoryPayloadStore() *MemoryPayloadStore {
	return &MemoryPayloadStore{payloads: make(map[string][]byte)}
}

// Put stores data and returns its digest.
func (store *MemoryPayloadStore) Put(data []byte) (string, error) {
	reference := PayloadDigest(data)
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, exists := store.payloads[reference]; !exists {
		store.payloads[reference] = append([]byte{}, data...)
	}
	return reference, nil
}

// Get returns a copy of the payload.
func (store *MemoryPayloadStore) Get(reference string) ([]byte, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	data, exists := store.payloads[reference]
	if !exists {
		return nil, fmt.Errorf(payloadNotFoundTemplateConstant+": %w", reference, ErrPayloadNotFound)
	}
	return append([]byte{}, data...), nil
}

// FilePayloadStore shards payload blobs under <directory>/blobs/<prefix>/<digest>.
type FilePayloadStore struct {
	directory string
}

// NewFilePayloadStore constructs a file-backed payload store.
func NewFilePayloadStore(directory string) (*FilePayloadStore, error) {
	trimmedDirectory := strings.TrimSpace(directory)
	if len(trimmedDirectory) == 0 {
		return nil, errors.New(payloadDirectoryRequiredMessageConstant)
	}
	return &FilePayloadStore{directory: trimmedDirectory}, nil
}

// BlobPath returns the file path of a payload reference.
func (store *FilePayloadStore) BlobPath(reference string) (string, error) {
	if len(reference) <= payloadShardPrefixLengthConstant || strings.ContainsAny(reference, `/\.`) {
		return "", fmt.Errorf(payloadInvalidReferenceTemplateConstant, reference)
	}
	return filepath.Join(store.directory, payloadBlobsDirectoryNameConstant, reference[:payloadShardPrefixLengthConstant], reference), nil
}

// Put stores data unless an identical blob already exists.
func (store *FilePayloadStore) Put(data []byte) (string, error) {
	reference := PayloadDigest(data)
	blobPath, pathError := store.BlobPath(reference)
	if pathError != nil {
		return "", pathError
	}
	if _, statError := os.Stat(blobPath); statError == nil {
		return reference, nil
	}
	if writeError := writeFileAtomicDurable(blobPath, data, 0o644); writeError != nil {
		return "", fmt.Errorf(payloadWriteErrorTemplateConstant, reference, writeError)
	}
	return reference, nil
}

// Get reads the blob for reference.
func (store *FilePayloadStore) Get(reference string) ([]byte, error) {
	blobPath, pathError := store.BlobPath(reference)
	if pathError != nil {
		return nil, pathError
	}
	data, readError := os.ReadFile(blobPath)
	if readError != nil {
		if errors.Is(readError, os.ErrNotExist) {
			return nil, fmt.Errorf(payloadNotFoundTemplateConstant+": %w", reference, ErrPayloadNotFound)
		}
		return nil, fmt.Errorf(payloadReadErrorTemplateConstant, reference, readError)
	}
	return data, nil
}
