package verdict

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/temirov/auditgate/internal/evidence"
)

const (
	historyDirectoryPermissionsConstant = 0o755
	historyFilePermissionsConstant      = 0o644
	historyLineBufferBytesConstant      = 16 * 1024 * 1024
	historyOpenErrorTemplateConstant    = "unable to open audit history %s: %w"
	historyWriteErrorTemplateConstant   = "unable to append audit history %s: %w"
	historyDecodeErrorTemplateConstant  = "audit history %s line %d is malformed: %w"
)

// FileHistoryStore keeps results as JSON lines in a single file.
type FileHistoryStore struct {
	path  string
	mutex sync.Mutex
	clock func() time.Time
}

// NewFileHistoryStore prepares the history file's directory.
func NewFileHistoryStore(path string) (*FileHistoryStore, error) {
	if mkdirError := os.MkdirAll(filepath.Dir(path), historyDirectoryPermissionsConstant); mkdirError != nil {
		return nil, fmt.Errorf(historyOpenErrorTemplateConstant, path, mkdirError)
	}
	return &FileHistoryStore{path: path, clock: time.Now}, nil
}

// Path returns the history file location.
func (store *FileHistoryStore) Path() string {
	return store.path
}

// Append writes result as a new line and syncs the file.
func (store *FileHistoryStore) Append(executionContext context.Context, result evidence.AuditResult) (StoredResult, error) {
	if contextError := executionContext.Err(); contextError != nil {
		return StoredResult{}, contextError
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()

	existing, loadError := store.loadLocked()
	if loadError != nil {
		return StoredResult{}, loadError
	}
	stored := StoredResult{
		Sequence: int64(len(existing)) + 1,
		StoredAt: store.clock().UTC(),
		Result:   result,
	}
	encoded, encodeError := json.Marshal(stored)
	if encodeError != nil {
		return StoredResult{}, fmt.Errorf(historyWriteErrorTemplateConstant, store.path, encodeError)
	}

	file, openError := os.OpenFile(store.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, historyFilePermissionsConstant)
	if openError != nil {
		return StoredResult{}, fmt.Errorf(historyOpenErrorTemplateConstant, store.path, openError)
	}
	defer file.Close()
	if _, writeError := file.Write(append(encoded, '\n')); writeError != nil {
		return StoredResult{}, fmt.Errorf(historyWriteErrorTemplateConstant, store.path, writeError)
	}
	if syncError := file.Sync(); syncError != nil {
		return StoredResult{}, fmt.Errorf(historyWriteErrorTemplateConstant, store.path, syncError)
	}
	return stored, nil
}

// History returns every result stored for taskID, newest first.
func (store *FileHistoryStore) History(executionContext context.Context, taskID string) ([]StoredResult, error) {
	return store.filtered(executionContext, Filter{TaskID: taskID})
}

// List returns a page of matching results, newest first.
func (store *FileHistoryStore) List(executionContext context.Context, filter Filter, page Page) (Listing, error) {
	matching, listError := store.filtered(executionContext, filter)
	if listError != nil {
		return Listing{}, listError
	}
	return paginate(matching, page.Normalize()), nil
}

func (store *FileHistoryStore) filtered(executionContext context.Context, filter Filter) ([]StoredResult, error) {
	if contextError := executionContext.Err(); contextError != nil {
		return nil, contextError
	}
	store.mutex.Lock()
	stored, loadError := store.loadLocked()
	store.mutex.Unlock()
	if loadError != nil {
		return nil, loadError
	}
	matching := []StoredResult{}
	for _, candidate := range stored {
		if filter.Matches(candidate) {
			matching = append(matching, candidate)
		}
	}
	sortNewestFirst(matching)
	return matching, nil
}

func (store *FileHistoryStore) loadLocked() ([]StoredResult, error) {
	file, openError := os.Open(store.path)
	if errors.Is(openError, fs.ErrNotExist) {
		return nil, nil
	}
	if openError != nil {
		return nil, fmt.Errorf(historyOpenErrorTemplateConstant, store.path, openError)
	}
	defer file.Close()

	var stored []StoredResult
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), historyLineBufferBytesConstant)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry StoredResult
		if decodeError := json.Unmarshal(line, &entry); decodeError != nil {
			return nil, fmt.Errorf(historyDecodeErrorTemplateConstant, store.path, lineNumber, decodeError)
		}
		stored = append(stored, entry)
	}
	if scanError := scanner.Err(); scanError != nil {
		return nil, fmt.Errorf(historyOpenErrorTemplateConstant, store.path, scanError)
	}
	return stored, nil
}
