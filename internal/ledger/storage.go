package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/temirov/auditgate/internal/evidence"
)

const (
	ledgerRecordsFileNameConstant          = "ledger.jsonl"
	ledgerHeadFileNameConstant             = "LATEST"
	ledgerLockFileNameConstant             = ".ledger.lock"
	staleHeadMessageConstant               = "ledger head moved since the record was linked"
	staleHeadTemplateConstant              = "%w: record links to %s, stored head is %s"
	lockErrorTemplateConstant              = "unable to lock ledger directory: %w"
	ledgerDirectoryRequiredMessageConstant = "ledger directory must be provided"
	malformedRecordReasonTemplateConstant  = "malformed record: %v"
	headMismatchReasonTemplateConstant     = "head pointer %s does not match last record %s"
	recordsOpenErrorTemplateConstant       = "unable to open ledger records: %w"
	recordsWriteErrorTemplateConstant      = "unable to write ledger record: %w"
	headWriteErrorTemplateConstant         = "unable to update ledger head: %w"
	recordMarshalErrorTemplateConstant     = "unable to encode ledger record: %w"
	maximumRecordLineBytesConstant         = 4 * 1024 * 1024
)

// ErrStaleHead reports that another writer appended to the storage after the
// record was linked. The ledger reloads and relinks on this error.
var ErrStaleHead = errors.New(staleHeadMessageConstant)

// Storage persists ledger records in append order.
type Storage interface {
	// Load returns every stored record in append order. A structurally corrupt
	// store returns the readable prefix along with a *evidence.ChainIntegrityError.
	Load() ([]evidence.Item, error)
	// Persist durably appends a single record. It returns ErrStaleHead when
	// item.PreviousHash is not the stored head.
	Persist(item evidence.Item) error
}

// MemoryStorage keeps records in process memory.
type MemoryStorage struct {
	mutex   sync.Mutex
	records []evidence.Item
}

// NewMemoryStorage constructs an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Load returns a copy of the stored records.
func (storage *MemoryStorage) Load() ([]evidence.Item, error) {
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	return append([]evidence.Item{}, storage.records...), nil
}

// Persist appends the record.
func (storage *MemoryStorage) Persist(item evidence.Item) error {
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	head := GenesisHash
	if len(storage.records) > 0 {
		head = storage.records[len(storage.records)-1].Hash
	}
	if item.PreviousHash != head {
		return fmt.Errorf(staleHeadTemplateConstant, ErrStaleHead, item.PreviousHash, head)
	}
	storage.records = append(storage.records, item)
	return nil
}

// FileStorage stores records as JSON lines alongside a LATEST file holding the
// head hash. Readers and writers in every process coordinate through an
// advisory lock on .ledger.lock in the same directory.
type FileStorage struct {
	directory string
	lock      *flock.Flock
}

// NewFileStorage constructs a file-backed storage rooted at directory.
func NewFileStorage(directory string) (*FileStorage, error) {
	trimmedDirectory := strings.TrimSpace(directory)
	if len(trimmedDirectory) == 0 {
		return nil, errors.New(ledgerDirectoryRequiredMessageConstant)
	}
	return &FileStorage{
		directory: trimmedDirectory,
		lock:      flock.New(filepath.Join(trimmedDirectory, ledgerLockFileNameConstant)),
	}, nil
}

// RecordsPath returns the JSONL file holding ledger records.
func (storage *FileStorage) RecordsPath() string {
	return filepath.Join(storage.directory, ledgerRecordsFileNameConstant)
}

func (storage *FileStorage) headPath() string {
	return filepath.Join(storage.directory, ledgerHeadFileNameConstant)
}

// Load reads all records and cross-checks the head pointer.
func (storage *FileStorage) Load() ([]evidence.Item, error) {
	if _, statError := os.Stat(storage.RecordsPath()); errors.Is(statError, os.ErrNotExist) {
		return nil, nil
	}
	if lockError := storage.lock.RLock(); lockError != nil {
		return nil, fmt.Errorf(lockErrorTemplateConstant, lockError)
	}
	defer storage.lock.Unlock()

	items, recordsError := storage.readRecords()
	if recordsError != nil {
		return items, recordsError
	}

	headContent, headError := os.ReadFile(storage.headPath())
	if headError != nil && !errors.Is(headError, os.ErrNotExist) {
		return items, fmt.Errorf(recordsOpenErrorTemplateConstant, headError)
	}
	head := strings.TrimSpace(string(headContent))
	lastHash := GenesisHash
	if len(items) > 0 {
		lastHash = items[len(items)-1].Hash
	}
	if len(head) > 0 && head != lastHash {
		return items, &evidence.ChainIntegrityError{Index: len(items), Reason: fmt.Sprintf(headMismatchReasonTemplateConstant, head, lastHash)}
	}

	return items, nil
}

// Persist appends the record, syncs it, and moves the head pointer. The
// exclusive lock is held from the head check until the head is rewritten.
func (storage *FileStorage) Persist(item evidence.Item) error {
	encodedRecord, marshalError := json.Marshal(item)
	if marshalError != nil {
		return fmt.Errorf(recordMarshalErrorTemplateConstant, marshalError)
	}
	if mkdirError := os.MkdirAll(storage.directory, 0o755); mkdirError != nil {
		return fmt.Errorf(recordsWriteErrorTemplateConstant, mkdirError)
	}
	if lockError := storage.lock.Lock(); lockError != nil {
		return fmt.Errorf(lockErrorTemplateConstant, lockError)
	}
	defer storage.lock.Unlock()

	storedHead, headError := storage.readHead()
	if headError != nil {
		return headError
	}
	if item.PreviousHash != storedHead {
		return fmt.Errorf(staleHeadTemplateConstant, ErrStaleHead, item.PreviousHash, storedHead)
	}

	recordsFile, openError := os.OpenFile(storage.RecordsPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if openError != nil {
		return fmt.Errorf(recordsOpenErrorTemplateConstant, openError)
	}
	if _, writeError := recordsFile.Write(append(encodedRecord, '\n')); writeError != nil {
		_ = recordsFile.Close()
		return fmt.Errorf(recordsWriteErrorTemplateConstant, writeError)
	}
	if syncError := recordsFile.Sync(); syncError != nil {
		_ = recordsFile.Close()
		return fmt.Errorf(recordsWriteErrorTemplateConstant, syncError)
	}
	if closeError := recordsFile.Close(); closeError != nil {
		return fmt.Errorf(recordsWriteErrorTemplateConstant, closeError)
	}

	if headError := writeFileAtomicDurable(storage.headPath(), []byte(item.Hash+"\n"), 0o644); headError != nil {
		return fmt.Errorf(headWriteErrorTemplateConstant, headError)
	}
	return nil
}

func (storage *FileStorage) readHead() (string, error) {
	headContent, readError := os.ReadFile(storage.headPath())
	if errors.Is(readError, os.ErrNotExist) {
		items, recordsError := storage.readRecords()
		if recordsError != nil {
			return "", recordsError
		}
		if len(items) == 0 {
			return GenesisHash, nil
		}
		return items[len(items)-1].Hash, nil
	}
	if readError != nil {
		return "", fmt.Errorf(recordsOpenErrorTemplateConstant, readError)
	}
	head := strings.TrimSpace(string(headContent))
	if len(head) == 0 {
		return GenesisHash, nil
	}
	return head, nil
}

func (storage *FileStorage) readRecords() ([]evidence.Item, error) {
	recordsFile, openError := os.Open(storage.RecordsPath())
	if errors.Is(openError, os.ErrNotExist) {
		return nil, nil
	}
	if openError != nil {
		return nil, fmt.Errorf(recordsOpenErrorTemplateConstant, openError)
	}
	defer recordsFile.Close()

	var items []evidence.Item
	scanner := bufio.NewScanner(recordsFile)
	scanner.Buffer(make([]byte, 0, 64*1024), maximumRecordLineBytesConstant)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var item evidence.Item
		decoder := json.NewDecoder(bytes.NewReader(line))
		decoder.DisallowUnknownFields()
		if decodeError := decoder.Decode(&item); decodeError != nil {
			return items, &evidence.ChainIntegrityError{Index: len(items), Reason: fmt.Sprintf(malformedRecordReasonTemplateConstant, decodeError)}
		}
		items = append(items, item)
	}
	if scanError := scanner.Err(); scanError != nil {
		return items, &evidence.ChainIntegrityError{Index: len(items), Reason: fmt.Sprintf(malformedRecordReasonTemplateConstant, scanError)}
	}
	return items, nil
}
