package ledger

import (
	"os"
	"path/filepath"
)

// writeFileAtomicDurable writes through a synced temporary file and renames it
// into place so readers never observe a partial file.
func writeFileAtomicDurable(path string, data []byte, permissions os.FileMode) error {
	directory := filepath.Dir(path)
	if mkdirError := os.MkdirAll(directory, 0o755); mkdirError != nil {
		return mkdirError
	}

	temporaryFile, createError := os.CreateTemp(directory, filepath.Base(path)+".tmp.*")
	if createError != nil {
		return createError
	}
	temporaryName := temporaryFile.Name()
	committed := false
	defer func() {
		_ = temporaryFile.Close()
		if !committed {
			_ = os.Remove(temporaryName)
		}
	}()

	if _, writeError := temporaryFile.Write(data); writeError != nil {
		return writeError
	}
	if chmodError := temporaryFile.Chmod(permissions); chmodError != nil {
		return chmodError
	}
	if syncError := temporaryFile.Sync(); syncError != nil {
		return syncError
	}
	if closeError := temporaryFile.Close(); closeError != nil {
		return closeError
	}
	if renameError := os.Rename(temporaryName, path); renameError != nil {
		return renameError
	}
	committed = true
	return nil
}
