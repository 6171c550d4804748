package collectors

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/temirov/auditgate/internal/evidence"
)

const (
	targetUnavailableTemplateConstant  = "target directory %s is unavailable: %w"
	targetNotDirectoryTemplateConstant = "target %s is not a directory"
	walkFailureTemplateConstant        = "unable to read %s: %w"
	lineCountBufferSizeConstant        = 64 * 1024
)

type walkedFile struct {
	relativePath string
	absolutePath string
}

// walkTarget lists regular files under root in lexical order, skipping
// excluded directory names. Unreadable entries fail the walk.
func walkTarget(source evidence.Source, root string, excludedDirectories []string) ([]walkedFile, error) {
	rootInfo, statError := os.Stat(root)
	if statError != nil {
		return nil, evidence.NewCollectionError(source, fmt.Errorf(targetUnavailableTemplateConstant, root, statError))
	}
	if !rootInfo.IsDir() {
		return nil, evidence.NewCollectionError(source, fmt.Errorf(targetNotDirectoryTemplateConstant, root))
	}

	excluded := make(map[string]struct{}, len(excludedDirectories))
	for _, directoryName := range excludedDirectories {
		excluded[filepath.Clean(directoryName)] = struct{}{}
	}

	var files []walkedFile
	walkError := filepath.WalkDir(root, func(path string, entry fs.DirEntry, entryError error) error {
		if entryError != nil {
			return fmt.Errorf(walkFailureTemplateConstant, path, entryError)
		}
		relativePath, relativeError := filepath.Rel(root, path)
		if relativeError != nil {
			return relativeError
		}
		if entry.IsDir() {
			if path == root {
				return nil
			}
			if _, skip := excluded[entry.Name()]; skip {
				return filepath.SkipDir
			}
			if _, skip := excluded[relativePath]; skip {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		files = append(files, walkedFile{relativePath: filepath.ToSlash(relativePath), absolutePath: path})
		return nil
	})
	if walkError != nil {
		return nil, evidence.NewCollectionError(source, walkError)
	}
	sort.Slice(files, func(left int, right int) bool {
		return files[left].relativePath < files[right].relativePath
	})
	return files, nil
}

// countLines counts newline-terminated lines plus a trailing unterminated line.
func countLines(path string) (int64, error) {
	file, openError := os.Open(path)
	if openError != nil {
		return 0, openError
	}
	defer file.Close()

	reader := bufio.NewReaderSize(file, lineCountBufferSizeConstant)
	buffer := make([]byte, lineCountBufferSizeConstant)
	var lineCount int64
	var lastByte byte
	var sawContent bool
	for {
		readCount, readError := reader.Read(buffer)
		if readCount > 0 {
			sawContent = true
			lineCount += int64(bytes.Count(buffer[:readCount], []byte{'\n'}))
			lastByte = buffer[readCount-1]
		}
		if errors.Is(readError, io.EOF) {
			break
		}
		if readError != nil {
			return 0, readError
		}
	}
	if sawContent && lastByte != '\n' {
		lineCount++
	}
	return lineCount, nil
}

func hasExtension(path string, extensions []string) bool {
	extension := strings.ToLower(filepath.Ext(path))
	for _, candidate := range extensions {
		if strings.ToLower(candidate) == extension {
			return true
		}
	}
	return false
}

func stringList(values []string) []any {
	list := make([]any, 0, len(values))
	for _, value := range values {
		list = append(list, value)
	}
	return list
}
