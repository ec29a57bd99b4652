package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// writeStaged is replaced in tests to simulate a failing disk.
var writeStaged = os.WriteFile

// stagedFile is an uploaded file written to the upload folder for the
// duration of one request. Release removes it and is safe to call any number
// of times from any goroutine.
type stagedFile struct {
	path    string
	once    sync.Once
	release func(string) error
	err     error
}

func stageFile(dir, name string, data []byte) (*stagedFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure upload folder: %w", err)
	}
	path := filepath.Join(dir, uuid.NewString()+"_"+safeFileName(name))
	if err := writeStaged(path, data, 0o600); err != nil {
		// A short write may still have created the file.
		_ = os.Remove(path)
		return nil, fmt.Errorf("write staged file: %w", err)
	}
	return &stagedFile{path: path, release: os.Remove}, nil
}

// Path returns the location on disk.
func (f *stagedFile) Path() string { return f.path }

// Read returns the staged bytes.
func (f *stagedFile) Read() ([]byte, error) {
	return os.ReadFile(f.path)
}

// Release deletes the file exactly once. A file that is already gone is not
// an error.
func (f *stagedFile) Release() error {
	f.once.Do(func() {
		if err := f.release(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			f.err = err
		}
	})
	return f.err
}

// safeFileName reduces an uploaded name to its base and a conservative
// character set.
func safeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(strings.TrimSpace(name))
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "upload"
	}
	if len(name) > 100 {
		name = name[len(name)-100:]
	}
	return name
}
