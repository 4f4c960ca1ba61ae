// Package staging is the durable local write-ahead area for uploaded photo
// bytes. Files live under a record-scoped directory until the queue engine
// confirms the remote upload and releases them.
package staging

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const maxNameLen = 255

// Store writes and releases staged files under BaseDir. The directory is
// owned exclusively by this component; the queue engine only reads from it
// after creation.
type Store struct {
	BaseDir string
}

func New(baseDir string) *Store {
	return &Store{BaseDir: baseDir}
}

// Stage persists fileBytes under BaseDir/<recordID>/ with a unique
// timestamped name and returns the full path.
func (s *Store) Stage(recordID uint, data []byte, fileName string) (string, error) {
	dir := filepath.Join(s.BaseDir, fmt.Sprintf("%d", recordID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	name := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), SanitizeFileName(fileName))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write staged file: %w", err)
	}
	return path, nil
}

// Read returns the staged bytes.
func (s *Store) Read(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Release deletes a staged file. Already-deleted files are not an error.
func (s *Store) Release(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		// fs.ErrNotExist wrapped by some platforms
		if pe, ok := err.(*fs.PathError); !ok || !os.IsNotExist(pe.Err) {
			return err
		}
	}
	return nil
}

// SanitizeFileName strips path separators, control characters and the
// characters <>:"|?* from a client-supplied file name, capping the result at
// 255 characters including the extension.
func SanitizeFileName(fileName string) string {
	var b strings.Builder
	for _, r := range fileName {
		switch {
		case r == '/' || r == '\\':
			b.WriteByte('_')
		case r < 0x20 || r == 0x7f:
			// drop control characters
		case strings.ContainsRune(`<>:"|?*`, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > maxNameLen {
		ext := filepath.Ext(out)
		if len(ext) >= maxNameLen {
			ext = ""
		}
		out = out[:maxNameLen-len(ext)] + ext
	}
	if out == "" {
		return "unnamed"
	}
	return out
}
