package kb

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// uploadStamp prefixes persisted uploads so re-uploads never collide and
// the original upload time survives a restart.
const uploadStamp = "20060102_150405"

// StoredUpload is one persisted upload on disk.
type StoredUpload struct {
	// Filename is the original upload filename.
	Filename string

	// Path is the absolute path of the stamped copy.
	Path string

	// UploadedAt is recovered from the filename stamp.
	UploadedAt time.Time
}

// UploadStore persists accepted uploads under a directory so they survive a
// restart. A cross-process file lock prevents two service instances from
// sharing the directory.
type UploadStore struct {
	dir    string
	flock  *flock.Flock
	logger *slog.Logger
}

// NewUploadStore opens the uploads directory, creating it if needed, and
// takes its lock. Returns an error when another process holds the directory.
func NewUploadStore(dir string, logger *slog.Logger) (*UploadStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, ".uploads.lock"))
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock uploads dir: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("uploads dir %s is locked by another process", dir)
	}

	return &UploadStore{dir: dir, flock: lock, logger: logger}, nil
}

// Dir returns the uploads directory path.
func (u *UploadStore) Dir() string {
	return u.dir
}

// Save persists an upload as {timestamp}_{filename} and returns the stored
// path. The write goes through a temp file so a crash never leaves a
// partial upload behind.
func (u *UploadStore) Save(filename string, r io.Reader) (string, error) {
	stamped := time.Now().Format(uploadStamp) + "_" + filepath.Base(filename)
	path := filepath.Join(u.dir, stamped)

	tmp, err := os.CreateTemp(u.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp upload: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close upload: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename upload: %w", err)
	}
	return path, nil
}

// Remove deletes every persisted copy of the logical filename and returns
// how many files were removed. Missing copies are not an error.
func (u *UploadStore) Remove(filename string) int {
	entries, err := os.ReadDir(u.dir)
	if err != nil {
		u.logger.Warn("failed to read uploads dir", "dir", u.dir, "error", err)
		return 0
	}

	base := filepath.Base(filename)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		logical, _, ok := splitStamp(e.Name())
		if !ok || logical != base {
			continue
		}
		if err := os.Remove(filepath.Join(u.dir, e.Name())); err != nil {
			u.logger.Warn("failed to remove persisted upload", "file", e.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed
}

// List returns the newest persisted copy of each uploaded document, in
// first-upload order. Files without a valid stamp are skipped.
func (u *UploadStore) List() ([]StoredUpload, error) {
	entries, err := os.ReadDir(u.dir)
	if err != nil {
		return nil, fmt.Errorf("read uploads dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	// Stamp-prefixed names sort chronologically.
	sort.Strings(names)

	latest := make(map[string]StoredUpload)
	var order []string
	for _, name := range names {
		logical, at, ok := splitStamp(name)
		if !ok {
			continue
		}
		if _, seen := latest[logical]; !seen {
			order = append(order, logical)
		}
		latest[logical] = StoredUpload{
			Filename:   logical,
			Path:       filepath.Join(u.dir, name),
			UploadedAt: at,
		}
	}

	out := make([]StoredUpload, 0, len(order))
	for _, logical := range order {
		out = append(out, latest[logical])
	}
	return out, nil
}

// Close releases the directory lock.
func (u *UploadStore) Close() error {
	return u.flock.Unlock()
}

// splitStamp splits "{timestamp}_{filename}" into its parts.
func splitStamp(stored string) (string, time.Time, bool) {
	stampLen := len(uploadStamp)
	if len(stored) < stampLen+2 || stored[stampLen] != '_' {
		return "", time.Time{}, false
	}
	at, err := time.Parse(uploadStamp, stored[:stampLen])
	if err != nil {
		return "", time.Time{}, false
	}
	return stored[stampLen+1:], at, true
}
