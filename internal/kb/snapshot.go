package kb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ovokpus/regcopilot/internal/store"
	"github.com/ovokpus/regcopilot/pkg/version"
)

// SnapshotVersion identifies the snapshot schema written by this build.
const SnapshotVersion = "1.0"

// ProcessedFile records one document of the preloaded corpus.
type ProcessedFile struct {
	Filename   string `json:"filename"`
	Subfolder  string `json:"subfolder,omitempty"`
	ChunkCount int    `json:"chunk_count"`
	DocType    string `json:"doc_type"`
}

// SnapshotMetadata describes a snapshot's provenance and shape.
type SnapshotMetadata struct {
	CreatedAt      time.Time       `json:"created_at"`
	TotalDocuments int             `json:"total_documents"`
	TotalChunks    int             `json:"total_chunks"`
	Version        string          `json:"version"`
	Generator      string          `json:"generator,omitempty"`
	ProcessedFiles []ProcessedFile `json:"processed_files"`
}

// Snapshot is the vectorless preprocessed corpus: parsed and chunked once,
// embedded at bind time. Vectors are never serialized because they are tied
// to whichever API key the service binds at runtime.
type Snapshot struct {
	Metadata SnapshotMetadata      `json:"metadata"`
	Chunks   []store.SnapshotEntry `json:"chunks"`
}

// ParseSnapshot decodes and validates snapshot JSON.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if err := snap.validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// LoadSnapshot reads and validates a snapshot file.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return ParseSnapshot(data)
}

// WriteSnapshot writes the snapshot atomically via a temp file rename.
func WriteSnapshot(path string, snap *Snapshot) error {
	if err := snap.validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// BuildSnapshot assembles a snapshot from index entries, deriving the
// per-file manifest from chunk metadata in insertion order.
func BuildSnapshot(entries []store.SnapshotEntry) *Snapshot {
	var files []ProcessedFile
	byName := make(map[string]int)

	for _, e := range entries {
		name := e.Metadata.GetString(store.KeyFilename)
		if idx, ok := byName[name]; ok {
			files[idx].ChunkCount++
			continue
		}
		byName[name] = len(files)
		files = append(files, ProcessedFile{
			Filename:   name,
			ChunkCount: 1,
			DocType:    e.Metadata.GetString(store.KeyDocType),
		})
	}

	return &Snapshot{
		Metadata: SnapshotMetadata{
			CreatedAt:      time.Now().UTC().Truncate(time.Second),
			TotalDocuments: len(files),
			TotalChunks:    len(entries),
			Version:        SnapshotVersion,
			Generator:      "regcopilot " + version.Version,
			ProcessedFiles: files,
		},
		Chunks: entries,
	}
}

// validate rejects snapshots that would fail store.Restore, plus plainly
// inconsistent metadata. Chunk metadata itself is re-validated by Restore.
func (s *Snapshot) validate() error {
	if s.Metadata.Version == "" {
		return fmt.Errorf("snapshot missing version")
	}
	for i, c := range s.Chunks {
		if c.Text == "" {
			return fmt.Errorf("snapshot chunk %d: empty text", i)
		}
		if c.Metadata.GetString(store.KeyFilename) == "" {
			return fmt.Errorf("snapshot chunk %d: missing filename", i)
		}
	}
	if s.Metadata.TotalChunks != 0 && s.Metadata.TotalChunks != len(s.Chunks) {
		return fmt.Errorf("snapshot total_chunks %d does not match %d chunks",
			s.Metadata.TotalChunks, len(s.Chunks))
	}
	return nil
}
