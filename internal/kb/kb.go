// Package kb owns the shared knowledge base: the preloaded regulatory corpus
// plus user-uploaded documents, backed by the in-memory cosine index.
//
// The knowledge base seeds from a vectorless snapshot at startup and binds an
// embedder lazily when the first authenticated request arrives, so the
// service boots without any API key. Queries run concurrently; mutations are
// serialized and embed outside the state lock, so a slow upstream call never
// blocks readers.
package kb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ovokpus/regcopilot/internal/chunk"
	"github.com/ovokpus/regcopilot/internal/docparse"
	"github.com/ovokpus/regcopilot/internal/embed"
	rcerrors "github.com/ovokpus/regcopilot/internal/errors"
	"github.com/ovokpus/regcopilot/internal/store"
)

// State is the knowledge base lifecycle state.
type State int

const (
	// StateUninitialized is the state before Seed runs.
	StateUninitialized State = iota
	// StateSeeding is the transient state while the snapshot loads.
	StateSeeding
	// StateReady accepts queries and updates.
	StateReady
	// StateUpdating is the transient state while a mutation or rebind embeds.
	StateUpdating
	// StateTerminated is the terminal state after Close.
	StateTerminated
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSeeding:
		return "seeding"
	case StateReady:
		return "ready"
	case StateUpdating:
		return "updating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// EmbedderFactory builds an embedder bound to an API key. The knowledge base
// calls it lazily on first bind and again whenever the key rotates.
type EmbedderFactory func(apiKey string) embed.Embedder

// Info is the knowledge base status payload.
type Info struct {
	Status                    string   `json:"status"`
	Initialized               bool     `json:"initialized"`
	Error                     *string  `json:"error"`
	Documents                 []string `json:"documents"`
	UserUploadedDocuments     []string `json:"user_uploaded_documents"`
	DocumentCount             int      `json:"document_count"`
	OriginalDocumentCount     int      `json:"original_document_count"`
	UserUploadedDocumentCount int      `json:"user_uploaded_document_count"`
	ChunkCount                int      `json:"chunk_count"`
	Description               string   `json:"description"`
}

// AddResult summarizes an accepted upload.
type AddResult struct {
	Filename       string `json:"filename"`
	DocType        string `json:"doc_type"`
	RegulatoryType string `json:"regulatory_type,omitempty"`
	ChunksCreated  int    `json:"chunks_created"`
	Replaced       bool   `json:"replaced"`
}

// docInfo is per-document bookkeeping derived from inserted chunks.
type docInfo struct {
	chunkCount int
	docType    string
	source     string
	regType    string
}

// Option configures a KnowledgeBase.
type Option func(*KnowledgeBase)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(kb *KnowledgeBase) {
		kb.logger = logger
	}
}

// WithSplitter overrides the chunker applied to uploads.
func WithSplitter(s *chunk.Splitter) Option {
	return func(kb *KnowledgeBase) {
		kb.splitter = s
	}
}

// WithUploadStore persists accepted uploads so they are re-ingested after a
// restart. The knowledge base owns the store and closes it on Close.
func WithUploadStore(u *UploadStore) Option {
	return func(kb *KnowledgeBase) {
		kb.uploads = u
	}
}

// KnowledgeBase coordinates the index, the lazily bound embedder, and
// document lifecycle. All methods are safe for concurrent use.
type KnowledgeBase struct {
	index    store.Index
	factory  EmbedderFactory
	splitter *chunk.Splitter
	uploads  *UploadStore
	logger   *slog.Logger

	// updateMu serializes mutations (seed, bind, add, remove) end to end so
	// long embedding calls never run under the state lock.
	updateMu sync.Mutex

	// mu guards the fields below and compound index operations, so queries
	// observe document swaps atomically.
	mu          sync.RWMutex
	state       State
	embedder    embed.Embedder
	fingerprint string
	docs        map[string]*docInfo
	docOrder    []string
	seededAt    time.Time
	seedErr     error
}

// NewKnowledgeBase creates an unseeded knowledge base over the given index.
func NewKnowledgeBase(index store.Index, factory EmbedderFactory, opts ...Option) (*KnowledgeBase, error) {
	if index == nil {
		return nil, fmt.Errorf("index is required")
	}
	if factory == nil {
		return nil, fmt.Errorf("embedder factory is required")
	}

	kb := &KnowledgeBase{
		index:    index,
		factory:  factory,
		splitter: chunk.NewSplitter(),
		logger:   slog.Default(),
		state:    StateUninitialized,
		docs:     make(map[string]*docInfo),
	}
	for _, opt := range opts {
		opt(kb)
	}
	return kb, nil
}

// Seed loads the preloaded corpus from a snapshot and re-ingests any
// persisted uploads, all vectorless. A nil snapshot starts upload-only mode.
// Seed never fails the service: a snapshot that cannot be restored degrades
// to upload-only mode with the cause recorded.
//
// Seed is idempotent; calling it on a seeded knowledge base is a no-op.
func (kb *KnowledgeBase) Seed(ctx context.Context, snap *Snapshot) error {
	kb.updateMu.Lock()
	defer kb.updateMu.Unlock()

	kb.mu.Lock()
	if kb.state == StateTerminated {
		kb.mu.Unlock()
		return notReady(kb.state)
	}
	if kb.state != StateUninitialized {
		kb.mu.Unlock()
		kb.logger.Debug("knowledge base already seeded")
		return nil
	}
	kb.state = StateSeeding
	kb.mu.Unlock()

	var entries []store.SnapshotEntry
	if snap != nil {
		entries = make([]store.SnapshotEntry, 0, len(snap.Chunks))
		for _, c := range snap.Chunks {
			md := c.Metadata.Clone()
			// The snapshot is the preloaded corpus by definition.
			md[store.KeySource] = store.String(store.SourcePreloaded)
			md[store.KeyIsOriginal] = store.Bool(true)
			entries = append(entries, store.SnapshotEntry{Text: c.Text, Metadata: md})
		}
	}

	uploadEntries := kb.reingestUploads(ctx)
	all := append(entries, uploadEntries...)

	kb.mu.Lock()
	defer kb.mu.Unlock()

	var seedErr error
	if err := kb.index.Restore(all); err != nil {
		// A bad preloaded corpus must not take the service down; keep the
		// uploads if they restore cleanly, otherwise start empty.
		seedErr = err
		if err := kb.index.Restore(uploadEntries); err != nil {
			_ = kb.index.Restore(nil)
		}
	}

	kb.rebuildDocsLocked()
	kb.state = StateReady
	kb.seededAt = time.Now()
	kb.seedErr = seedErr

	if seedErr != nil {
		kb.logger.Warn("snapshot restore failed, running in upload-only mode",
			"error", seedErr,
			"chunks", kb.index.Len())
	} else {
		kb.logger.Info("knowledge base seeded",
			"documents", len(kb.docOrder),
			"chunks", kb.index.Len(),
			"persisted_uploads", len(uploadEntries))
	}
	return nil
}

// reingestUploads parses persisted uploads into vectorless entries. Files
// that fail to parse are skipped with a warning; seeding must not fail
// because one old upload went bad.
func (kb *KnowledgeBase) reingestUploads(ctx context.Context) []store.SnapshotEntry {
	if kb.uploads == nil {
		return nil
	}

	stored, err := kb.uploads.List()
	if err != nil {
		kb.logger.Warn("failed to list persisted uploads", "error", err)
		return nil
	}

	var entries []store.SnapshotEntry
	for _, up := range stored {
		fragments, err := docparse.Parse(ctx, up.Path, up.Filename, "")
		if err != nil {
			kb.logger.Warn("skipping persisted upload",
				"filename", up.Filename, "error", err)
			continue
		}
		chunks := kb.splitter.SplitFragments(fragments)
		for _, c := range chunks {
			md := c.Metadata.Clone()
			md[store.KeySource] = store.String(store.SourceUserUploaded)
			md[store.KeyIsOriginal] = store.Bool(false)
			md[store.KeyUploadTime] = store.Time(up.UploadedAt)
			entries = append(entries, store.SnapshotEntry{Text: c.Text, Metadata: md})
		}
	}
	return entries
}

// Bind materializes index vectors with an embedder for the given API key.
// It is idempotent for an unchanged key and rebuilds every vector when the
// key fingerprint changes. Queries keep running against the old vectors
// until the rebuilt index is swapped in.
func (kb *KnowledgeBase) Bind(ctx context.Context, apiKey string) error {
	if apiKey == "" {
		return rcerrors.New(rcerrors.ErrCodeMissingAPIKey, "an API key is required", nil)
	}
	fp := keyFingerprint(apiKey)

	kb.mu.RLock()
	switch {
	case kb.state == StateUninitialized || kb.state == StateSeeding || kb.state == StateTerminated:
		state := kb.state
		kb.mu.RUnlock()
		return notReady(state)
	case kb.embedder != nil && kb.fingerprint == fp:
		kb.mu.RUnlock()
		return nil
	}
	kb.mu.RUnlock()

	kb.updateMu.Lock()
	defer kb.updateMu.Unlock()

	// Another binder may have won while we waited.
	kb.mu.Lock()
	if kb.state == StateTerminated {
		kb.mu.Unlock()
		return notReady(StateTerminated)
	}
	if kb.embedder != nil && kb.fingerprint == fp {
		kb.mu.Unlock()
		return nil
	}
	rebind := kb.embedder != nil
	entries := kb.index.Snapshot()
	kb.state = StateUpdating
	kb.mu.Unlock()

	embedder := kb.factory(apiKey)
	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Text
	}

	start := time.Now()
	vectors, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		kb.setStateReady()
		return err
	}

	kb.mu.Lock()
	if err := kb.index.Restore(entries); err != nil {
		kb.state = StateReady
		kb.mu.Unlock()
		return rcerrors.InternalError("failed to rebuild index", err)
	}
	for i, e := range entries {
		if err := kb.index.Insert(e.Text, vectors[i], e.Metadata); err != nil {
			kb.state = StateReady
			kb.mu.Unlock()
			return rcerrors.InternalError("failed to materialize vectors", err)
		}
	}
	// The previous embedder is dropped without Close: in-flight queries may
	// still hold a reference to it.
	kb.embedder = embedder
	kb.fingerprint = fp
	kb.state = StateReady
	kb.mu.Unlock()

	kb.logger.Info("knowledge base bound",
		"rebind", rebind,
		"fingerprint", fp,
		"chunks", len(entries),
		"model", embedder.ModelName(),
		"duration", time.Since(start).Round(time.Millisecond).String())
	return nil
}

// Bound reports whether an embedder is currently bound.
func (kb *KnowledgeBase) Bound() bool {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.embedder != nil
}

// Search embeds the query with the bound embedder and returns the top-k
// chunks by cosine similarity.
func (kb *KnowledgeBase) Search(ctx context.Context, query string, k int) ([]store.SearchResult, error) {
	kb.mu.RLock()
	if kb.state != StateReady && kb.state != StateUpdating {
		state := kb.state
		kb.mu.RUnlock()
		return nil, notReady(state)
	}
	embedder := kb.embedder
	kb.mu.RUnlock()

	if embedder == nil {
		return nil, rcerrors.New(rcerrors.ErrCodeMissingAPIKey,
			"knowledge base has no bound API key", nil)
	}

	vector, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	kb.mu.RLock()
	defer kb.mu.RUnlock()
	results, err := kb.index.Search(vector, k)
	if err != nil {
		return nil, rcerrors.Wrap(rcerrors.ErrCodeDimensionMismatch, err)
	}
	return results, nil
}

// AddDocument parses, chunks, embeds, and indexes one uploaded file.
// Re-uploading a user document replaces its chunks atomically; preloaded
// documents are immutable.
func (kb *KnowledgeBase) AddDocument(ctx context.Context, path, filename, mimeType string) (*AddResult, error) {
	kb.updateMu.Lock()
	defer kb.updateMu.Unlock()

	kb.mu.Lock()
	if kb.state != StateReady {
		state := kb.state
		kb.mu.Unlock()
		return nil, notReady(state)
	}
	if info, ok := kb.docs[filename]; ok && info.source == store.SourcePreloaded {
		kb.mu.Unlock()
		return nil, rcerrors.ProtectedDocument(filename)
	}
	embedder := kb.embedder
	if embedder == nil {
		kb.mu.Unlock()
		return nil, rcerrors.New(rcerrors.ErrCodeMissingAPIKey,
			"knowledge base has no bound API key", nil)
	}
	kb.state = StateUpdating
	kb.mu.Unlock()

	result, err := kb.ingest(ctx, embedder, path, filename, mimeType)
	kb.setStateReady()
	if err != nil {
		return nil, err
	}

	kb.persistUpload(path, filename)

	kb.logger.Info("document added",
		"filename", filename,
		"doc_type", result.DocType,
		"regulatory_type", result.RegulatoryType,
		"chunks", result.ChunksCreated,
		"replaced", result.Replaced)
	return result, nil
}

// ingest runs the parse/chunk/embed pipeline without holding the state
// lock, then swaps the document in under one writer critical section.
func (kb *KnowledgeBase) ingest(ctx context.Context, embedder embed.Embedder, path, filename, mimeType string) (*AddResult, error) {
	fragments, err := docparse.Parse(ctx, path, filename, mimeType)
	if err != nil {
		return nil, err
	}

	chunks := kb.splitter.SplitFragments(fragments)
	if len(chunks) == 0 {
		return nil, rcerrors.New(rcerrors.ErrCodeEmptyDocument,
			fmt.Sprintf("%s produced no indexable text", filename), nil).
			WithDetail("filename", filename)
	}

	now := time.Now()
	texts := make([]string, len(chunks))
	metas := make([]store.Metadata, len(chunks))
	for i, c := range chunks {
		md := c.Metadata.Clone()
		md[store.KeySource] = store.String(store.SourceUserUploaded)
		md[store.KeyIsOriginal] = store.Bool(false)
		md[store.KeyUploadTime] = store.Time(now)
		texts[i] = c.Text
		metas[i] = md
	}

	vectors, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	replaced := kb.index.DeleteByFilename(filename) > 0
	inserted := 0
	for i := range texts {
		if err := kb.index.Insert(texts[i], vectors[i], metas[i]); err != nil {
			kb.logger.Warn("skipping chunk", "filename", filename, "error", err)
			continue
		}
		inserted++
	}
	if inserted == 0 {
		kb.dropDocLocked(filename)
		return nil, rcerrors.New(rcerrors.ErrCodeEmptyDocument,
			fmt.Sprintf("%s produced no indexable text", filename), nil).
			WithDetail("filename", filename)
	}

	info := &docInfo{
		chunkCount: inserted,
		docType:    metas[0].GetString(store.KeyDocType),
		source:     store.SourceUserUploaded,
		regType:    metas[0].GetString(store.KeyRegulatoryType),
	}
	if _, known := kb.docs[filename]; !known {
		kb.docOrder = append(kb.docOrder, filename)
	}
	kb.docs[filename] = info

	return &AddResult{
		Filename:       filename,
		DocType:        info.docType,
		RegulatoryType: info.regType,
		ChunksCreated:  inserted,
		Replaced:       replaced,
	}, nil
}

// persistUpload copies the accepted file into the upload store. Persistence
// is best effort: the document is already indexed.
func (kb *KnowledgeBase) persistUpload(path, filename string) {
	if kb.uploads == nil {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		kb.logger.Warn("failed to persist upload", "filename", filename, "error", err)
		return
	}
	defer f.Close()
	if _, err := kb.uploads.Save(filename, f); err != nil {
		kb.logger.Warn("failed to persist upload", "filename", filename, "error", err)
	}
}

// RemoveDocument deletes a user-uploaded document and its chunks. Preloaded
// documents are protected; unknown filenames are an error.
func (kb *KnowledgeBase) RemoveDocument(filename string) (int, error) {
	kb.updateMu.Lock()
	defer kb.updateMu.Unlock()

	kb.mu.Lock()
	if kb.state != StateReady {
		state := kb.state
		kb.mu.Unlock()
		return 0, notReady(state)
	}
	info, ok := kb.docs[filename]
	if !ok {
		kb.mu.Unlock()
		return 0, rcerrors.New(rcerrors.ErrCodeDocumentNotFound,
			fmt.Sprintf("document %s not found", filename), nil).
			WithDetail("filename", filename)
	}
	if info.source == store.SourcePreloaded {
		kb.mu.Unlock()
		return 0, rcerrors.ProtectedDocument(filename)
	}

	removed := kb.index.DeleteByFilename(filename)
	kb.dropDocLocked(filename)
	kb.mu.Unlock()

	if kb.uploads != nil {
		kb.uploads.Remove(filename)
	}

	kb.logger.Info("document removed", "filename", filename, "chunks", removed)
	return removed, nil
}

// Info returns the status payload for the knowledge base endpoints.
func (kb *KnowledgeBase) Info() Info {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	switch kb.state {
	case StateUninitialized, StateSeeding:
		return Info{
			Status:                "not_initialized",
			Documents:             []string{},
			UserUploadedDocuments: []string{},
			Description:           "Global knowledge base not yet initialized",
		}
	case StateTerminated:
		msg := "knowledge base terminated"
		return Info{
			Status:                "error",
			Initialized:           true,
			Error:                 &msg,
			Documents:             []string{},
			UserUploadedDocuments: []string{},
			Description:           "Global knowledge base initialization failed: " + msg,
		}
	}

	originals := make([]string, 0, len(kb.docOrder))
	uploads := make([]string, 0)
	for _, name := range kb.docOrder {
		if kb.docs[name].source == store.SourcePreloaded {
			originals = append(originals, name)
		} else {
			uploads = append(uploads, name)
		}
	}
	chunkCount := kb.index.Len()

	var description string
	switch {
	case len(originals) == 0 && len(uploads) == 0:
		description = "Global knowledge base ready for document uploads (no pre-loaded documents available)"
	case len(originals) == 0:
		description = fmt.Sprintf("Global knowledge base ready with %d user uploads (%d chunks total)",
			len(uploads), chunkCount)
	default:
		description = fmt.Sprintf("Global knowledge base ready with %d regulatory documents and %d user uploads (%d chunks total)",
			len(originals), len(uploads), chunkCount)
	}

	return Info{
		Status:                    "ready",
		Initialized:               true,
		Documents:                 originals,
		UserUploadedDocuments:     uploads,
		DocumentCount:             len(originals) + len(uploads),
		OriginalDocumentCount:     len(originals),
		UserUploadedDocumentCount: len(uploads),
		ChunkCount:                chunkCount,
		Description:               description,
	}
}

// State returns the current lifecycle state.
func (kb *KnowledgeBase) State() State {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.state
}

// Snapshot exports the current index contents, vectorless.
func (kb *KnowledgeBase) Snapshot() []store.SnapshotEntry {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.index.Snapshot()
}

// Close terminates the knowledge base. Subsequent operations fail with a
// not-ready error.
func (kb *KnowledgeBase) Close() error {
	kb.updateMu.Lock()
	defer kb.updateMu.Unlock()

	kb.mu.Lock()
	if kb.state == StateTerminated {
		kb.mu.Unlock()
		return nil
	}
	kb.state = StateTerminated
	embedder := kb.embedder
	kb.embedder = nil
	kb.mu.Unlock()

	if embedder != nil {
		if err := embedder.Close(); err != nil {
			kb.logger.Warn("failed to close embedder", "error", err)
		}
	}
	if kb.uploads != nil {
		if err := kb.uploads.Close(); err != nil {
			kb.logger.Warn("failed to close upload store", "error", err)
		}
	}
	return nil
}

// rebuildDocsLocked derives per-document bookkeeping from index contents.
// Caller must hold the write lock.
func (kb *KnowledgeBase) rebuildDocsLocked() {
	kb.docs = make(map[string]*docInfo)
	kb.docOrder = kb.docOrder[:0]

	for _, e := range kb.index.Snapshot() {
		name := e.Metadata.GetString(store.KeyFilename)
		if info, ok := kb.docs[name]; ok {
			info.chunkCount++
			continue
		}
		kb.docs[name] = &docInfo{
			chunkCount: 1,
			docType:    e.Metadata.GetString(store.KeyDocType),
			source:     e.Metadata.GetString(store.KeySource),
			regType:    e.Metadata.GetString(store.KeyRegulatoryType),
		}
		kb.docOrder = append(kb.docOrder, name)
	}
}

// dropDocLocked removes per-document bookkeeping. Caller must hold the
// write lock.
func (kb *KnowledgeBase) dropDocLocked(filename string) {
	delete(kb.docs, filename)
	for i, name := range kb.docOrder {
		if name == filename {
			kb.docOrder = append(kb.docOrder[:i], kb.docOrder[i+1:]...)
			break
		}
	}
}

// setStateReady flips StateUpdating back to StateReady.
func (kb *KnowledgeBase) setStateReady() {
	kb.mu.Lock()
	if kb.state == StateUpdating {
		kb.state = StateReady
	}
	kb.mu.Unlock()
}

func notReady(state State) error {
	return rcerrors.New(rcerrors.ErrCodeKBNotReady,
		fmt.Sprintf("knowledge base is %s", state), nil).
		WithDetail("state", state.String()).
		WithSuggestion("Retry once the knowledge base reports ready")
}

// keyFingerprint derives a short stable identifier from an API key so key
// rotation can be detected without retaining the key.
func keyFingerprint(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])[:12]
}
