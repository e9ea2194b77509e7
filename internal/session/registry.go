package session

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	rcerrors "github.com/ovokpus/regcopilot/internal/errors"
)

// DefaultMaxSessions caps the registry size. When the cap is reached the
// oldest session is evicted to make room for a new one.
const DefaultMaxSessions = 4096

// Options configures a Registry.
type Options struct {
	// MaxSessions caps how many sessions are retained.
	// Zero or negative uses DefaultMaxSessions.
	MaxSessions int
}

// Registry is the in-memory session store shared by the HTTP handlers.
// All methods are safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*record
	maxSessions int
}

type record struct {
	id          string
	createdAt   time.Time
	documents   []string
	fingerprint string
}

// NewRegistry creates a registry with default options.
func NewRegistry() *Registry {
	return NewRegistryWithOptions(Options{})
}

// NewRegistryWithOptions creates a registry with the given options.
func NewRegistryWithOptions(opts Options) *Registry {
	maxSessions := opts.MaxSessions
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}

	return &Registry{
		sessions:    make(map[string]*record),
		maxSessions: maxSessions,
	}
}

// GetOrCreate resolves id to an existing session or mints a new one.
//
// An empty or unknown id creates a fresh session with a generated UUID.
// Resolving an existing session with a different API key rotates the stored
// fingerprint to the new key. The returned bool is true when a new session
// was created.
func (r *Registry) GetOrCreate(id, apiKey string) (Detail, bool) {
	fp := Fingerprint(apiKey)

	r.mu.Lock()
	defer r.mu.Unlock()

	if id != "" {
		if rec, ok := r.sessions[id]; ok {
			if fp != "" && rec.fingerprint != fp {
				rec.fingerprint = fp
			}
			return rec.detail(), false
		}
	}

	rec := &record{
		id:          uuid.NewString(),
		createdAt:   time.Now(),
		fingerprint: fp,
	}
	r.evictLocked()
	r.sessions[rec.id] = rec
	return rec.detail(), true
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (Detail, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.sessions[id]
	if !ok {
		return Detail{}, unknownSession(id)
	}
	return rec.detail(), nil
}

// Delete removes the session with the given id.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return unknownSession(id)
	}
	delete(r.sessions, id)
	return nil
}

// AppendDocument records a document upload against the session.
// A filename already recorded on the session is kept once.
func (r *Registry) AppendDocument(id, filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[id]
	if !ok {
		return unknownSession(id)
	}
	if !slices.Contains(rec.documents, filename) {
		rec.documents = append(rec.documents, filename)
	}
	return nil
}

// List returns all sessions ordered oldest first.
func (r *Registry) List() ListResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]Summary, 0, len(r.sessions))
	for _, rec := range r.sessions {
		summaries = append(summaries, Summary{
			ID:            rec.id,
			DocumentCount: len(rec.documents),
			CreatedAt:     rec.createdAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
	})

	return ListResult{TotalSessions: len(summaries), Sessions: summaries}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// evictLocked drops the oldest sessions until there is room for one more.
func (r *Registry) evictLocked() {
	for len(r.sessions) >= r.maxSessions {
		oldestID := ""
		var oldest time.Time
		for id, rec := range r.sessions {
			if oldestID == "" || rec.createdAt.Before(oldest) {
				oldestID = id
				oldest = rec.createdAt
			}
		}
		delete(r.sessions, oldestID)
	}
}

// detail snapshots the record. The documents slice is copied so callers
// never alias registry state.
func (rec *record) detail() Detail {
	docs := make([]string, len(rec.documents))
	copy(docs, rec.documents)

	return Detail{
		ID:             rec.id,
		DocumentCount:  len(docs),
		Documents:      docs,
		CreatedAt:      rec.createdAt,
		KeyFingerprint: rec.fingerprint,
	}
}

func unknownSession(id string) error {
	return rcerrors.New(rcerrors.ErrCodeSessionNotFound,
		fmt.Sprintf("session %s not found", id), nil).
		WithDetail("session_id", id)
}
