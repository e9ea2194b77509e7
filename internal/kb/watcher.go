package kb

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ovokpus/regcopilot/internal/docparse"
)

// Op is the coalesced file operation a watch event resolves to.
type Op int

const (
	// OpCreate indicates a new file appeared.
	OpCreate Op = iota
	// OpModify indicates an existing file changed.
	OpModify
	// OpDelete indicates a file is gone.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

type fileEvent struct {
	path string
	op   Op
}

type pendingOp struct {
	firstOp Op
	op      Op
}

// DefaultDebounceWindow coalesces editor write bursts into one ingestion.
const DefaultDebounceWindow = 200 * time.Millisecond

// Watcher auto-ingests supported documents dropped into a directory.
//
// Events for the same path within the debounce window are merged:
//   - CREATE + MODIFY = CREATE (file is still new)
//   - CREATE + DELETE = nothing (file never really existed)
//   - MODIFY + DELETE = DELETE (file is gone)
//   - DELETE + CREATE = MODIFY (file was replaced)
type Watcher struct {
	kb     *KnowledgeBase
	dir    string
	window time.Duration
	logger *slog.Logger

	fsw     *fsnotify.Watcher
	batches chan []fileEvent

	mu      sync.Mutex
	pending map[string]*pendingOp
	timer   *time.Timer
	stopped bool

	wg sync.WaitGroup
}

// NewWatcher creates a watcher over dir, creating the directory if needed.
// The zero window uses DefaultDebounceWindow.
func NewWatcher(knowledge *KnowledgeBase, dir string, window time.Duration, logger *slog.Logger) (*Watcher, error) {
	if knowledge == nil {
		return nil, fmt.Errorf("knowledge base is required")
	}
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create watch dir: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	return &Watcher{
		kb:      knowledge,
		dir:     dir,
		window:  window,
		logger:  logger,
		fsw:     fsw,
		batches: make(chan []fileEvent, 10),
		pending: make(map[string]*pendingOp),
	}, nil
}

// Start spawns the event and dispatch loops. It returns immediately; the
// watcher runs until Stop is called or ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(2)
	go w.eventLoop(ctx)
	go w.dispatchLoop(ctx)
	w.logger.Info("corpus watcher started", "dir", w.dir, "debounce", w.window.String())
}

// Stop shuts the watcher down and waits for in-flight dispatches.
// Safe to call multiple times.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	w.fsw.Close()
	close(w.batches)
	w.wg.Wait()
}

// eventLoop coalesces raw fsnotify events into debounced batches.
func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("corpus watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || !docparse.IsSupported(name) {
		return
	}

	var op Op
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	if existing, ok := w.pending[event.Name]; ok {
		if next, keep := coalesce(existing, op); keep {
			existing.op = next
		} else {
			delete(w.pending, event.Name)
		}
	} else {
		w.pending[event.Name] = &pendingOp{firstOp: op, op: op}
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.window, w.flush)
}

// coalesce merges a new operation into a pending one. The second return is
// false when the events cancel out.
func coalesce(existing *pendingOp, next Op) (Op, bool) {
	switch existing.firstOp {
	case OpCreate:
		switch next {
		case OpModify:
			return OpCreate, true
		case OpDelete:
			return 0, false
		}
	case OpDelete:
		if next == OpCreate {
			return OpModify, true
		}
	}
	return next, true
}

// flush emits the pending batch. The non-blocking send stays under the
// mutex so Stop cannot close the channel mid-flush.
func (w *Watcher) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped || len(w.pending) == 0 {
		return
	}
	events := make([]fileEvent, 0, len(w.pending))
	for path, pe := range w.pending {
		events = append(events, fileEvent{path: path, op: pe.op})
	}
	w.pending = make(map[string]*pendingOp)

	select {
	case w.batches <- events:
	default:
		w.logger.Warn("corpus watcher backlog full, dropping batch", "batch_size", len(events))
	}
}

// dispatchLoop applies debounced batches to the knowledge base. Ingestion
// embeds and can take a while, so it never runs on the event loop.
func (w *Watcher) dispatchLoop(ctx context.Context) {
	defer w.wg.Done()

	for batch := range w.batches {
		for _, ev := range batch {
			if ctx.Err() != nil {
				return
			}
			w.apply(ctx, ev)
		}
	}
}

func (w *Watcher) apply(ctx context.Context, ev fileEvent) {
	filename := filepath.Base(ev.path)

	switch ev.op {
	case OpCreate, OpModify:
		result, err := w.kb.AddDocument(ctx, ev.path, filename, "")
		if err != nil {
			// Common before the first authenticated request binds a key;
			// the file is picked up again on its next change.
			w.logger.Warn("watcher ingest failed",
				"filename", filename, "op", ev.op.String(), "error", err)
			return
		}
		w.logger.Info("watcher ingested document",
			"filename", filename, "chunks", result.ChunksCreated, "replaced", result.Replaced)
	case OpDelete:
		removed, err := w.kb.RemoveDocument(filename)
		if err != nil {
			w.logger.Debug("watcher remove skipped", "filename", filename, "error", err)
			return
		}
		w.logger.Info("watcher removed document", "filename", filename, "chunks", removed)
	}
}
