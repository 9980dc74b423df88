package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Retry backoff bounds for CompareAndSwap conflicts, grounded on
// pkg/mcp/client.go's jittered-retry constants.
const (
	RetryBackoffMin = 50 * time.Millisecond
	RetryBackoffMax = 200 * time.Millisecond
)

// Config controls prune/size thresholds and retry budget.
type Config struct {
	MaxEvents  int
	BlockLimit int
	MaxRetries int
}

// DefaultConfig returns the built-in workspace defaults.
func DefaultConfig() Config {
	return Config{
		MaxEvents:  50,
		BlockLimit: 50000,
		MaxRetries: 3,
	}
}

// Manager is the Workspace Document Manager. It owns no state
// of its own beyond configuration; the Store is the source of truth.
type Manager struct {
	store Store
	cfg   Config
}

// New constructs a Manager backed by the given Store.
func New(store Store, cfg Config) *Manager {
	return &Manager{store: store, cfg: cfg}
}

// Handle identifies a document: the label under which it's stored plus the
// caller that owns it.
type Handle struct {
	CallerID string
	ID       string // opaque workspace id, currently == label
}

// Create builds the initial document, persists it, and returns its handle.
// Failures propagate: "the task cannot proceed without a
// document."
func (m *Manager) Create(ctx context.Context, taskID, callerID string, metadata map[string]any) (Handle, Document, error) {
	label := Label(taskID)
	now := time.Now()
	doc := Document{
		SchemaVersion: DocVersion,
		TaskID:        taskID,
		CallerID:      callerID,
		Status:        "queued",
		CreatedAt:     now,
		UpdatedAt:     now,
		Description:   DocDescription,
		Events:        []Event{},
		Artifacts:     []Artifact{},
		Metadata:      metadata,
	}

	if _, err := m.store.Put(ctx, callerID, label, doc); err != nil {
		return Handle{}, Document{}, fmt.Errorf("workspace create: %w", err)
	}
	return Handle{CallerID: callerID, ID: label}, doc, nil
}

// Update applies patch to the current document via read-merge-prune-write,
// retrying on remote conflicts with jittered backoff up to cfg.MaxRetries
//. Update failures after retries are
// returned to the caller; the orchestrator is expected to log and continue.
func (m *Manager) Update(ctx context.Context, h Handle, patch Patch) (Document, error) {
	retries := m.cfg.MaxRetries
	if retries <= 0 {
		retries = 1
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		stored, err := m.store.Get(ctx, h.CallerID, h.ID)
		if err != nil {
			return Document{}, fmt.Errorf("workspace update: read current: %w", err)
		}

		merged := patch.apply(stored.Doc)
		merged.Events = prune(merged.Events, m.cfg.MaxEvents)
		merged.UpdatedAt = time.Now()

		if size := merged.size(); size > m.cfg.BlockLimit {
			slog.Warn("workspace document exceeds soft size bound",
				"workspace_id", h.ID, "size", size, "limit", m.cfg.BlockLimit)
		}

		_, err = m.store.CompareAndSwap(ctx, h.CallerID, h.ID, merged, stored.Version)
		if err == nil {
			return merged, nil
		}
		if err != ErrConflict {
			return Document{}, fmt.Errorf("workspace update: %w", err)
		}

		lastErr = err
		if attempt < retries {
			backoff := RetryBackoffMin + time.Duration(rand.Int64N(int64(RetryBackoffMax-RetryBackoffMin)))
			select {
			case <-ctx.Done():
				return Document{}, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return Document{}, fmt.Errorf("workspace update: exhausted %d retries: %w", retries, lastErr)
}

// AppendEvent is a thin wrapper over Update that appends a single event.
func (m *Manager) AppendEvent(ctx context.Context, h Handle, ev Event) (Document, error) {
	return m.Update(ctx, h, Patch{AppendEvents: []Event{ev}})
}

// RecordArtifact is a thin wrapper over Update that appends a single artifact.
func (m *Manager) RecordArtifact(ctx context.Context, h Handle, a Artifact) (Document, error) {
	return m.Update(ctx, h, Patch{Artifacts: []Artifact{a}})
}

// SetStatus is a thin wrapper over Update that transitions the document's
// reported status.
func (m *Manager) SetStatus(ctx context.Context, h Handle, status string) (Document, error) {
	return m.Update(ctx, h, Patch{Status: status})
}

// Get fetches and deserializes the current document.
func (m *Manager) Get(ctx context.Context, h Handle) (Document, error) {
	stored, err := m.store.Get(ctx, h.CallerID, h.ID)
	if err != nil {
		return Document{}, err
	}
	return stored.Doc, nil
}

// FindByTask scans the caller's documents for one embedding taskID, used by
// recovery paths that only know the task id.
func (m *Manager) FindByTask(ctx context.Context, callerID, taskID string) (Handle, Document, error) {
	labels, err := m.store.ListLabels(ctx, callerID)
	if err != nil {
		return Handle{}, Document{}, err
	}
	for _, label := range labels {
		stored, err := m.store.Get(ctx, callerID, label)
		if err != nil {
			continue
		}
		if stored.Doc.TaskID == taskID {
			return Handle{CallerID: callerID, ID: label}, stored.Doc, nil
		}
	}
	return Handle{}, Document{}, ErrNotFound
}

// Detach dissociates the document from the caller. Failures here are
// logged only: a missing detach never blocks finalization.
func (m *Manager) Detach(ctx context.Context, h Handle) {
	if err := m.store.Detach(ctx, h.CallerID, h.ID); err != nil {
		slog.Warn("workspace detach failed", "workspace_id", h.ID, "error", err)
	}
}
