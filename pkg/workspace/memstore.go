package workspace

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemStore is the default, in-process Store implementation: it stands in
// for the remote store in tests and in single-process deployments where no
// external workspace backend is configured. Grounded on pkg/session/manager.go's
// map-behind-mutex shape.
type MemStore struct {
	mu      sync.Mutex
	records map[string]memRecord // key: callerID + "\x00" + label
	owned   map[string][]string  // callerID -> labels
}

type memRecord struct {
	doc     Document
	version string
}

// NewMemStore constructs an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{
		records: make(map[string]memRecord),
		owned:   make(map[string][]string),
	}
}

func memKey(callerID, label string) string {
	return callerID + "\x00" + label
}

func (s *MemStore) Put(_ context.Context, callerID, label string, doc Document) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := uuid.New().String()
	key := memKey(callerID, label)
	if _, exists := s.records[key]; !exists {
		s.owned[callerID] = append(s.owned[callerID], label)
	}
	s.records[key] = memRecord{doc: doc.clone(), version: version}
	return version, nil
}

func (s *MemStore) Get(_ context.Context, callerID, label string) (Stored, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[memKey(callerID, label)]
	if !ok {
		return Stored{}, ErrNotFound
	}
	return Stored{Doc: rec.doc.clone(), Version: rec.version}, nil
}

func (s *MemStore) CompareAndSwap(_ context.Context, callerID, label string, doc Document, expectedVersion string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(callerID, label)
	rec, ok := s.records[key]
	if !ok {
		return "", ErrNotFound
	}
	if rec.version != expectedVersion {
		return "", ErrConflict
	}
	newVersion := uuid.New().String()
	s.records[key] = memRecord{doc: doc.clone(), version: newVersion}
	return newVersion, nil
}

func (s *MemStore) ListLabels(_ context.Context, callerID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	labels := s.owned[callerID]
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if _, ok := s.records[memKey(callerID, l)]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

// Detach removes label from the caller's discoverable set (ListLabels, and
// therefore find_by_task, will no longer surface it) but keeps the stored
// record intact: "the content remains at the remote store."
// A caller that already has the label can still Get/CompareAndSwap it.
func (s *MemStore) Detach(_ context.Context, callerID, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(callerID, label)
	if _, ok := s.records[key]; !ok {
		return ErrNotFound
	}

	labels := s.owned[callerID]
	for i, l := range labels {
		if l == label {
			s.owned[callerID] = append(labels[:i], labels[i+1:]...)
			break
		}
	}
	return nil
}

// Label deterministically encodes a task id into a store label under which
// the document is persisted at the remote store.
func Label(taskID string) string {
	return fmt.Sprintf("task-%s", taskID)
}
