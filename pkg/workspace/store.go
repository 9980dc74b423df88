package workspace

import (
	"context"
	"errors"
)

// ErrConflict is returned by Store.CompareAndSwap when the stored version
// no longer matches the expected one: another writer updated the remote
// document first.
var ErrConflict = errors.New("workspace: remote update conflict")

// ErrNotFound is returned when a label has no stored document.
var ErrNotFound = errors.New("workspace: document not found")

// Stored pairs a document with the opaque version token its backing store
// uses for optimistic concurrency (a row version, an ETag, a revision id).
type Stored struct {
	Doc     Document
	Version string
}

// Store is the remote document store the Manager treats as the source of
// truth. Labels are
// caller-scoped opaque identifiers; the Manager is responsible for
// generating and tracking them.
type Store interface {
	// Put creates a new document under label, owned by callerID. Returns
	// the initial version token.
	Put(ctx context.Context, callerID, label string, doc Document) (version string, err error)

	// Get fetches the current document and version for a label, scoped to
	// callerID. Returns ErrNotFound if no such label exists for the caller.
	Get(ctx context.Context, callerID, label string) (Stored, error)

	// CompareAndSwap writes doc under label only if the store's current
	// version still equals expectedVersion; otherwise returns ErrConflict
	// without writing. Returns the new version on success.
	CompareAndSwap(ctx context.Context, callerID, label string, doc Document, expectedVersion string) (string, error)

	// ListLabels returns every label currently owned by callerID, for
	// find_by_task scans.
	ListLabels(ctx context.Context, callerID string) ([]string, error)

	// Detach dissociates label from callerID. The underlying content is
	// left intact at the store: detaching only drops the broker's
	// reference to the document, the content remains at the store.
	Detach(ctx context.Context, callerID, label string) error
}
