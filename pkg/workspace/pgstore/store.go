package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tarsybroker/broker/pkg/workspace"
)

// Store is a workspace.Store implementation backed by PostgreSQL, using
// the document's row version for optimistic concurrency. Construct with
// Open.
type Store struct {
	pool *pgxpool.Pool
}

var _ workspace.Store = (*Store)(nil)

func (s *Store) Put(ctx context.Context, callerID, label string, doc workspace.Document) (string, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("pgstore: marshal document: %w", err)
	}

	const q = `
		INSERT INTO workspace_documents (caller_id, label, version, doc)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (caller_id, label) DO UPDATE
			SET doc = EXCLUDED.doc, version = workspace_documents.version + 1,
			    detached = FALSE, updated_at = now()
		RETURNING version`

	var version int64
	if err := s.pool.QueryRow(ctx, q, callerID, label, body).Scan(&version); err != nil {
		return "", fmt.Errorf("pgstore: put: %w", err)
	}
	return versionToken(version), nil
}

func (s *Store) Get(ctx context.Context, callerID, label string) (workspace.Stored, error) {
	const q = `SELECT doc, version FROM workspace_documents WHERE caller_id = $1 AND label = $2`

	var body []byte
	var version int64
	err := s.pool.QueryRow(ctx, q, callerID, label).Scan(&body, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return workspace.Stored{}, workspace.ErrNotFound
	}
	if err != nil {
		return workspace.Stored{}, fmt.Errorf("pgstore: get: %w", err)
	}

	var doc workspace.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return workspace.Stored{}, fmt.Errorf("pgstore: unmarshal document: %w", err)
	}
	return workspace.Stored{Doc: doc, Version: versionToken(version)}, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, callerID, label string, doc workspace.Document, expectedVersion string) (string, error) {
	expected, err := tokenToVersion(expectedVersion)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("pgstore: marshal document: %w", err)
	}

	const q = `
		UPDATE workspace_documents
		SET doc = $1, version = version + 1, updated_at = now()
		WHERE caller_id = $2 AND label = $3 AND version = $4
		RETURNING version`

	var newVersion int64
	err = s.pool.QueryRow(ctx, q, body, callerID, label, expected).Scan(&newVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the row doesn't exist, or its version has moved on.
		if _, getErr := s.Get(ctx, callerID, label); errors.Is(getErr, workspace.ErrNotFound) {
			return "", workspace.ErrNotFound
		}
		return "", workspace.ErrConflict
	}
	if err != nil {
		return "", fmt.Errorf("pgstore: compare-and-swap: %w", err)
	}
	return versionToken(newVersion), nil
}

func (s *Store) ListLabels(ctx context.Context, callerID string) ([]string, error) {
	const q = `SELECT label FROM workspace_documents WHERE caller_id = $1 AND NOT detached`

	rows, err := s.pool.Query(ctx, q, callerID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list labels: %w", err)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("pgstore: scan label: %w", err)
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}

func (s *Store) Detach(ctx context.Context, callerID, label string) error {
	const q = `UPDATE workspace_documents SET detached = TRUE WHERE caller_id = $1 AND label = $2`

	tag, err := s.pool.Exec(ctx, q, callerID, label)
	if err != nil {
		return fmt.Errorf("pgstore: detach: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return workspace.ErrNotFound
	}
	return nil
}

func versionToken(v int64) string {
	return fmt.Sprintf("v%d", v)
}

func tokenToVersion(token string) (int64, error) {
	var v int64
	if _, err := fmt.Sscanf(token, "v%d", &v); err != nil {
		return 0, fmt.Errorf("pgstore: malformed version token %q: %w", token, err)
	}
	return v, nil
}
