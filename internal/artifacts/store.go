// Package artifacts persists oversized tool results so the model
// context only carries a compact reference to them.
package artifacts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// DefaultMaxInlineBytes is the size above which tool results are moved
// out of the model context and into the store.
const DefaultMaxInlineBytes = 32 << 10

// ErrNotFound is returned when an artifact ID does not exist.
var ErrNotFound = errors.New("artifact not found")

// Artifact is a stored tool result.
type Artifact struct {
	ID        string
	RequestID string
	ToolName  string
	Content   string
	Size      int
	CreatedAt time.Time
}

// Store persists oversized tool results in SQLite.
type Store struct {
	db        *sql.DB
	maxInline int
}

// Config contains configuration for the artifact store.
type Config struct {
	Path           string // Path to SQLite database file, ":memory:" for tests
	MaxInlineBytes int    // Threshold above which results are stored
}

// New opens the store, creating the schema if needed.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		cfg.Path = ":memory:"
	}
	if cfg.MaxInlineBytes <= 0 {
		cfg.MaxInlineBytes = DefaultMaxInlineBytes
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, maxInline: cfg.MaxInlineBytes}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			content TEXT NOT NULL,
			size INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create artifacts table: %w", err)
	}
	_, err = s.db.Exec("CREATE INDEX IF NOT EXISTS idx_artifacts_request ON artifacts(request_id)")
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// ShouldStore reports whether a tool result is too large to stay
// inline in the model context.
func (s *Store) ShouldStore(content string) bool {
	return len(content) > s.maxInline
}

// Put stores a tool result. It returns the new artifact's ID, for
// retrieval through the artifacts API, and the summary text that
// replaces the result in the model context.
func (s *Store) Put(ctx context.Context, requestID, toolName, content string) (id, summary string, err error) {
	id = uuid.New().String()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, request_id, tool_name, content, size)
		VALUES (?, ?, ?, ?, ?)
	`, id, requestID, toolName, content, len(content))
	if err != nil {
		return "", "", fmt.Errorf("failed to store artifact: %w", err)
	}
	return id, Summary(id, toolName, len(content)), nil
}

// Get retrieves a stored artifact by ID.
func (s *Store) Get(ctx context.Context, id string) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, tool_name, content, size, created_at
		FROM artifacts WHERE id = ?
	`, id)

	var a Artifact
	if err := row.Scan(&a.ID, &a.RequestID, &a.ToolName, &a.Content, &a.Size, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return &a, nil
}

// DeleteForRequest removes all artifacts produced while serving a
// request. It is called during pipeline rollback.
func (s *Store) DeleteForRequest(ctx context.Context, requestID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM artifacts WHERE request_id = ?", requestID)
	if err != nil {
		return fmt.Errorf("failed to delete artifacts: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Summary renders the reference text substituted for an oversized
// result. It stays stable so clients can parse the artifact ID out.
func Summary(id, toolName string, size int) string {
	return fmt.Sprintf("[Result from %s stored as artifact %s (%d bytes). Fetch it via the artifacts API to see the full output.]", toolName, id, size)
}
