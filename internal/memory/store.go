// Package memory implements the vector-memory backend: a collection-scoped
// store of free-text entries with ranked retrieval.
//
// Entries live in SQLite with an FTS5 index; BM25 ranking stands in for
// embedding similarity. The Connector in connector.go exposes the store as
// the memory_store and memory_find tools.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// ─── Types ───────────────────────────────────────────────────────────────────

// Entry is one stored piece of information.
type Entry struct {
	ID         string         `json:"id"`
	Collection string         `json:"collection"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

// SearchResult embeds an Entry with its FTS5 rank (lower is better).
type SearchResult struct {
	Entry
	Rank float64 `json:"rank"`
}

// CollectionStat counts entries per collection.
type CollectionStat struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
}

// ErrEmptyContent is returned when storing blank content.
var ErrEmptyContent = errors.New("memory: content is empty")

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds memory store configuration.
type Config struct {
	DataDir          string
	MaxContentLength int
	MaxSearchResults int
}

// DefaultConfig returns the default configuration for the memory store.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:          filepath.Join(home, ".relay"),
		MaxContentLength: 20000,
		MaxSearchResults: 50,
	}
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is the memory engine backed by SQLite + FTS5.
type Store struct {
	db  *sql.DB
	cfg Config
}

// New creates a new Store with the given configuration.
// It creates the data directory if needed, opens SQLite with WAL mode,
// and runs migrations.
func New(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("memory: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "memory.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}

	// SQLite performance pragmas
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("memory: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, cfg: cfg}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memory: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS entries (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT    NOT NULL UNIQUE,
			collection TEXT    NOT NULL,
			content    TEXT    NOT NULL,
			metadata   TEXT,
			created_at TEXT    NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_entries_collection ON entries(collection);
		CREATE INDEX IF NOT EXISTS idx_entries_created    ON entries(created_at DESC);

		CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(
			content,
			metadata,
			content='entries',
			content_rowid='seq'
		);

		CREATE TRIGGER IF NOT EXISTS entries_fts_insert AFTER INSERT ON entries BEGIN
			INSERT INTO entries_fts(rowid, content, metadata)
			VALUES (new.seq, new.content, new.metadata);
		END;

		CREATE TRIGGER IF NOT EXISTS entries_fts_delete AFTER DELETE ON entries BEGIN
			INSERT INTO entries_fts(entries_fts, rowid, content, metadata)
			VALUES ('delete', old.seq, old.content, old.metadata);
		END;

		CREATE TRIGGER IF NOT EXISTS entries_fts_update AFTER UPDATE ON entries BEGIN
			INSERT INTO entries_fts(entries_fts, rowid, content, metadata)
			VALUES ('delete', old.seq, old.content, old.metadata);
			INSERT INTO entries_fts(rowid, content, metadata)
			VALUES (new.seq, new.content, new.metadata);
		END;
	`
	_, err := s.db.Exec(schema)
	return err
}

// ─── Entries ─────────────────────────────────────────────────────────────────

// Put stores content in a collection and returns the new entry.
func (s *Store) Put(ctx context.Context, collection, content string, metadata map[string]any) (*Entry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if s.cfg.MaxContentLength > 0 && len(content) > s.cfg.MaxContentLength {
		content = content[:s.cfg.MaxContentLength]
	}

	var meta sql.NullString
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("encoding metadata: %w", err)
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}

	e := &Entry{
		ID:         uuid.NewString(),
		Collection: collection,
		Content:    content,
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC().Format("2006-01-02 15:04:05"),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (id, collection, content, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Collection, e.Content, meta, e.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert entry: %w", err)
	}
	return e, nil
}

// Get returns one entry by id, or sql.ErrNoRows.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, collection, content, metadata, created_at FROM entries WHERE id = ?`, id)
	var e Entry
	var meta sql.NullString
	if err := row.Scan(&e.ID, &e.Collection, &e.Content, &meta, &e.CreatedAt); err != nil {
		return nil, err
	}
	decodeMetadata(&e, meta)
	return &e, nil
}

// Find searches a collection. An empty query returns the most recent
// entries instead.
func (s *Store) Find(ctx context.Context, collection, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if s.cfg.MaxSearchResults > 0 && limit > s.cfg.MaxSearchResults {
		limit = s.cfg.MaxSearchResults
	}

	ftsQuery := sanitizeFTS(query)
	if ftsQuery == "" {
		return s.findRecent(ctx, collection, limit)
	}

	sqlStr := `
		SELECT e.id, e.collection, e.content, e.metadata, e.created_at, bm25(entries_fts) AS rank
		FROM entries_fts
		JOIN entries e ON e.seq = entries_fts.rowid
		WHERE entries_fts MATCH ?
	`
	args := []any{ftsQuery}
	if collection != "" {
		sqlStr += " AND e.collection = ?"
		args = append(args, collection)
	}
	sqlStr += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("search entries: %w", err)
	}
	return scanResults(rows)
}

func (s *Store) findRecent(ctx context.Context, collection string, limit int) ([]SearchResult, error) {
	sqlStr := `SELECT id, collection, content, metadata, created_at, 0 AS rank FROM entries`
	var args []any
	if collection != "" {
		sqlStr += " WHERE collection = ?"
		args = append(args, collection)
	}
	sqlStr += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("search recent: %w", err)
	}
	return scanResults(rows)
}

// Collections returns entry counts per collection.
func (s *Store) Collections(ctx context.Context) ([]CollectionStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT collection, COUNT(*) FROM entries GROUP BY collection ORDER BY collection`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []CollectionStat
	for rows.Next() {
		var c CollectionStat
		if err := rows.Scan(&c.Name, &c.Entries); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func scanResults(rows *sql.Rows) ([]SearchResult, error) {
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var sr SearchResult
		var meta sql.NullString
		if err := rows.Scan(&sr.ID, &sr.Collection, &sr.Content, &meta, &sr.CreatedAt, &sr.Rank); err != nil {
			return nil, err
		}
		decodeMetadata(&sr.Entry, meta)
		results = append(results, sr)
	}
	return results, rows.Err()
}

func decodeMetadata(e *Entry, meta sql.NullString) {
	if !meta.Valid || meta.String == "" {
		return
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(meta.String), &m); err == nil {
		e.Metadata = m
	}
}

// sanitizeFTS wraps each word in quotes so user input cannot inject
// FTS5 syntax. Words are OR-ed: any overlap ranks, BM25 orders.
func sanitizeFTS(query string) string {
	var words []string
	for _, w := range strings.Fields(query) {
		w = strings.ReplaceAll(w, `"`, "")
		if w == "" {
			continue
		}
		words = append(words, `"`+w+`"`)
	}
	return strings.Join(words, " OR ")
}
