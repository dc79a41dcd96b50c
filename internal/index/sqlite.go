package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// DBFile is the SQLite index name in the result directory.
const DBFile = "index.db"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS pages (
	page_id       INTEGER PRIMARY KEY,
	start_seconds REAL NOT NULL,
	end_seconds   REAL NOT NULL,
	frame_count   INTEGER NOT NULL,
	dedup_kind    TEXT NOT NULL,
	duplicate_of  INTEGER,
	kinds         TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS regions (
	page_id      INTEGER NOT NULL REFERENCES pages(page_id) ON DELETE CASCADE,
	region_index INTEGER NOT NULL,
	kind         TEXT NOT NULL,
	x INTEGER NOT NULL, y INTEGER NOT NULL, width INTEGER NOT NULL, height INTEGER NOT NULL,
	dup_page     INTEGER,
	dup_region   INTEGER,
	text         TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (page_id, region_index)
);
CREATE INDEX IF NOT EXISTS regions_kind ON regions(kind);
`

// Hit is one search match.
type Hit struct {
	PageID       int     `json:"page_id" yaml:"page_id"`
	RegionIndex  int     `json:"region_index" yaml:"region_index"`
	StartSeconds float64 `json:"start_seconds" yaml:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds" yaml:"end_seconds"`
	Kind         string  `json:"kind" yaml:"kind"`
	Snippet      string  `json:"snippet" yaml:"snippet"`
}

// SQLiteIndex stores pages and region text for lookup by `vidoc search`.
type SQLiteIndex struct {
	db *sql.DB
}

// OpenSQLite opens or creates the index database at path.
func OpenSQLite(path string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index schema: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

// Close closes the database.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}

// SetMeta records a run attribute such as the source path or run id.
func (s *SQLiteIndex) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// Meta returns a run attribute.
func (s *SQLiteIndex) Meta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

// Insert stores a page entry and its regions, replacing any previous row.
func (s *SQLiteIndex) Insert(ctx context.Context, e PageEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	kinds := make([]string, len(e.Kinds))
	for i, k := range e.Kinds {
		kinds[i] = string(k)
	}
	var dupOf sql.NullInt64
	if e.Dedup.DuplicateOf > 0 {
		dupOf = sql.NullInt64{Int64: int64(e.Dedup.DuplicateOf), Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE page_id = ?`, e.PageID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pages(page_id, start_seconds, end_seconds, frame_count, dedup_kind, duplicate_of, kinds)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		e.PageID, e.StartSeconds, e.EndSeconds, e.FrameCount, string(e.Dedup.Kind), dupOf, strings.Join(kinds, ",")); err != nil {
		return fmt.Errorf("failed to insert page %d: %w", e.PageID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO regions(page_id, region_index, kind, x, y, width, height, dup_page, dup_region, text)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range e.Regions {
		var dupPage, dupRegion sql.NullInt64
		if r.DuplicateOf != nil {
			dupPage = sql.NullInt64{Int64: int64(r.DuplicateOf.PageID), Valid: true}
			dupRegion = sql.NullInt64{Int64: int64(r.DuplicateOf.RegionIndex), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, e.PageID, r.Index, string(r.Kind),
			r.Box.X, r.Box.Y, r.Box.Width, r.Box.Height, dupPage, dupRegion, r.Text); err != nil {
			return fmt.Errorf("failed to insert region %d/%d: %w", e.PageID, r.Index, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of indexed pages.
func (s *SQLiteIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pages`).Scan(&n)
	return n, err
}

// Search returns regions whose recognized text contains query, ignoring
// ASCII case, in page order.
func (s *SQLiteIndex) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty search query")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.page_id, r.region_index, p.start_seconds, p.end_seconds, r.kind, r.text
		 FROM regions r JOIN pages p ON p.page_id = r.page_id
		 WHERE r.text LIKE ? ESCAPE '\'
		 ORDER BY r.page_id, r.region_index
		 LIMIT ?`, "%"+escapeLike(query)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			h    Hit
			text string
		)
		if err := rows.Scan(&h.PageID, &h.RegionIndex, &h.StartSeconds, &h.EndSeconds, &h.Kind, &text); err != nil {
			return nil, err
		}
		h.Snippet = snippet(text, query, 40)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// snippet returns up to radius bytes of context on each side of the first
// case-insensitive match, on a single line.
func snippet(text, query string, radius int) string {
	flat := strings.Join(strings.Fields(text), " ")
	i := strings.Index(strings.ToLower(flat), strings.ToLower(query))
	if i < 0 {
		if len(flat) > 2*radius {
			return flat[:2*radius] + "..."
		}
		return flat
	}
	start, end := i-radius, i+len(query)+radius
	prefix, suffix := "...", "..."
	if start <= 0 {
		start, prefix = 0, ""
	}
	if end >= len(flat) {
		end, suffix = len(flat), ""
	}
	return prefix + flat[start:end] + suffix
}
