// Package textindex layers an FTS5 full-text index over the chunks table
// owned by vectorstore. It opens its own connection to the same SQLite
// file — vectorstore.Open must run first so the chunks table exists before
// the triggers below are created.
package textindex

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Result is a lexical match with its BM25 rank.
type Result struct {
	ChunkID string
	DocID   string
	Text    string
	Heading string
	Score   float64 // higher is more relevant
}

// Index is the FTS5 half of the persistence layer.
type Index struct {
	db *sql.DB
}

// Open connects to the SQLite file at path (already initialized by
// vectorstore.Open) and ensures the chunks_fts virtual table and its sync
// triggers exist.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	idx := &Index{db: db}
	if err := idx.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) ensureSchema(ctx context.Context) error {
	_, err := idx.db.ExecContext(ctx, `
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	text, contextualized_text, heading,
	content='chunks', content_rowid='rowid',
	tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
	INSERT INTO chunks_fts(rowid, text, contextualized_text, heading)
	VALUES (new.rowid, new.text, new.contextualized_text, new.heading);
END;

CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
	INSERT INTO chunks_fts(chunks_fts, rowid, text, contextualized_text, heading)
	VALUES ('delete', old.rowid, old.text, old.contextualized_text, old.heading);
END;

CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
	INSERT INTO chunks_fts(chunks_fts, rowid, text, contextualized_text, heading)
	VALUES ('delete', old.rowid, old.text, old.contextualized_text, old.heading);
	INSERT INTO chunks_fts(rowid, text, contextualized_text, heading)
	VALUES (new.rowid, new.text, new.contextualized_text, new.heading);
END;
	`)
	return err
}

// Close closes the underlying database connection.
func (idx *Index) Close() error { return idx.db.Close() }

// Commit is a no-op: chunks_fts is a content-table FTS5 index kept in sync
// by triggers on every chunks write, so there is nothing to flush
// separately. Present so callers that batch vectorstore writes and then
// "commit" the text index don't need a type switch.
func (idx *Index) Commit(ctx context.Context) error { return nil }

// Search runs an FTS5 MATCH query and returns up to limit results ordered
// by BM25 rank (best first), optionally restricted to a space.
func (idx *Index) Search(ctx context.Context, query string, limit int, spaceID string) ([]Result, error) {
	sqlQuery := `
		SELECT c.chunk_id, c.doc_id, c.text, COALESCE(c.heading, ''), f.rank
		FROM chunks_fts f
		JOIN chunks c ON c.rowid = f.rowid
		WHERE chunks_fts MATCH ?`
	args := []any{query}
	if spaceID != "" {
		sqlQuery += " AND c.space_id = ?"
		args = append(args, spaceID)
	}
	sqlQuery += " ORDER BY f.rank LIMIT ?"
	args = append(args, limit)

	rows, err := idx.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("fts5 search: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		var rank float64
		if err := rows.Scan(&r.ChunkID, &r.DocID, &r.Text, &r.Heading, &rank); err != nil {
			return nil, err
		}
		// FTS5 rank is negative and smaller-is-better; invert to a
		// positive higher-is-better score so callers can treat it like
		// any other retrieval score.
		r.Score = -rank
		out = append(out, r)
	}
	return out, rows.Err()
}
