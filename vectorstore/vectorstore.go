// Package vectorstore owns the SQLite-backed chunk and document tables and
// the sqlite-vec ANN index over chunk embeddings. It shares its SQLite file
// with textindex, which layers an FTS5 virtual table on top of the same
// chunks table rather than owning a second copy of the data.
package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Document is a row in the documents table.
type Document struct {
	DocID     string
	Title     string
	Source    string
	Format    string
	Language  string
	Metadata  map[string]string
	Citation  string // JSON-encoded ragengine.Citation
	CreatedAt time.Time
}

// Chunk is a row in the chunks table, keyed externally by ChunkID (a UUID)
// but internally by an auto-incrementing rowid that sqlite-vec and FTS5
// both reference.
type Chunk struct {
	Rowid              int64
	ChunkID            string
	DocID              string
	ChunkIndex         uint32
	Text               string
	ContextualizedText string
	Heading            string
	SpaceID            string
	Title              string
	Source             string
	Metadata           map[string]string
	CreatedAt          time.Time
}

// ScoredChunk pairs a Chunk with a similarity score from VectorSearch.
type ScoredChunk struct {
	Chunk
	Score float64 // 1 - cosine distance; higher is more similar
}

// Store is the vector/document half of the persistence layer.
type Store struct {
	db  *sql.DB
	dim int
}

// Open creates or opens the SQLite database at path and ensures the
// documents/chunks/vec_chunks schema exists for the given embedding
// dimension. dim must stay fixed for the lifetime of the database file;
// changing it requires a fresh vec_chunks table.
func Open(path string, dim int) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, dim: dim}
	if err := s.CreateIndexIfNeeded(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// CreateIndexIfNeeded applies the base schema idempotently. Safe to call on
// every startup.
func (s *Store) CreateIndexIfNeeded(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL(s.dim))
	return err
}

// DB returns the underlying connection, for textindex to share.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

func schemaSQL(dim int) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS documents (
	doc_id     TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	source     TEXT NOT NULL UNIQUE,
	format     TEXT NOT NULL DEFAULT '',
	language   TEXT,
	metadata   TEXT NOT NULL DEFAULT '{}',
	citation   TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chunks (
	rowid               INTEGER PRIMARY KEY AUTOINCREMENT,
	chunk_id            TEXT NOT NULL UNIQUE,
	doc_id              TEXT NOT NULL REFERENCES documents(doc_id) ON DELETE CASCADE,
	chunk_index         INTEGER NOT NULL,
	text                TEXT NOT NULL,
	contextualized_text TEXT NOT NULL,
	heading             TEXT,
	space_id            TEXT,
	title               TEXT,
	source              TEXT,
	metadata            TEXT NOT NULL DEFAULT '{}',
	created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id);
CREATE INDEX IF NOT EXISTS idx_chunks_doc_index ON chunks(doc_id, chunk_index);
CREATE INDEX IF NOT EXISTS idx_chunks_space_id ON chunks(space_id);
CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
	chunk_rowid INTEGER PRIMARY KEY,
	embedding   float[%d] distance_metric=cosine
);

CREATE TABLE IF NOT EXISTS query_log (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	query             TEXT NOT NULL,
	answer            TEXT,
	confidence        REAL,
	sources           TEXT,
	retrieval_method  TEXT,
	model_used        TEXT,
	rounds            INTEGER,
	prompt_tokens     INTEGER DEFAULT 0,
	completion_tokens INTEGER DEFAULT 0,
	total_tokens      INTEGER DEFAULT 0,
	created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`, dim)
}

// UpsertDocument inserts or replaces a document record, keyed on Source.
func (s *Store) UpsertDocument(ctx context.Context, doc Document) error {
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling document metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (doc_id, title, source, format, language, metadata, citation)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET
			title = excluded.title, format = excluded.format,
			language = excluded.language, metadata = excluded.metadata,
			citation = excluded.citation
	`, doc.DocID, doc.Title, doc.Source, doc.Format, doc.Language, string(meta), doc.Citation)
	return err
}

// GetDocumentInfo looks up a document by ID.
func (s *Store) GetDocumentInfo(ctx context.Context, docID string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT doc_id, title, source, format, COALESCE(language, ''), metadata, citation, created_at
		FROM documents WHERE doc_id = ?
	`, docID)
	var d Document
	var meta string
	if err := row.Scan(&d.DocID, &d.Title, &d.Source, &d.Format, &d.Language, &meta, &d.Citation, &d.CreatedAt); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(meta), &d.Metadata)
	return &d, nil
}

// ListDocuments returns every document row, most recently created first.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, title, source, format, COALESCE(language, ''), metadata, citation, created_at
		FROM documents ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var meta string
		if err := rows.Scan(&d.DocID, &d.Title, &d.Source, &d.Format, &d.Language, &meta, &d.Citation, &d.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(meta), &d.Metadata)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// CountChunks returns the total number of chunk rows, used for
// ragengine.Statistics.
func (s *Store) CountChunks(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&n)
	return n, err
}

// DeleteBySource removes a document's vec_chunks rows explicitly (vec0 has
// no foreign keys), then the document itself and, via ON DELETE CASCADE,
// its chunks and their FTS rows.
func (s *Store) DeleteBySource(ctx context.Context, source string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vec_chunks WHERE chunk_rowid IN (
		SELECT c.rowid FROM chunks c JOIN documents d ON d.doc_id = c.doc_id WHERE d.source = ?)`, source); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE source = ?", source)
	return err
}

// DeleteBySpaceID removes all chunks tagged with spaceID, regardless of
// which document they belong to. Used when a workspace is torn down but its
// source documents should persist under another space.
func (s *Store) DeleteBySpaceID(ctx context.Context, spaceID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE space_id = ?", spaceID)
	return err
}

// UpsertChunks inserts chunk rows and their embeddings in one transaction,
// returning the assigned rowids in input order.
func (s *Store) UpsertChunks(ctx context.Context, chunks []Chunk, vectors [][]float32) ([]int64, error) {
	if len(vectors) != 0 && len(vectors) != len(chunks) {
		return nil, fmt.Errorf("vectorstore: %d chunks but %d vectors", len(chunks), len(vectors))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	chunkStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (chunk_id, doc_id, chunk_index, text, contextualized_text,
			heading, space_id, title, source, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			chunk_index = excluded.chunk_index, text = excluded.text,
			contextualized_text = excluded.contextualized_text, heading = excluded.heading,
			metadata = excluded.metadata
	`)
	if err != nil {
		return nil, err
	}
	defer chunkStmt.Close()

	vecStmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO vec_chunks (chunk_rowid, embedding) VALUES (?, ?)")
	if err != nil {
		return nil, err
	}
	defer vecStmt.Close()

	rowids := make([]int64, len(chunks))
	for i, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshaling chunk metadata: %w", err)
		}
		if _, err := chunkStmt.ExecContext(ctx, c.ChunkID, c.DocID, c.ChunkIndex, c.Text,
			c.ContextualizedText, c.Heading, c.SpaceID, c.Title, c.Source, string(meta)); err != nil {
			return nil, fmt.Errorf("inserting chunk %s: %w", c.ChunkID, err)
		}
		// ON CONFLICT DO UPDATE doesn't report the existing rowid via
		// LastInsertId; look it up explicitly.
		var rowid int64
		if err := tx.QueryRowContext(ctx, "SELECT rowid FROM chunks WHERE chunk_id = ?", c.ChunkID).Scan(&rowid); err != nil {
			return nil, err
		}
		rowids[i] = rowid

		if i < len(vectors) {
			if _, err := vecStmt.ExecContext(ctx, rowid, serializeFloat32(vectors[i])); err != nil {
				return nil, fmt.Errorf("inserting embedding for chunk %s: %w", c.ChunkID, err)
			}
		}
	}

	return rowids, tx.Commit()
}

// VectorSearch returns the k nearest chunks to queryEmbedding by cosine
// distance, optionally restricted to a space.
func (s *Store) VectorSearch(ctx context.Context, queryEmbedding []float32, k int, spaceID string) ([]ScoredChunk, error) {
	query := `
		SELECT c.rowid, c.chunk_id, c.doc_id, c.chunk_index, c.text, c.contextualized_text,
			COALESCE(c.heading, ''), COALESCE(c.space_id, ''), COALESCE(c.title, ''),
			COALESCE(c.source, ''), c.metadata, c.created_at, v.distance
		FROM vec_chunks v
		JOIN chunks c ON c.rowid = v.chunk_rowid
		WHERE v.embedding MATCH ? AND k = ?`
	args := []any{serializeFloat32(queryEmbedding), k}
	if spaceID != "" {
		query += " AND c.space_id = ?"
		args = append(args, spaceID)
	}
	query += " ORDER BY v.distance"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScoredChunk
	for rows.Next() {
		var sc ScoredChunk
		var meta string
		var distance float64
		if err := rows.Scan(&sc.Rowid, &sc.ChunkID, &sc.DocID, &sc.ChunkIndex, &sc.Text,
			&sc.ContextualizedText, &sc.Heading, &sc.SpaceID, &sc.Title, &sc.Source,
			&meta, &sc.CreatedAt, &distance); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(meta), &sc.Metadata)
		sc.Score = 1.0 - distance
		out = append(out, sc)
	}
	return out, rows.Err()
}

// GetByIDs fetches chunks by their external chunk_id, preserving the order
// of ids (missing ids are simply absent from the result).
func (s *Store) GetByIDs(ctx context.Context, chunkIDs []string) ([]Chunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	placeholders := "?" + repeat(", ?", len(chunkIDs)-1)
	args := make([]any, len(chunkIDs))
	for i, id := range chunkIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT rowid, chunk_id, doc_id, chunk_index, text, contextualized_text,
			COALESCE(heading, ''), COALESCE(space_id, ''), COALESCE(title, ''),
			COALESCE(source, ''), metadata, created_at
		FROM chunks WHERE chunk_id IN (%s)
	`, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]Chunk, len(chunkIDs))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		byID[c.ChunkID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Chunk, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetNeighbors returns the chunks within window positions (inclusive) of
// chunkIndex in the same document, used to expand a hit with surrounding
// context before it's shown to the user.
func (s *Store) GetNeighbors(ctx context.Context, docID string, chunkIndex uint32, window int) ([]Chunk, error) {
	lo := int64(chunkIndex) - int64(window)
	hi := int64(chunkIndex) + int64(window)
	rows, err := s.db.QueryContext(ctx, `
		SELECT rowid, chunk_id, doc_id, chunk_index, text, contextualized_text,
			COALESCE(heading, ''), COALESCE(space_id, ''), COALESCE(title, ''),
			COALESCE(source, ''), metadata, created_at
		FROM chunks
		WHERE doc_id = ? AND chunk_index BETWEEN ? AND ?
		ORDER BY chunk_index
	`, docID, lo, hi)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListChunks returns up to limit chunks for a document, ordered by
// chunk_index; used for document preview and debugging.
func (s *Store) ListChunks(ctx context.Context, docID string, limit int) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rowid, chunk_id, doc_id, chunk_index, text, contextualized_text,
			COALESCE(heading, ''), COALESCE(space_id, ''), COALESCE(title, ''),
			COALESCE(source, ''), metadata, created_at
		FROM chunks WHERE doc_id = ? ORDER BY chunk_index LIMIT ?
	`, docID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LogQuery appends a row to the query audit log (spec.md §4.11).
func (s *Store) LogQuery(ctx context.Context, query, answer string, confidence float64, sources []string, method, model string, rounds, promptTokens, completionTokens, totalTokens int) error {
	srcJSON, err := json.Marshal(sources)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO query_log (query, answer, confidence, sources, retrieval_method, model_used,
			rounds, prompt_tokens, completion_tokens, total_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, query, answer, confidence, string(srcJSON), method, model, rounds, promptTokens, completionTokens, totalTokens)
	return err
}

func scanChunk(rows *sql.Rows) (Chunk, error) {
	var c Chunk
	var meta string
	if err := rows.Scan(&c.Rowid, &c.ChunkID, &c.DocID, &c.ChunkIndex, &c.Text, &c.ContextualizedText,
		&c.Heading, &c.SpaceID, &c.Title, &c.Source, &meta, &c.CreatedAt); err != nil {
		return Chunk{}, err
	}
	_ = json.Unmarshal([]byte(meta), &c.Metadata)
	return c, nil
}

func repeat(s string, n int) string {
	if n <= 0 {
		return ""
	}
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}

// serializeFloat32 converts a float32 slice to the little-endian byte
// layout sqlite-vec expects for a MATCH query or vec0 insert.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
