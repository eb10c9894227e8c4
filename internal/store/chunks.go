package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Aman-CERP/ragcore/internal/chunk"
)

// ChunkTable is the system of record for indexed chunks. Chunk IDs are
// write-once: InsertIfAbsent never replaces an existing row.
type ChunkTable struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// NewChunkTable opens (or creates) the chunk table at path.
// An empty path keeps the table in memory.
func NewChunkTable(path string) (*ChunkTable, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path
	}

	db, err := openSQLite(dsn)
	if err != nil {
		return nil, err
	}

	t := &ChunkTable{db: db, path: path}
	if err := t.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return t, nil
}

func (t *ChunkTable) initSchema() error {
	_, err := t.db.Exec(`
	CREATE TABLE IF NOT EXISTS chunks (
		chunk_id       TEXT PRIMARY KEY,
		document_id    TEXT NOT NULL,
		sequence_index INTEGER NOT NULL,
		total_chunks   INTEGER NOT NULL,
		content        TEXT NOT NULL,
		metadata       TEXT NOT NULL DEFAULT '{}',
		embedding      BLOB NOT NULL,
		schema_version INTEGER NOT NULL,
		created_at     TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`)
	return err
}

// InsertIfAbsent inserts entries whose chunk ID is not yet present, in one
// transaction. The returned slice reports, per entry, whether it was written.
// A duplicate ID within entries is written once.
func (t *ChunkTable) InsertIfAbsent(ctx context.Context, entries []IndexEntry) ([]bool, error) {
	written := make([]bool, len(entries))
	if len(entries) == 0 {
		return written, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, fmt.Errorf("chunk table is closed")
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO chunks
			(chunk_id, document_id, sequence_index, total_chunks, content, metadata, embedding, schema_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for i, e := range entries {
		meta, err := json.Marshal(e.Chunk.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata for %s: %w", e.Chunk.ID, err)
		}

		version := e.SchemaVersion
		if version == 0 {
			version = SchemaVersion
		}

		res, err := stmt.ExecContext(ctx,
			e.Chunk.ID, e.Chunk.DocumentID, e.Chunk.SequenceIndex, e.Chunk.TotalChunks,
			e.Chunk.Content, string(meta), encodeEmbedding(e.Embedding), version, now)
		if err != nil {
			return nil, fmt.Errorf("failed to insert chunk %s: %w", e.Chunk.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to read rows affected: %w", err)
		}
		written[i] = n == 1
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return written, nil
}

// DeleteIDs removes rows by chunk ID.
func (t *ChunkTable) DeleteIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("chunk table is closed")
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, batch := range batchStrings(ids, sqliteMaxParams) {
		in, args := inClause(batch)
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE chunk_id IN ("+in+")", args...); err != nil {
			return fmt.Errorf("failed to delete chunks: %w", err)
		}
	}
	return tx.Commit()
}

// IDsByDocument returns the chunk IDs of one document in sequence order.
func (t *ChunkTable) IDsByDocument(ctx context.Context, documentID string) ([]string, error) {
	return t.queryIDs(ctx, `SELECT chunk_id FROM chunks WHERE document_id = ? ORDER BY sequence_index, chunk_id`, documentID)
}

// AllIDs returns every chunk ID in insertion order.
func (t *ChunkTable) AllIDs(ctx context.Context) ([]string, error) {
	return t.queryIDs(ctx, `SELECT chunk_id FROM chunks ORDER BY rowid`)
}

func (t *ChunkTable) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return nil, fmt.Errorf("chunk table is closed")
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunk IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan chunk ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Chunks returns the chunks for ids, keyed by chunk ID. Unknown IDs are absent
// from the map.
func (t *ChunkTable) Chunks(ctx context.Context, ids []string) (map[string]chunk.Chunk, error) {
	out := make(map[string]chunk.Chunk, len(ids))
	err := t.scan(ctx, ids, false, func(e IndexEntry) {
		out[e.Chunk.ID] = e.Chunk
	})
	return out, err
}

// Entries returns full entries, embeddings included, in the order of ids.
// Unknown IDs are skipped.
func (t *ChunkTable) Entries(ctx context.Context, ids []string) ([]IndexEntry, error) {
	byID := make(map[string]IndexEntry, len(ids))
	if err := t.scan(ctx, ids, true, func(e IndexEntry) {
		byID[e.Chunk.ID] = e
	}); err != nil {
		return nil, err
	}

	out := make([]IndexEntry, 0, len(byID))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *ChunkTable) scan(ctx context.Context, ids []string, withEmbedding bool, fn func(IndexEntry)) error {
	if len(ids) == 0 {
		return nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return fmt.Errorf("chunk table is closed")
	}

	cols := "chunk_id, document_id, sequence_index, total_chunks, content, metadata, schema_version"
	if withEmbedding {
		cols += ", embedding"
	}

	for _, batch := range batchStrings(ids, sqliteMaxParams) {
		in, args := inClause(batch)
		rows, err := t.db.QueryContext(ctx, "SELECT "+cols+" FROM chunks WHERE chunk_id IN ("+in+")", args...)
		if err != nil {
			return fmt.Errorf("failed to query chunks: %w", err)
		}

		for rows.Next() {
			var (
				e    IndexEntry
				meta string
				blob []byte
			)
			dest := []any{
				&e.Chunk.ID, &e.Chunk.DocumentID, &e.Chunk.SequenceIndex, &e.Chunk.TotalChunks,
				&e.Chunk.Content, &meta, &e.SchemaVersion,
			}
			if withEmbedding {
				dest = append(dest, &blob)
			}
			if err := rows.Scan(dest...); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan chunk: %w", err)
			}
			if err := json.Unmarshal([]byte(meta), &e.Chunk.Metadata); err != nil {
				rows.Close()
				return fmt.Errorf("failed to decode metadata for %s: %w", e.Chunk.ID, err)
			}
			if withEmbedding {
				e.Embedding = decodeEmbedding(blob)
			}
			fn(e)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("failed to read chunks: %w", err)
		}
	}
	return nil
}

// Count returns the number of chunks.
func (t *ChunkTable) Count(ctx context.Context) (int, error) {
	return t.queryInt(ctx, `SELECT COUNT(*) FROM chunks`)
}

// DocumentCount returns the number of distinct documents with at least one chunk.
func (t *ChunkTable) DocumentCount(ctx context.Context) (int, error) {
	return t.queryInt(ctx, `SELECT COUNT(DISTINCT document_id) FROM chunks`)
}

func (t *ChunkTable) queryInt(ctx context.Context, query string) (int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return 0, fmt.Errorf("chunk table is closed")
	}

	var n int
	if err := t.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return n, nil
}

// GetState returns the value stored under key, or "" when unset.
func (t *ChunkTable) GetState(ctx context.Context, key string) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return "", fmt.Errorf("chunk table is closed")
	}

	var value string
	err := t.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read state %s: %w", key, err)
	}
	return value, nil
}

// SetState stores value under key, replacing any previous value.
func (t *ChunkTable) SetState(ctx context.Context, key, value string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("chunk table is closed")
	}

	_, err := t.db.ExecContext(ctx,
		`INSERT INTO state(key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write state %s: %w", key, err)
	}
	return nil
}

// Truncate removes every chunk and all state, returning how many chunks there were.
func (t *ChunkTable) Truncate(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, fmt.Errorf("chunk table is closed")
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM chunks`)
	if err != nil {
		return 0, fmt.Errorf("failed to truncate chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM state`); err != nil {
		return 0, fmt.Errorf("failed to truncate state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), tx.Commit()
}

// Close checkpoints the WAL and closes the table. It is idempotent.
func (t *ChunkTable) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if t.path != "" {
		_, _ = t.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return t.db.Close()
}

// encodeEmbedding packs a vector as little-endian float32s.
func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v
}
