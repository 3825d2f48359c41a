// Package docstore wraps pkg/vectorindex with a metadata table keyed by
// (index, id), so semantic search results join back to full documents
// instead of bare labels.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	_ "modernc.org/sqlite"

	"meridian/pkg/errs"
	"meridian/pkg/vectorindex"
)

// Document is a single stored item: its text, embedding, and metadata.
type Document struct {
	ID        uint64
	Content   string
	Embedding vectorindex.Vector
	Timestamp int64 // unix seconds
	Type      string
	Source    string
	Metadata  json.RawMessage
}

// SearchResult pairs a document with its distance to the query vector.
type SearchResult struct {
	Document Document
	Distance float32
}

// Store is a process-wide document store. It holds no state beyond the
// index/metadata it was configured with; callers own their *Store instance.
type Store struct {
	mu       sync.RWMutex
	vectors  *vectorindex.Store
	db       *sql.DB
	nextSeq  map[string]uint64
}

// Open creates a store backed by a SQLite metadata table at path. Use
// ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, "opening docstore database", err)
	}
	s := &Store{
		vectors: vectorindex.NewStore(),
		db:      db,
		nextSeq: map[string]uint64{},
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			idx_name  TEXT NOT NULL,
			id        INTEGER NOT NULL,
			content   TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			type      TEXT NOT NULL,
			source    TEXT NOT NULL,
			metadata  TEXT,
			PRIMARY KEY (idx_name, id)
		)
	`)
	if err != nil {
		return errs.Wrap(errs.InternalError, "creating documents table", err)
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS documents_by_time ON documents (idx_name, timestamp)`)
	if err != nil {
		return errs.Wrap(errs.InternalError, "creating documents_by_time index", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Vectors exposes the underlying vector index store directly, for callers
// (like the vector_db_* tool executors) that need raw C1 operations
// without the document metadata join.
func (s *Store) Vectors() *vectorindex.Store { return s.vectors }

// EnsureIndex creates the named index if it does not already exist.
func (s *Store) EnsureIndex(name string, dimension, maxElements int) error {
	return s.vectors.CreateIndex(name, vectorindex.IndexConfig{
		Dimension:   dimension,
		MaxElements: maxElements,
		Metric:      vectorindex.Cosine,
	})
}

// Add inserts content+embedding as a new document and returns its id: the
// next sequence number for index, which is the larger of the index's
// current size and one past the last id Add assigned there.
func (s *Store) Add(ctx context.Context, index, content string, embedding vectorindex.Vector, typ, source string, metadata json.RawMessage, timestamp int64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	size, err := s.vectors.Size(index)
	if err != nil {
		return 0, err
	}
	id := uint64(size)
	if seq, ok := s.nextSeq[index]; ok && seq > id {
		id = seq
	}

	if err := s.vectors.Add(index, embedding, id); err != nil {
		return 0, err
	}

	if metadata == nil {
		metadata = json.RawMessage("{}")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (idx_name, id, content, timestamp, type, source, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, index, id, content, timestamp, typ, source, string(metadata))
	if err != nil {
		s.vectors.Delete(index, id)
		return 0, errs.Wrap(errs.InternalError, "inserting document metadata", err)
	}

	s.nextSeq[index] = id + 1
	return id, nil
}

// Get returns the document stored at (index, id).
func (s *Store) Get(ctx context.Context, index string, id uint64) (Document, error) {
	vec, err := s.vectors.Get(index, id)
	if err != nil {
		return Document{}, err
	}
	doc, err := s.loadMetadata(ctx, index, id)
	if err != nil {
		return Document{}, err
	}
	doc.ID = id
	doc.Embedding = vec
	return doc, nil
}

// Update replaces the content, embedding, and metadata of an existing document.
func (s *Store) Update(ctx context.Context, index string, id uint64, content string, embedding vectorindex.Vector, typ, source string, metadata json.RawMessage, timestamp int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.vectors.Update(index, embedding, id); err != nil {
		return err
	}
	if metadata == nil {
		metadata = json.RawMessage("{}")
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents SET content = ?, timestamp = ?, type = ?, source = ?, metadata = ?
		WHERE idx_name = ? AND id = ?
	`, content, timestamp, typ, source, string(metadata), index, id)
	if err != nil {
		return errs.Wrap(errs.InternalError, "updating document metadata", err)
	}
	return nil
}

// Delete removes the document at (index, id) from both the vector index
// and the metadata table.
func (s *Store) Delete(ctx context.Context, index string, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.vectors.Delete(index, id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE idx_name = ? AND id = ?`, index, id)
	if err != nil {
		return errs.Wrap(errs.InternalError, "deleting document metadata", err)
	}
	return nil
}

// Search runs an ANN search and joins each hit back to its document. Hits
// with no metadata record (should not normally happen) are skipped rather
// than surfaced as errors.
func (s *Store) Search(ctx context.Context, index string, query vectorindex.Vector, k int) ([]SearchResult, error) {
	hits, err := s.vectors.Search(index, query, k)
	if err != nil {
		return nil, err
	}
	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		doc, err := s.loadMetadata(ctx, index, hit.Label)
		if err != nil {
			if errs.KindOf(err) == errs.NotFound {
				continue
			}
			return nil, err
		}
		doc.ID = hit.Label
		results = append(results, SearchResult{Document: doc, Distance: hit.Distance})
	}
	return results, nil
}

// SearchByTime returns documents in index whose timestamp lies in
// [start, end], chronological order, up to limit.
func (s *Store) SearchByTime(ctx context.Context, index string, start, end int64, limit int) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, timestamp, type, source, metadata FROM documents
		WHERE idx_name = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC, id ASC
		LIMIT ?
	`, index, start, end, limit)
	if err != nil {
		return nil, errs.Wrap(errs.InternalError, "querying documents by time", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var metadata string
		if err := rows.Scan(&d.ID, &d.Content, &d.Timestamp, &d.Type, &d.Source, &metadata); err != nil {
			return nil, errs.Wrap(errs.InternalError, "scanning document row", err)
		}
		d.Metadata = json.RawMessage(metadata)
		vec, err := s.vectors.Get(index, d.ID)
		if err == nil {
			d.Embedding = vec
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.InternalError, "iterating document rows", err)
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Timestamp < docs[j].Timestamp })
	return docs, nil
}

func (s *Store) loadMetadata(ctx context.Context, index string, id uint64) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT content, timestamp, type, source, metadata FROM documents
		WHERE idx_name = ? AND id = ?
	`, index, id)
	var d Document
	var metadata string
	if err := row.Scan(&d.Content, &d.Timestamp, &d.Type, &d.Source, &metadata); err != nil {
		if err == sql.ErrNoRows {
			return Document{}, errs.New(errs.NotFound, fmt.Sprintf("no metadata for %s/%d", index, id))
		}
		return Document{}, errs.Wrap(errs.InternalError, "loading document metadata", err)
	}
	d.Metadata = json.RawMessage(metadata)
	return d, nil
}
