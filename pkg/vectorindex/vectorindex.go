// Package vectorindex implements an HNSW-backed approximate nearest-neighbor
// index over fixed-dimension float32 vectors. It is the storage layer behind
// pkg/docstore.
package vectorindex

import (
	"fmt"
	"sync"

	"meridian/pkg/errs"
)

// Metric is the distance function an index was created with.
type Metric string

const (
	L2           Metric = "l2"
	Cosine       Metric = "cosine"
	InnerProduct Metric = "inner_product"
)

// Vector is a fixed-dimension float vector.
type Vector struct {
	Dimension int
	Data      []float32
}

// IndexConfig configures an index at creation time; immutable thereafter.
type IndexConfig struct {
	Dimension      int
	MaxElements    int
	M              int // graph degree, default 16
	EfConstruction int // default 200
	Seed           int64
	Metric         Metric
}

func (c IndexConfig) withDefaults() IndexConfig {
	if c.M <= 0 {
		c.M = 16
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = 200
	}
	if c.Metric == "" {
		c.Metric = Cosine
	}
	return c
}

// SearchResult is one hit from Search, ordered by ascending distance.
type SearchResult struct {
	Label    uint64
	Distance float32
}

// Store is a named collection of HNSW indices.
type Store struct {
	mu      sync.RWMutex
	indices map[string]*index
}

// NewStore creates an empty index collection.
func NewStore() *Store {
	return &Store{indices: map[string]*index{}}
}

// CreateIndex creates a named index. Re-creating an existing name with the
// same config is a no-op; a different config is an error.
func (s *Store) CreateIndex(name string, cfg IndexConfig) error {
	if name == "" {
		return errs.New(errs.InvalidArgument, "index name must not be empty")
	}
	if cfg.Dimension <= 0 {
		return errs.New(errs.InvalidArgument, "dimension must be positive")
	}
	cfg = cfg.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.indices[name]; ok {
		if existing.cfg.Dimension != cfg.Dimension || existing.cfg.Metric != cfg.Metric {
			return errs.New(errs.InvalidArgument, fmt.Sprintf("index %q already exists with a different config", name))
		}
		return nil
	}
	s.indices[name] = newIndex(cfg)
	return nil
}

// DropIndex removes an index and all its vectors.
func (s *Store) DropIndex(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indices, name)
}

// HasIndex reports whether name has been created.
func (s *Store) HasIndex(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.indices[name]
	return ok
}

// ListIndices returns all created index names.
func (s *Store) ListIndices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.indices))
	for name := range s.indices {
		names = append(names, name)
	}
	return names
}

// Size returns the number of live vectors in name.
func (s *Store) Size(name string) (int, error) {
	idx, err := s.get(name)
	if err != nil {
		return 0, err
	}
	return idx.size(), nil
}

// Add inserts vec under label. Fails if label already exists.
func (s *Store) Add(name string, vec Vector, label uint64) error {
	idx, err := s.get(name)
	if err != nil {
		return err
	}
	return idx.add(vec, label)
}

// Update replaces the vector stored at label. Fails if label is absent.
func (s *Store) Update(name string, vec Vector, label uint64) error {
	idx, err := s.get(name)
	if err != nil {
		return err
	}
	return idx.update(vec, label)
}

// Delete removes label from the index. A no-op if label is absent.
func (s *Store) Delete(name string, label uint64) error {
	idx, err := s.get(name)
	if err != nil {
		return err
	}
	idx.delete(label)
	return nil
}

// Get returns the vector stored at label.
func (s *Store) Get(name string, label uint64) (Vector, error) {
	idx, err := s.get(name)
	if err != nil {
		return Vector{}, err
	}
	v, ok := idx.get(label)
	if !ok {
		return Vector{}, errs.New(errs.NotFound, fmt.Sprintf("label %d not found in index %q", label, name))
	}
	return v, nil
}

// Search returns up to k nearest neighbors of query, ascending by distance.
func (s *Store) Search(name string, query Vector, k int) ([]SearchResult, error) {
	idx, err := s.get(name)
	if err != nil {
		return nil, err
	}
	return idx.search(query, k)
}

func (s *Store) get(name string) (*index, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indices[name]
	if !ok {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("index %q not found", name))
	}
	return idx, nil
}
