package vectorindex

import (
	"math/rand"
	"testing"

	"meridian/pkg/errs"
)

func vec(data ...float32) Vector {
	return Vector{Dimension: len(data), Data: data}
}

func TestCreateIndex_DuplicateSameConfig(t *testing.T) {
	s := NewStore()
	cfg := IndexConfig{Dimension: 4, Metric: L2}
	if err := s.CreateIndex("docs", cfg); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateIndex("docs", cfg); err != nil {
		t.Fatalf("re-creating with identical config should be a no-op: %v", err)
	}
}

func TestCreateIndex_DuplicateDifferentConfig(t *testing.T) {
	s := NewStore()
	if err := s.CreateIndex("docs", IndexConfig{Dimension: 4, Metric: L2}); err != nil {
		t.Fatal(err)
	}
	err := s.CreateIndex("docs", IndexConfig{Dimension: 8, Metric: L2})
	if errs.KindOf(err) != errs.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestHasIndexAndListIndices(t *testing.T) {
	s := NewStore()
	if s.HasIndex("docs") {
		t.Fatal("expected no index yet")
	}
	_ = s.CreateIndex("docs", IndexConfig{Dimension: 2})
	if !s.HasIndex("docs") {
		t.Fatal("expected index to be present")
	}
	if got := s.ListIndices(); len(got) != 1 || got[0] != "docs" {
		t.Fatalf("unexpected list: %v", got)
	}
}

func TestDropIndex(t *testing.T) {
	s := NewStore()
	_ = s.CreateIndex("docs", IndexConfig{Dimension: 2})
	s.DropIndex("docs")
	if s.HasIndex("docs") {
		t.Fatal("expected index to be gone")
	}
}

func TestAdd_DuplicateLabelFails(t *testing.T) {
	s := NewStore()
	_ = s.CreateIndex("docs", IndexConfig{Dimension: 2})
	if err := s.Add("docs", vec(1, 0), 1); err != nil {
		t.Fatal(err)
	}
	err := s.Add("docs", vec(0, 1), 1)
	if errs.KindOf(err) != errs.ConflictingState {
		t.Fatalf("expected ConflictingState, got %v", err)
	}
}

func TestUpdate_MissingLabelFails(t *testing.T) {
	s := NewStore()
	_ = s.CreateIndex("docs", IndexConfig{Dimension: 2})
	err := s.Update("docs", vec(1, 0), 1)
	if errs.KindOf(err) != errs.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestUpdate_ChangesStoredVector(t *testing.T) {
	s := NewStore()
	_ = s.CreateIndex("docs", IndexConfig{Dimension: 2, Metric: L2})
	_ = s.Add("docs", vec(1, 0), 1)
	if err := s.Update("docs", vec(0, 1), 1); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get("docs", 1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Data[0] != 0 || got.Data[1] != 1 {
		t.Fatalf("unexpected vector after update: %v", got.Data)
	}
}

func TestDelete_RemovesLabel(t *testing.T) {
	s := NewStore()
	_ = s.CreateIndex("docs", IndexConfig{Dimension: 2})
	_ = s.Add("docs", vec(1, 0), 1)
	if err := s.Delete("docs", 1); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get("docs", 1); errs.KindOf(err) != errs.NotFound {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
}

func TestDelete_AbsentLabelIsNoop(t *testing.T) {
	s := NewStore()
	_ = s.CreateIndex("docs", IndexConfig{Dimension: 2})
	if err := s.Delete("docs", 99); err != nil {
		t.Fatalf("deleting an absent label should not error: %v", err)
	}
}

func TestSize(t *testing.T) {
	s := NewStore()
	_ = s.CreateIndex("docs", IndexConfig{Dimension: 2})
	_ = s.Add("docs", vec(1, 0), 1)
	_ = s.Add("docs", vec(0, 1), 2)
	n, err := s.Size("docs")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected size 2, got %d", n)
	}
}

func TestOperationsOnMissingIndex(t *testing.T) {
	s := NewStore()
	if _, err := s.Size("nope"); errs.KindOf(err) != errs.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if err := s.Add("nope", vec(1), 1); errs.KindOf(err) != errs.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if _, err := s.Search("nope", vec(1), 1); errs.KindOf(err) != errs.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestSearch_ExactSelfMatchL2(t *testing.T) {
	s := NewStore()
	_ = s.CreateIndex("docs", IndexConfig{Dimension: 8, Metric: L2})
	rng := rand.New(rand.NewSource(42))
	for label := uint64(1); label <= 200; label++ {
		data := make([]float32, 8)
		for i := range data {
			data[i] = rng.Float32()
		}
		if err := s.Add("docs", Vector{Dimension: 8, Data: data}, label); err != nil {
			t.Fatal(err)
		}
	}

	target, err := s.Get("docs", 77)
	if err != nil {
		t.Fatal(err)
	}
	results, err := s.Search("docs", target, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Label != 77 {
		t.Fatalf("expected self-match label 77, got %d", results[0].Label)
	}
	if results[0].Distance > 1e-4 {
		t.Fatalf("expected near-zero distance, got %f", results[0].Distance)
	}
}

func TestSearch_ExactSelfMatchCosine(t *testing.T) {
	s := NewStore()
	_ = s.CreateIndex("docs", IndexConfig{Dimension: 4, Metric: Cosine})
	vectors := map[uint64]Vector{
		1: vec(1, 0, 0, 0),
		2: vec(0, 1, 0, 0),
		3: vec(0, 0, 1, 0),
		4: vec(0.7, 0.7, 0, 0),
	}
	for label, v := range vectors {
		if err := s.Add("docs", v, label); err != nil {
			t.Fatal(err)
		}
	}
	results, err := s.Search("docs", vectors[3], 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Label != 3 {
		t.Fatalf("expected self-match label 3, got %v", results)
	}
	if results[0].Distance > 1e-4 {
		t.Fatalf("expected near-zero cosine distance, got %f", results[0].Distance)
	}
}

func TestSearch_FewerThanKAvailable(t *testing.T) {
	s := NewStore()
	_ = s.CreateIndex("docs", IndexConfig{Dimension: 2})
	_ = s.Add("docs", vec(1, 0), 1)
	results, err := s.Search("docs", vec(1, 0), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result when index has fewer than k elements, got %d", len(results))
	}
}

func TestSearch_EmptyIndex(t *testing.T) {
	s := NewStore()
	_ = s.CreateIndex("docs", IndexConfig{Dimension: 2})
	results, err := s.Search("docs", vec(1, 0), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results from an empty index, got %d", len(results))
	}
}

func TestSearch_OrderedAscendingByDistance(t *testing.T) {
	s := NewStore()
	_ = s.CreateIndex("docs", IndexConfig{Dimension: 2, Metric: L2})
	_ = s.Add("docs", vec(0, 0), 1)
	_ = s.Add("docs", vec(1, 0), 2)
	_ = s.Add("docs", vec(5, 0), 3)
	_ = s.Add("docs", vec(10, 0), 4)

	results, err := s.Search("docs", vec(0, 0), 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			t.Fatalf("results not sorted ascending: %v", results)
		}
	}
	if results[0].Label != 1 {
		t.Fatalf("expected closest label 1 first, got %d", results[0].Label)
	}
}

func TestAdd_WrongDimensionRejected(t *testing.T) {
	s := NewStore()
	_ = s.CreateIndex("docs", IndexConfig{Dimension: 3})
	err := s.Add("docs", vec(1, 0), 1)
	if errs.KindOf(err) != errs.InvalidArgument {
		t.Fatalf("expected InvalidArgument for mismatched dimension, got %v", err)
	}
}
