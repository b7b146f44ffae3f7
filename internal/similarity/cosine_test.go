package similarity

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCosineReflexive(t *testing.T) {
	t.Parallel()

	v := []float64{0.3, -1.2, 4.5, 0.01}
	if got := Cosine(v, v); !almostEqual(got, 1.0) {
		t.Fatalf("expected self-similarity ~1.0, got %f", got)
	}
}

func TestCosineOpposite(t *testing.T) {
	t.Parallel()

	v := []float64{1, 2, 3}
	neg := []float64{-1, -2, -3}
	if got := Cosine(v, neg); !almostEqual(got, -1.0) {
		t.Fatalf("expected opposite similarity ~-1.0, got %f", got)
	}
}

func TestCosineSymmetric(t *testing.T) {
	t.Parallel()

	a := []float64{0.5, 1.5, -0.25}
	b := []float64{2.0, 0.1, 0.9}
	if Cosine(a, b) != Cosine(b, a) {
		t.Fatalf("expected symmetric similarity")
	}
}

func TestCosineZeroVector(t *testing.T) {
	t.Parallel()

	zero := []float64{0, 0, 0}
	v := []float64{1, 2, 3}
	if got := Cosine(zero, v); got != 0.0 {
		t.Fatalf("expected 0.0 for zero vector, got %f", got)
	}
	if got := Cosine(v, zero); got != 0.0 {
		t.Fatalf("expected 0.0 for zero vector, got %f", got)
	}
}

func TestScorerAcceptsSerializedVectors(t *testing.T) {
	t.Parallel()

	scorer := NewScorer(zerolog.Nop())

	native := []float64{1, 0, 0}
	serialized := "[1,0,0]"

	if got := scorer.Score(native, serialized); !almostEqual(got, 1.0) {
		t.Fatalf("expected serialized vector to score ~1.0, got %f", got)
	}
	if got := scorer.Score(serialized, serialized); !almostEqual(got, 1.0) {
		t.Fatalf("expected string-string score ~1.0, got %f", got)
	}
}

func TestScorerFloat32Input(t *testing.T) {
	t.Parallel()

	scorer := NewScorer(zerolog.Nop())
	if got := scorer.Score([]float32{0, 1}, []float64{0, 1}); !almostEqual(got, 1.0) {
		t.Fatalf("expected float32 input to score ~1.0, got %f", got)
	}
}

func TestScorerCorruptInputScoresZero(t *testing.T) {
	t.Parallel()

	scorer := NewScorer(zerolog.Nop())

	if got := scorer.Score("not-a-vector", []float64{1, 2}); got != 0.0 {
		t.Fatalf("expected corrupt input to score 0.0, got %f", got)
	}
	if got := scorer.Score(nil, []float64{1, 2}); got != 0.0 {
		t.Fatalf("expected nil input to score 0.0, got %f", got)
	}
	if got := scorer.Score([]float64{1, 2}, []float64{1, 2, 3}); got != 0.0 {
		t.Fatalf("expected dimension mismatch to score 0.0, got %f", got)
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	values, err := Parse("[0.25, -1.5, 3]")
	if err != nil {
		t.Fatalf("parse vector: %v", err)
	}
	if len(values) != 3 || values[0] != 0.25 || values[1] != -1.5 || values[2] != 3 {
		t.Fatalf("unexpected parsed values: %v", values)
	}

	if _, err := Parse(""); err == nil {
		t.Fatalf("expected error for empty text")
	}
	if _, err := Parse("[]"); err == nil {
		t.Fatalf("expected error for zero-element vector")
	}
	if _, err := Parse("{\"a\":1}"); err == nil {
		t.Fatalf("expected error for non-array JSON")
	}
}
