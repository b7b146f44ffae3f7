package similarity

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"
)

// Scorer computes cosine similarity between embeddings. It is
// deliberately defensive: persisted embeddings may arrive as serialized
// text (pgvector renders vectors as "[0.1,0.2,...]", which is also a
// valid JSON array), may be corrupt, or may be missing entirely, and
// none of that is allowed to take down a search.
type Scorer struct {
	logger zerolog.Logger
}

func NewScorer(logger zerolog.Logger) *Scorer {
	return &Scorer{logger: logger}
}

// Score returns the cosine similarity of two embeddings. Each side may
// be a []float64, []float32, string, []byte, or pointer to one of
// those. Decode failures and dimension mismatches score 0.0 and are
// logged, never raised.
func (s *Scorer) Score(a, b any) float64 {
	left, err := coerceVector(a)
	if err != nil {
		s.logger.Warn().Err(err).Msg("similarity: failed to decode left embedding")
		return 0.0
	}
	right, err := coerceVector(b)
	if err != nil {
		s.logger.Warn().Err(err).Msg("similarity: failed to decode right embedding")
		return 0.0
	}
	if len(left) != len(right) {
		s.logger.Warn().Int("left_dims", len(left)).Int("right_dims", len(right)).Msg("similarity: embedding dimension mismatch")
		return 0.0
	}
	return Cosine(left, right)
}

// Cosine is dot(a,b) / (||a|| * ||b||), returning 0.0 when either norm
// is zero instead of dividing by zero.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Parse decodes a serialized vector. Both JSON arrays and the pgvector
// text format share the bracketed comma-separated shape, so a single
// JSON decode covers them.
func Parse(raw string) ([]float64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("empty vector text")
	}

	var values []float64
	if err := json.Unmarshal([]byte(trimmed), &values); err != nil {
		return nil, fmt.Errorf("decode vector text: %w", err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("vector text decoded to zero elements")
	}
	return values, nil
}

func coerceVector(value any) ([]float64, error) {
	switch v := value.(type) {
	case nil:
		return nil, fmt.Errorf("nil embedding")
	case []float64:
		if len(v) == 0 {
			return nil, fmt.Errorf("empty embedding")
		}
		return v, nil
	case []float32:
		if len(v) == 0 {
			return nil, fmt.Errorf("empty embedding")
		}
		converted := make([]float64, len(v))
		for i, f := range v {
			converted[i] = float64(f)
		}
		return converted, nil
	case string:
		return Parse(v)
	case []byte:
		return Parse(string(v))
	case *string:
		if v == nil {
			return nil, fmt.Errorf("nil embedding")
		}
		return Parse(*v)
	case *[]float64:
		if v == nil {
			return nil, fmt.Errorf("nil embedding")
		}
		return coerceVector(*v)
	default:
		return nil, fmt.Errorf("unsupported embedding type %T", value)
	}
}
