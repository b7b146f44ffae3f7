package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

func newEmbedServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func staticVectorHandler(t *testing.T, captured *[]string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Texts []string `json:"texts"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode embed request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if captured != nil {
			*captured = append(*captured, req.Texts...)
		}

		vectors := make([][]float64, len(req.Texts))
		for i := range vectors {
			vec := make([]float64, Dimensions)
			vec[0] = 1
			vectors[i] = vec
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": vectors})
	}
}

func TestGenerateReturnsFixedDimensions(t *testing.T) {
	t.Parallel()

	server := newEmbedServer(t, staticVectorHandler(t, nil))
	client := NewClient(Options{Endpoint: server.URL}, zerolog.Nop())

	vector, err := client.Generate(context.Background(), "NullPointerException in foo.java")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(vector) != Dimensions {
		t.Fatalf("expected %d dims, got %d", Dimensions, len(vector))
	}
}

func TestGenerateEmptyInputUsesPlaceholder(t *testing.T) {
	t.Parallel()

	var captured []string
	server := newEmbedServer(t, staticVectorHandler(t, &captured))
	client := NewClient(Options{Endpoint: server.URL}, zerolog.Nop())

	if _, err := client.Generate(context.Background(), ""); err != nil {
		t.Fatalf("generate empty: %v", err)
	}
	if _, err := client.Generate(context.Background(), "   \n\t "); err != nil {
		t.Fatalf("generate whitespace: %v", err)
	}

	// First captured text is the warmup request; the two calls follow.
	if len(captured) != 3 {
		t.Fatalf("expected 3 embed requests, got %d: %v", len(captured), captured)
	}
	for _, text := range captured[1:] {
		if text != "Empty error" {
			t.Fatalf("expected placeholder text, got %q", text)
		}
	}
}

func TestGenerateTruncatesLongInput(t *testing.T) {
	t.Parallel()

	var captured []string
	server := newEmbedServer(t, staticVectorHandler(t, &captured))
	client := NewClient(Options{Endpoint: server.URL}, zerolog.Nop())

	long := strings.Repeat("x", maxInputChars+500)
	if _, err := client.Generate(context.Background(), long); err != nil {
		t.Fatalf("generate long: %v", err)
	}
	if got := captured[len(captured)-1]; len(got) != maxInputChars {
		t.Fatalf("expected input truncated to %d chars, got %d", maxInputChars, len(got))
	}

	// Multibyte input truncates on a rune boundary, never mid-sequence.
	wide := strings.Repeat("é", maxInputChars+500)
	if _, err := client.Generate(context.Background(), wide); err != nil {
		t.Fatalf("generate wide: %v", err)
	}
	got := captured[len(captured)-1]
	if n := utf8.RuneCountInString(got); n != maxInputChars {
		t.Fatalf("expected %d runes, got %d", maxInputChars, n)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncation produced invalid utf-8")
	}
}

func TestGenerateDegradesToZeroVectorOnEncodeFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	server := newEmbedServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Let the warmup succeed so the failure is a per-call one.
			staticVectorHandler(t, nil)(w, r)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	})

	client := NewClient(Options{Endpoint: server.URL}, zerolog.Nop())

	vector, err := client.Generate(context.Background(), "anything")
	if err != nil {
		t.Fatalf("expected degraded result, not error: %v", err)
	}
	if len(vector) != Dimensions {
		t.Fatalf("expected %d dims, got %d", Dimensions, len(vector))
	}
	if !IsZero(vector) {
		t.Fatalf("expected zero vector on encode failure")
	}
}

func TestWarmupFailureFailsFast(t *testing.T) {
	t.Parallel()

	server := newEmbedServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	client := NewClient(Options{Endpoint: server.URL}, zerolog.Nop())

	if _, err := client.Generate(context.Background(), "text"); err == nil {
		t.Fatalf("expected warmup failure to propagate")
	}
	// The warmup error is remembered, not retried.
	if _, err := client.Generate(context.Background(), "text"); err == nil {
		t.Fatalf("expected remembered warmup failure")
	}
}

func TestGenerateBatchPropagatesFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	server := newEmbedServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			staticVectorHandler(t, nil)(w, r)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	})

	client := NewClient(Options{Endpoint: server.URL}, zerolog.Nop())

	if _, err := client.GenerateBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatalf("expected batch failure to propagate")
	}
}

func TestGenerateBatchOpenAIStyleResponse(t *testing.T) {
	t.Parallel()

	server := newEmbedServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Texts []string `json:"texts"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		data := make([]map[string]any, len(req.Texts))
		for i := range req.Texts {
			vec := make([]float64, Dimensions)
			vec[i%Dimensions] = 1
			data[i] = map[string]any{"index": i, "embedding": vec}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	})

	client := NewClient(Options{Endpoint: server.URL}, zerolog.Nop())

	vectors, err := client.GenerateBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vectors))
	}
	if vectors[0][0] != 1 || vectors[1][1] != 1 {
		t.Fatalf("expected index-ordered vectors")
	}
}

func TestIsZero(t *testing.T) {
	t.Parallel()

	if !IsZero(make([]float64, Dimensions)) {
		t.Fatalf("expected zero vector to report zero")
	}
	vec := make([]float64, Dimensions)
	vec[10] = 0.5
	if IsZero(vec) {
		t.Fatalf("did not expect non-zero vector to report zero")
	}
	if IsZero(nil) {
		t.Fatalf("nil slice is not a zero vector")
	}
}
