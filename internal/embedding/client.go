package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

const (
	// Dimensions is the output width of the sentence-embedding model
	// (all-MiniLM-L6-v2).
	Dimensions = 384

	// placeholderText substitutes empty or unusable input so every
	// issue gets a usable embedding.
	placeholderText = "Empty error"

	// maxInputChars bounds per-call model cost.
	maxInputChars = 5000

	defaultRequestTimeout = 45 * time.Second
)

// Options configures the embedding service client.
type Options struct {
	Endpoint       string
	ModelName      string
	RequestTimeout time.Duration
}

// Client talks to the sentence-embedding HTTP service. The service
// loads its model lazily on the first request, so the client performs a
// one-time warmup request guarded by sync.Once: if the service cannot
// serve embeddings at all, every subsequent Generate call fails fast
// with the remembered warmup error. Transient per-call encode failures
// after a successful warmup degrade to a zero vector instead.
type Client struct {
	endpoint   string
	modelName  string
	httpClient *http.Client
	logger     zerolog.Logger

	warmupOnce sync.Once
	warmupErr  error
}

type embedRequest struct {
	Texts []string `json:"texts,omitempty"`
	Input []string `json:"input,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Data       []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func NewClient(opts Options, logger zerolog.Logger) *Client {
	endpoint := strings.TrimSpace(opts.Endpoint)
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &Client{
		endpoint:   endpoint,
		modelName:  strings.TrimSpace(opts.ModelName),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// EnsureReady performs the one-time warmup. Safe for concurrent
// first-callers; only one warmup request runs.
func (c *Client) EnsureReady(ctx context.Context) error {
	c.warmupOnce.Do(func() {
		if c.endpoint == "" {
			c.warmupErr = fmt.Errorf("embedding endpoint is not configured")
			return
		}

		started := time.Now()
		vectors, err := c.requestEmbeddings(ctx, []string{placeholderText})
		if err != nil {
			c.warmupErr = fmt.Errorf("embedding service warmup: %w", err)
			c.logger.Error().Err(c.warmupErr).Str("endpoint", c.endpoint).Msg("embedding warmup failed")
			return
		}
		if len(vectors) != 1 || len(vectors[0]) != Dimensions {
			c.warmupErr = fmt.Errorf("embedding service warmup: expected 1 vector of %d dims", Dimensions)
			c.logger.Error().Err(c.warmupErr).Str("endpoint", c.endpoint).Msg("embedding warmup failed")
			return
		}

		c.logger.Info().
			Str("endpoint", c.endpoint).
			Str("model", c.modelName).
			Dur("elapsed", time.Since(started)).
			Msg("embedding service ready")
	})
	return c.warmupErr
}

// Generate returns the embedding for text as a fixed-length float
// slice. Empty input collapses to the placeholder text, long input is
// truncated, and encode failures after a successful warmup degrade to a
// zero vector (logged, never propagated) so a broken embedding path
// cannot block issue creation. The only returned error is a failed
// warmup.
func (c *Client) Generate(ctx context.Context, text string) ([]float64, error) {
	if err := c.EnsureReady(ctx); err != nil {
		return nil, err
	}

	input := sanitizeInput(text)

	vectors, err := c.requestEmbeddings(ctx, []string{input})
	if err != nil {
		c.logger.Error().Err(err).Msg("embedding generation failed, returning zero vector")
		return zeroVector(), nil
	}
	if len(vectors) != 1 || len(vectors[0]) != Dimensions {
		c.logger.Error().
			Int("vectors", len(vectors)).
			Msg("embedding service returned unexpected shape, returning zero vector")
		return zeroVector(), nil
	}

	return vectors[0], nil
}

// GenerateBatch embeds several texts in one request. Unlike Generate it
// propagates failures: batch callers decide whether to skip or retry.
func (c *Client) GenerateBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if err := c.EnsureReady(ctx); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}

	inputs := make([]string, len(texts))
	for i, text := range texts {
		inputs[i] = sanitizeInput(text)
	}

	vectors, err := c.requestEmbeddings(ctx, inputs)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(inputs) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d inputs", len(vectors), len(inputs))
	}
	for i, vector := range vectors {
		if len(vector) != Dimensions {
			return nil, fmt.Errorf("embedding %d has %d dims, expected %d", i, len(vector), Dimensions)
		}
	}
	return vectors, nil
}

func (c *Client) requestEmbeddings(ctx context.Context, texts []string) ([][]float64, error) {
	payload, err := json.Marshal(embedRequest{Texts: texts, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call embedding service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service returned status %d", resp.StatusCode)
	}

	var decoded embedResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}

	if len(decoded.Embeddings) > 0 {
		return decoded.Embeddings, nil
	}
	if len(decoded.Data) > 0 {
		vectors := make([][]float64, len(decoded.Data))
		for _, item := range decoded.Data {
			if item.Index < 0 || item.Index >= len(vectors) {
				return nil, fmt.Errorf("embedding response index %d out of range", item.Index)
			}
			vectors[item.Index] = item.Embedding
		}
		return vectors, nil
	}
	return nil, fmt.Errorf("embedding response contained no vectors")
}

func sanitizeInput(text string) string {
	if strings.TrimSpace(text) == "" {
		return placeholderText
	}
	// Truncation counts runes so a multibyte sequence is never split.
	if utf8.RuneCountInString(text) > maxInputChars {
		text = string([]rune(text)[:maxInputChars])
	}
	return strings.TrimSpace(text)
}

func zeroVector() []float64 {
	return make([]float64, Dimensions)
}

// ToFloat32 narrows an embedding for pgvector storage.
func ToFloat32(values []float64) []float32 {
	if values == nil {
		return nil
	}
	converted := make([]float32, len(values))
	for i, v := range values {
		converted[i] = float32(v)
	}
	return converted
}

// IsZero reports whether every element is zero, i.e. the degraded
// embedding produced when generation fails.
func IsZero(values []float64) bool {
	for _, v := range values {
		if v != 0 {
			return false
		}
	}
	return len(values) > 0
}
