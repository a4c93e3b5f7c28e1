// Package embed wraps the embedding model behind the same narrow
// contract used throughout the pipeline: text in, vectors out. The
// client shape (constructor taking API credentials, a BatchEmbed
// entrypoint, an injected timeout) follows
// services/trace/explore/embedding_client.go's EmbeddingClient, adapted
// from an HTTP microservice call to the OpenAI embeddings API via
// sashabaranov/go-openai.
package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/sfvector-ingest/internal/bridge"
	"github.com/AleutianAI/sfvector-ingest/internal/ingestlog"
	"github.com/AleutianAI/sfvector-ingest/internal/ratelimit"
	"github.com/AleutianAI/sfvector-ingest/internal/retry"
)

// DefaultBatchSize is E from spec.md §4.11: the number of chunks
// embedded per request.
const DefaultBatchSize = 96

// DefaultTimeout bounds a single embedding request.
const DefaultTimeout = 30 * time.Second

// Config configures a Client.
type Config struct {
	APIKey    string
	Model     openai.EmbeddingModel // default openai.SmallEmbedding3
	BatchSize int                   // default DefaultBatchSize
	Timeout   time.Duration         // default DefaultTimeout
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = openai.SmallEmbedding3
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

// Client computes embedding vectors for corpus chunk text.
//
// # Thread Safety
//
// Client is safe for concurrent use; the underlying openai.Client is.
type Client struct {
	oai     *openai.Client
	cfg     Config
	retry   *retry.Engine
	limiter *ratelimit.Limiter
	logger  *ingestlog.Logger
}

// New constructs a Client against the OpenAI embeddings API. limiter may
// be nil in tests that don't care about throttling; a live pipeline
// always wires the same shared *ratelimit.Limiter passed to bridge.New,
// since the limiter is the sole gate on outbound remote calls regardless
// of whether the call is a CLI subprocess or an HTTP request.
func New(cfg Config, retryEngine *retry.Engine, limiter *ratelimit.Limiter, logger *ingestlog.Logger) (*Client, error) {
	cfg.applyDefaults()
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embed: API key required")
	}
	if logger == nil {
		logger = ingestlog.Nop()
	}
	return &Client{
		oai:     openai.NewClient(cfg.APIKey),
		cfg:     cfg,
		retry:   retryEngine,
		limiter: limiter,
		logger:  logger.With("component", "embed"),
	}, nil
}

// BatchSize returns the configured embedding batch size (E).
func (c *Client) BatchSize() int {
	return c.cfg.BatchSize
}

// Embed computes one vector per input text, preserving order. texts
// longer than cfg.BatchSize are split into sub-requests of at most
// cfg.BatchSize each.
//
// # Inputs
//
//   - ctx: cancels in-flight requests.
//   - texts: chunk bodies to embed, in the order vectors should return.
//
// # Outputs
//
//   - [][]float32: one embedding per text, same order and length as texts.
//   - error: non-nil if any sub-batch exhausts retries.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var result [][]float32

	attempt := func(ctx context.Context, _ int) (bridge.Classification, error) {
		if c.limiter != nil {
			if err := c.limiter.Acquire(ctx); err != nil {
				return bridge.Timeout, fmt.Errorf("acquire rate limit token: %w", err)
			}
		}

		resp, err := c.oai.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input: batch,
			Model: c.cfg.Model,
		})
		if err != nil {
			class := classifyOpenAIError(err)
			if c.limiter != nil {
				c.limiter.RecordOutcome(false, class == bridge.QuotaError)
			}
			return class, err
		}
		if len(resp.Data) != len(batch) {
			if c.limiter != nil {
				c.limiter.RecordOutcome(false, false)
			}
			return bridge.TransportError, fmt.Errorf("embedding response returned %d vectors for %d inputs", len(resp.Data), len(batch))
		}
		result = make([][]float32, len(batch))
		for _, d := range resp.Data {
			result[d.Index] = d.Embedding
		}
		if c.limiter != nil {
			c.limiter.RecordOutcome(true, false)
		}
		return bridge.Ok, nil
	}

	if c.retry == nil {
		if _, err := attempt(ctx, 1); err != nil {
			return nil, err
		}
		return result, nil
	}

	if _, err := c.retry.Do(ctx, "embed_batch", attempt); err != nil {
		return nil, err
	}
	return result, nil
}

// classifyOpenAIError maps an OpenAI SDK error onto the pipeline's
// shared classification taxonomy so the retry engine treats HTTP 429s
// and CLI quota errors identically.
func classifyOpenAIError(err error) bridge.Classification {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429:
			return bridge.QuotaError
		case 400, 401, 403, 404, 422:
			return bridge.SyntacticError
		case 408, 504:
			return bridge.Timeout
		default:
			return bridge.TransportError
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota"):
		return bridge.QuotaError
	case strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timeout"):
		return bridge.Timeout
	default:
		return bridge.TransportError
	}
}
