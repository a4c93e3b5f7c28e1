package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/sfvector-ingest/internal/bridge"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	oaiCfg := openai.DefaultConfig("test-key")
	oaiCfg.BaseURL = srv.URL + "/v1"

	cfg := Config{APIKey: "test-key", BatchSize: 2}
	cfg.applyDefaults()

	return &Client{
		oai:    openai.NewClientWithConfig(oaiCfg),
		cfg:    cfg,
		logger: nil,
	}
}

func embeddingHandler(dim int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		data := make([]openai.Embedding, len(req.Input))
		for i := range req.Input {
			vec := make([]float32, dim)
			for j := range vec {
				vec[j] = float32(i)
			}
			data[i] = openai.Embedding{Object: "embedding", Embedding: vec, Index: i}
		}
		resp := openai.EmbeddingResponse{Object: "list", Data: data, Model: openai.SmallEmbedding3}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func TestEmbed_SingleBatch(t *testing.T) {
	c := newTestClient(t, embeddingHandler(4))

	vecs, err := c.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Len(t, vecs[0], 4)
}

func TestEmbed_SplitsAcrossBatchSize(t *testing.T) {
	var callCount int
	handler := func(w http.ResponseWriter, r *http.Request) {
		callCount++
		embeddingHandler(3)(w, r)
	}
	c := newTestClient(t, handler)

	texts := []string{"a", "b", "c", "d", "e"}
	vecs, err := c.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	assert.Equal(t, 3, callCount) // batch size 2: [a b] [c d] [e]
}

func TestEmbed_EmptyInputReturnsNil(t *testing.T) {
	c := newTestClient(t, embeddingHandler(2))
	vecs, err := c.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestEmbed_PropagatesServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited","type":"rate_limit_error"}}`)
	})

	_, err := c.Embed(context.Background(), []string{"a"})
	assert.Error(t, err)
}

func TestClassifyOpenAIError_MapsStatusCodes(t *testing.T) {
	assert.Equal(t, bridge.QuotaError, classifyOpenAIError(&openai.APIError{HTTPStatusCode: 429}))
	assert.Equal(t, bridge.SyntacticError, classifyOpenAIError(&openai.APIError{HTTPStatusCode: 401}))
	assert.Equal(t, bridge.Timeout, classifyOpenAIError(&openai.APIError{HTTPStatusCode: 408}))
	assert.Equal(t, bridge.TransportError, classifyOpenAIError(&openai.APIError{HTTPStatusCode: 500}))
}
