package embeddings

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ziadkadry99/ragbudget/internal/tokens"
)

const (
	// maxBatchInputs and maxBatchTokens are the per-request API limits.
	maxBatchInputs = 2048
	maxBatchTokens = 300000
	// maxInputTokens is the longest single input the models accept.
	maxInputTokens = 8191
)

// OpenAIModel represents a supported OpenAI embedding model.
type OpenAIModel string

const (
	ModelTextEmbedding3Small OpenAIModel = "text-embedding-3-small"
	ModelTextEmbedding3Large OpenAIModel = "text-embedding-3-large"
)

func (m OpenAIModel) dimensions() int {
	if m == ModelTextEmbedding3Large {
		return 3072
	}
	return 1536
}

// OpenAIOptions configures an OpenAIEmbedder.
type OpenAIOptions struct {
	APIKey string
	Model  OpenAIModel
	// BaseURL points the client at a compatible endpoint.
	BaseURL string
	// Dimensions shortens vectors below the model's native size. Zero or a
	// larger value keeps the native size.
	Dimensions int
	// Counter sizes batches and truncates long inputs. Nil estimates from
	// word counts.
	Counter tokens.Counter
}

// OpenAIEmbedder generates embeddings using OpenAI's API. Inputs are packed
// into requests by token count and cut to the model's input limit.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      OpenAIModel
	dimensions int
	counter    tokens.Counter
}

func NewOpenAIEmbedder(opts OpenAIOptions) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Counter == nil {
		opts.Counter = tokens.Estimator{}
	}
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(cfg),
		model:      opts.Model,
		dimensions: opts.Dimensions,
		counter:    opts.Counter,
	}
}

func (e *OpenAIEmbedder) Name() string {
	return string(e.model)
}

func (e *OpenAIEmbedder) Dimensions() int {
	if native := e.model.dimensions(); e.dimensions <= 0 || e.dimensions > native {
		return native
	}
	return e.dimensions
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for _, batch := range e.batches(texts) {
		req := openai.EmbeddingRequest{
			Input: batch,
			Model: openai.EmbeddingModel(e.model),
		}
		if e.Dimensions() != e.model.dimensions() {
			req.Dimensions = e.Dimensions()
		}
		resp, err := e.client.CreateEmbeddings(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("embeddings: openai request: %w", err)
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("embeddings: openai returned %d vectors, expected %d", len(resp.Data), len(batch))
		}
		for _, emb := range resp.Data {
			out = append(out, emb.Embedding)
		}
	}
	if err := checkDimensions(out, e.Dimensions()); err != nil {
		return nil, err
	}
	return out, nil
}

// batches truncates each text to maxInputTokens and groups them so no
// request exceeds maxBatchInputs or maxBatchTokens.
func (e *OpenAIEmbedder) batches(texts []string) [][]string {
	var out [][]string
	var cur []string
	used := 0
	for _, t := range texts {
		n := e.counter.Count(t)
		if n > maxInputTokens {
			t = e.counter.Truncate(t, maxInputTokens)
			n = e.counter.Count(t)
		}
		if len(cur) > 0 && (len(cur) == maxBatchInputs || used+n > maxBatchTokens) {
			out = append(out, cur)
			cur, used = nil, 0
		}
		cur = append(cur, t)
		used += n
	}
	return append(out, cur)
}
