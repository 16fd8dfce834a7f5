package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "text-embedding-3-small"
)

// OpenAI embeds through any OpenAI-compatible /embeddings endpoint
// (OpenAI, TEI, Ollama, vLLM).
type OpenAI struct {
	client   openai.Client
	model    string
	dims     int
	sendDims bool
	name     string
}

// OpenAIConfig configures an OpenAI-compatible embedder.
type OpenAIConfig struct {
	Name    string // reported by Name(); defaults to "openai"
	APIKey  string
	BaseURL string
	Model   string
	Dims    int
	// SendDimensions asks the server to truncate vectors to Dims. Only
	// models that support Matryoshka truncation accept it.
	SendDimensions bool
	Timeout        time.Duration
}

// NewOpenAI creates an OpenAI-compatible embedder.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	opts := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		// retries are handled by the Retry decorator
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	} else {
		// local servers ignore the key but the client insists on one
		opts = append(opts, option.WithAPIKey("unused"))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &OpenAI{
		client:   openai.NewClient(opts...),
		model:    cfg.Model,
		dims:     cfg.Dims,
		sendDims: cfg.SendDimensions,
		name:     cfg.Name,
	}
}

func (o *OpenAI) Name() string    { return o.name }
func (o *OpenAI) Dimensions() int { return o.dims }

func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	params := openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:          openai.EmbeddingModel(o.model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if o.sendDims && o.dims > 0 {
		params.Dimensions = openai.Int(int64(o.dims))
	}

	resp, err := o.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s embed: %w", o.name, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%s embed: got %d vectors for %d inputs", o.name, len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("%s embed: vector index %d out of range", o.name, d.Index)
		}
		v := make([]float32, len(d.Embedding))
		for i, x := range d.Embedding {
			v[i] = float32(x)
		}
		out[d.Index] = v
	}
	return out, nil
}

// statusCode extracts the HTTP status from an API error, or 0.
func statusCode(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
