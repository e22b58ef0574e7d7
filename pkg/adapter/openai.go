package adapter

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/johncui/mnemo/pkg/model"
)

const (
	defaultOpenAIModel     = "text-embedding-ada-002"
	defaultOpenAIDim       = 1536
	defaultOpenAITimeout   = 30 * time.Second
	defaultOpenAIChatModel = "gpt-4o"
)

// OpenAIConfig configures the OpenAI clients. BaseURL may point at any
// compatible endpoint.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	MaxTokens  int64
	Timeout    time.Duration
}

func newOpenAIClient(cfg OpenAIConfig) (openai.Client, error) {
	if cfg.APIKey == "" {
		return openai.Client{}, goerr.New("OpenAI API key is required", goerr.T(model.TagConfig))
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultOpenAITimeout
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return openai.NewClient(opts...), nil
}

// OpenAIEmbedder calls the OpenAI embeddings API. Safe for concurrent use.
type OpenAIEmbedder struct {
	client openai.Client
	model  string
	dim    int
}

func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	client, err := newOpenAIClient(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = defaultOpenAIDim
	}
	// ada-002 always returns 1536 values
	if cfg.Model == defaultOpenAIModel && cfg.Dimensions != defaultOpenAIDim {
		return nil, goerr.Wrap(model.ErrDimensionMismatch, "text-embedding-ada-002 only produces 1536 dimensions",
			goerr.V("dimensions", cfg.Dimensions), goerr.T(model.TagConfig))
	}
	return &OpenAIEmbedder{client: client, model: cfg.Model, dim: cfg.Dimensions}, nil
}

func (e *OpenAIEmbedder) Dimensions() int { return e.dim }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model:          openai.EmbeddingModel(e.model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	// ada-002 rejects the dimensions field
	if e.model != defaultOpenAIModel {
		params.Dimensions = openai.Int(int64(e.dim))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, goerr.Wrap(err, "embedding request failed", goerr.V("model", e.model), goerr.T(model.TagProvider))
	}
	if len(resp.Data) == 0 {
		return nil, goerr.New("no embedding returned", goerr.V("model", e.model), goerr.T(model.TagProvider))
	}

	src := resp.Data[0].Embedding
	vec := make([]float32, len(src))
	for i, v := range src {
		vec[i] = float32(v)
	}
	return vec, nil
}

// OpenAIGenerator answers a prompt with one chat completion.
type OpenAIGenerator struct {
	client    openai.Client
	model     string
	maxTokens int64
}

func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	client, err := newOpenAIClient(cfg)
	if err != nil {
		return nil, err
	}
	g := &OpenAIGenerator{client: client, model: defaultOpenAIChatModel, maxTokens: cfg.MaxTokens}
	if cfg.Model != "" {
		g.model = cfg.Model
	}
	return g, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if g.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(g.maxTokens)
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", goerr.Wrap(err, "openai chat request failed", goerr.V("model", g.model), goerr.T(model.TagProvider))
	}
	if len(resp.Choices) == 0 {
		return "", goerr.New("no completion returned", goerr.V("model", g.model), goerr.T(model.TagProvider))
	}
	return resp.Choices[0].Message.Content, nil
}

var (
	_ model.EmbeddingClient = (*OpenAIEmbedder)(nil)
	_ model.Generator       = (*OpenAIGenerator)(nil)
)
