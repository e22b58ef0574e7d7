package adapter

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"

	"github.com/johncui/mnemo/pkg/model"
)

// GeminiConfig selects the Gemini API when APIKey is set and Vertex AI when
// Project is set.
type GeminiConfig struct {
	APIKey          string
	Project         string
	Location        string
	GenerativeModel string
	EmbeddingModel  string
	Dimensions      int
}

// GeminiClient generates text and embeddings through genai.
type GeminiClient struct {
	client          *genai.Client
	generativeModel string
	embeddingModel  string
	dim             int
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	cc := &genai.ClientConfig{}
	switch {
	case cfg.APIKey != "":
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	case cfg.Project != "":
		cc.Project = cfg.Project
		cc.Location = cfg.Location
		cc.Backend = genai.BackendVertexAI
		if cc.Location == "" {
			cc.Location = "us-central1"
		}
	default:
		return nil, goerr.New("Gemini needs an API key or a Google Cloud project", goerr.T(model.TagConfig))
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client", goerr.T(model.TagConfig))
	}

	g := &GeminiClient{
		client:          client,
		generativeModel: "gemini-2.5-flash",
		embeddingModel:  "gemini-embedding-001",
		dim:             cfg.Dimensions,
	}
	if cfg.GenerativeModel != "" {
		g.generativeModel = cfg.GenerativeModel
	}
	if cfg.EmbeddingModel != "" {
		g.embeddingModel = cfg.EmbeddingModel
	}
	if g.dim <= 0 {
		g.dim = 1536
	}
	return g, nil
}

func (g *GeminiClient) Dimensions() int { return g.dim }

func (g *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	dim := int32(g.dim)
	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, genai.Text(text), &genai.EmbedContentConfig{
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed content", goerr.V("model", g.embeddingModel), goerr.T(model.TagProvider))
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, goerr.New("no embedding returned", goerr.V("model", g.embeddingModel), goerr.T(model.TagProvider))
	}
	return resp.Embeddings[0].Values, nil
}

func (g *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.generativeModel, genai.Text(prompt), nil)
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate content", goerr.V("model", g.generativeModel), goerr.T(model.TagProvider))
	}
	return resp.Text(), nil
}

var (
	_ model.EmbeddingClient = (*GeminiClient)(nil)
	_ model.Generator       = (*GeminiClient)(nil)
)
