package adapter

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m-mizutani/goerr/v2"

	"github.com/johncui/mnemo/pkg/model"
)

const (
	defaultClaudeModel     = "claude-sonnet-4-20250514"
	defaultClaudeMaxTokens = 1024
)

type ClaudeConfig struct {
	APIKey    string
	Model     string
	MaxTokens int64
	BaseURL   string
}

// Claude is a single-turn generator over the Anthropic Messages API. One
// instance is shared by all requests.
type Claude struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func NewClaude(cfg ClaudeConfig) (*Claude, error) {
	if cfg.APIKey == "" {
		return nil, goerr.New("Anthropic API key is required", goerr.T(model.TagConfig))
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	c := &Claude{
		client:    anthropic.NewClient(opts...),
		model:     defaultClaudeModel,
		maxTokens: defaultClaudeMaxTokens,
	}
	if cfg.Model != "" {
		c.model = cfg.Model
	}
	if cfg.MaxTokens > 0 {
		c.maxTokens = cfg.MaxTokens
	}
	return c, nil
}

// Generate sends prompt as one user message and joins the text blocks of
// the reply.
func (c *Claude) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", goerr.Wrap(err, "claude request failed", goerr.V("model", c.model), goerr.T(model.TagProvider))
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

var _ model.Generator = (*Claude)(nil)
