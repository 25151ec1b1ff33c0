// Package ollama implements the annotator contract over an OpenAI-compatible
// chat endpoint. Ollama serves one at http://localhost:11434/v1, which is the
// default host.
package ollama

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/palantir/lead-enrichment-pipeline/internal/annotator"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	DefaultHost  = "http://localhost:11434/v1"
	DefaultModel = "llama3.2:3b"
)

type Config struct {
	// Host is the base URL of the OpenAI-compatible API, including /v1.
	Host string
	// Token is sent as the bearer token. Local servers accept any value.
	Token string
	// Temperature is passed through to the model. Zero keeps the backend default.
	Temperature float64
}

// Normalize fills defaults and makes sure the host ends in /v1.
func (c *Config) Normalize() {
	c.Host = strings.TrimSpace(c.Host)
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if !strings.HasSuffix(c.Host, "/v1") {
		c.Host = strings.TrimSuffix(c.Host, "/") + "/v1"
	}
	if strings.TrimSpace(c.Token) == "" {
		c.Token = "none"
	}
}

// Annotator calls the chat completion endpoint once per Generate.
type Annotator struct {
	client      llms.Model
	temperature float64
	logger      *slog.Logger
}

var _ annotator.Annotator = (*Annotator)(nil)

func New(cfg Config) (*Annotator, error) {
	cfg.Normalize()
	client, err := openai.New(
		openai.WithBaseURL(cfg.Host),
		openai.WithToken(cfg.Token),
		openai.WithModel(DefaultModel),
	)
	if err != nil {
		return nil, err
	}
	return &Annotator{
		client:      client,
		temperature: cfg.Temperature,
		logger:      slog.Default().With("component", "ollama-annotator"),
	}, nil
}

func (a *Annotator) Generate(ctx context.Context, model, prompt string) (string, error) {
	if err := annotator.CheckRequest(model, prompt); err != nil {
		return "", err
	}
	model = strings.TrimSpace(model)

	opts := []llms.CallOption{llms.WithModel(model)}
	if a.temperature > 0 {
		opts = append(opts, llms.WithTemperature(a.temperature))
	}
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}

	resp, err := a.client.GenerateContent(ctx, content, opts...)
	if err != nil {
		a.logger.Debug("generate failed", "model", model, "err", err)
		return "", classifyErr(ctx, model, err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", annotator.NewError(annotator.KindGeneration, model, errors.New("no choices returned"))
	}
	return annotator.CheckCompletion(model, resp.Choices[0].Content)
}

func classifyErr(ctx context.Context, model string, err error) error {
	// The OpenAI client reports HTTP failures as plain text with the status inlined.
	if code, ok := annotator.StatusFromMessage(err.Error()); ok {
		return annotator.NewError(annotator.KindForStatus(code), model, err)
	}
	return annotator.Classify(ctx, model, err)
}
