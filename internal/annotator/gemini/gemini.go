package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/palantir/lead-enrichment-pipeline/internal/annotator"
	"github.com/palantir/lead-enrichment-pipeline/pkg/pipeline/core"
	"google.golang.org/genai"
)

const (
	statusResourceExhausted = "RESOURCE_EXHAUSTED"
	// quotaExtraRetries caps retries of a 429 RESOURCE_EXHAUSTED below the
	// run's retry budget.
	quotaExtraRetries = 1
)

type Config struct {
	APIKey string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string
}

// Annotator issues single-candidate text generations against the Gemini API.
type Annotator struct {
	client *genai.Client
}

var _ annotator.Annotator = (*Annotator)(nil)

func New(ctx context.Context, cfg Config) (*Annotator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &Annotator{client: client}, nil
}

func (a *Annotator) Generate(ctx context.Context, model, prompt string) (string, error) {
	if err := annotator.CheckRequest(model, prompt); err != nil {
		return "", err
	}
	model = strings.TrimSpace(model)

	resp, err := a.client.Models.GenerateContent(
		ctx,
		model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{CandidateCount: 1},
	)
	if err != nil {
		return "", classifyErr(ctx, model, err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", annotator.NewError(annotator.KindGeneration, model, errors.New("no candidates returned"))
	}
	return annotator.CheckCompletion(model, resp.Text())
}

func classifyErr(ctx context.Context, model string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		classified := annotator.NewError(annotator.KindForStatus(apiErr.Code), model, err)
		if apiErr.Code == http.StatusTooManyRequests && apiErr.Status == statusResourceExhausted {
			// Quota exhaustion rarely clears within a backoff window.
			return &core.LimitedTransientError{Err: classified, ExtraRetries: quotaExtraRetries}
		}
		return classified
	}
	return annotator.Classify(ctx, model, err)
}
