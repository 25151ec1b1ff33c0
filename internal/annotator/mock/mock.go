// Package mock provides a scripted annotator for tests and dry runs.
package mock

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"

	"github.com/palantir/lead-enrichment-pipeline/internal/annotator"
)

// Responder produces the completion for a prompt.
type Responder func(ctx context.Context, model, prompt string) (string, error)

// Call records one Generate invocation.
type Call struct {
	Model  string
	Prompt string
}

// Annotator answers prompts through a Responder and records every call.
type Annotator struct {
	respond Responder

	mu    sync.Mutex
	calls []Call
}

var _ annotator.Annotator = (*Annotator)(nil)

// New returns an annotator backed by respond. A nil respond uses Default.
func New(respond Responder) *Annotator {
	if respond == nil {
		respond = Default
	}
	return &Annotator{respond: respond}
}

func (a *Annotator) Generate(ctx context.Context, model, prompt string) (string, error) {
	if err := annotator.CheckRequest(model, prompt); err != nil {
		return "", err
	}
	a.mu.Lock()
	a.calls = append(a.calls, Call{Model: model, Prompt: prompt})
	a.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", annotator.Classify(ctx, model, err)
	}
	out, err := a.respond(ctx, model, prompt)
	if err != nil {
		return "", err
	}
	return annotator.CheckCompletion(model, out)
}

// Calls returns a copy of the recorded calls.
func (a *Annotator) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Call, len(a.calls))
	copy(out, a.calls)
	return out
}

// CallCount returns the number of Generate calls that passed validation.
func (a *Annotator) CallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

var companyRe = regexp.MustCompile(`company:\s*([^,]+)`)

// Default answers quality prompts with a label derived from the prompt text
// and everything else with a one-sentence summary.
func Default(_ context.Context, _ string, prompt string) (string, error) {
	if strings.Contains(strings.ToLower(prompt), "lead quality") {
		labels := []string{"High", "Medium", "Low"}
		h := fnv.New32a()
		_, _ = h.Write([]byte(prompt))
		return labels[h.Sum32()%uint32(len(labels))], nil
	}
	company := "The company"
	if m := companyRe.FindStringSubmatch(prompt); m != nil {
		company = strings.TrimSpace(m[1])
	}
	return company + " is an established business in its industry.\n", nil
}
