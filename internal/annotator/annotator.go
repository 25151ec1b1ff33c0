// Package annotator wraps single generative inference calls behind a small
// contract: a model id and a prompt in, raw completion text out.
//
// Implementations never retry; retry policy belongs to the caller. Failures
// are reported as *Error values carrying one of three kinds, and the kinds a
// caller may reasonably retry (Unavailable, Timeout) are additionally wrapped
// in core.TransientError.
package annotator

import (
	"context"
	"errors"
	"strings"

	"github.com/palantir/lead-enrichment-pipeline/pkg/pipeline/core"
)

// Annotator produces raw text for a prompt.
// Implementations must be safe for concurrent use.
type Annotator interface {
	// Generate returns the raw completion for prompt. Whitespace is not
	// trimmed. A successful result is never empty.
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// Func adapts a function to the Annotator interface.
type Func func(ctx context.Context, model, prompt string) (string, error)

func (f Func) Generate(ctx context.Context, model, prompt string) (string, error) {
	return f(ctx, model, prompt)
}

// CheckRequest validates the inputs every backend requires before any
// outbound call is made.
func CheckRequest(model, prompt string) error {
	if strings.TrimSpace(model) == "" {
		return NewError(KindGeneration, model, errors.New("model is required"))
	}
	if strings.TrimSpace(prompt) == "" {
		return NewError(KindGeneration, model, errors.New("prompt is empty"))
	}
	return nil
}

// CheckCompletion rejects empty completions so callers never see an empty
// success.
func CheckCompletion(model, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", NewError(KindGeneration, model, errors.New("empty completion"))
	}
	return text, nil
}

// Kind classifies an annotator failure.
type Kind int

const (
	KindGeneration Kind = iota
	KindUnavailable
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "annotator_unavailable"
	case KindTimeout:
		return "generation_timeout"
	default:
		return "generation_error"
	}
}

var (
	// ErrUnavailable matches failures where the backing model could not be reached.
	ErrUnavailable = errors.New("annotator unavailable")
	// ErrTimeout matches failures where no response arrived within the allowed wait.
	ErrTimeout = errors.New("generation timeout")
	// ErrGeneration matches any other backend-reported failure.
	ErrGeneration = errors.New("generation error")
)

// Error is a classified annotator failure.
type Error struct {
	Kind  Kind
	Model string
	Err   error
}

// NewError builds a classified error. Unavailable and Timeout errors are
// wrapped in core.TransientError so worker pools retry them.
func NewError(kind Kind, model string, err error) error {
	e := &Error{Kind: kind, Model: strings.TrimSpace(model), Err: err}
	if kind == KindUnavailable || kind == KindTimeout {
		return &core.TransientError{Err: e}
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return "annotator error"
	}
	msg := e.sentinel().Error()
	if e.Model != "" {
		msg += " (model " + e.Model + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Err == nil {
		return []error{e.sentinel()}
	}
	return []error{e.sentinel(), e.Err}
}

func (e *Error) sentinel() error {
	switch e.Kind {
	case KindUnavailable:
		return ErrUnavailable
	case KindTimeout:
		return ErrTimeout
	default:
		return ErrGeneration
	}
}

// KindOf extracts the failure kind from err, if it carries one.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Classify maps transport-level failures shared by all HTTP backends onto the
// three failure kinds. Caller cancellation is returned unchanged.
func Classify(ctx context.Context, model string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := KindOf(err); ok {
		return err
	}
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimeout, model, err)
	}
	if isUnreachable(err) {
		return NewError(KindUnavailable, model, err)
	}
	if isNetTimeout(err) {
		return NewError(KindTimeout, model, err)
	}
	return NewError(KindGeneration, model, err)
}
