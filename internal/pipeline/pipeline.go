// Package pipeline runs field enrichment strategies over a batch of raw lead
// records and folds the per-call outcomes into an ordered Report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/palantir/lead-enrichment-pipeline/internal/enrich"
	"github.com/palantir/lead-enrichment-pipeline/internal/lead"
	"github.com/palantir/lead-enrichment-pipeline/pkg/pipeline/worker"
)

var (
	ErrNoStrategies      = errors.New("pipeline: at least one strategy is required")
	ErrDuplicateStrategy = errors.New("pipeline: duplicate strategy field")
	errNoEnricher        = errors.New("pipeline: enricher is required")
)

// FieldEnricher produces one field value for one record.
type FieldEnricher interface {
	Enrich(ctx context.Context, s enrich.Strategy, rec lead.RawRecord) (enrich.Value, error)
	Model() string
}

// Checkpointer stores field values already produced for a given prompt.
type Checkpointer interface {
	Lookup(ctx context.Context, model, field, prompt string) (string, bool, error)
	Save(ctx context.Context, model, field, prompt, value string) error
}

// Progress is reported after every finished unit, in completion order.
type Progress struct {
	Done   int
	Total  int
	Failed int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithWorkers(n int) Option {
	return func(p *Pipeline) { p.opts.Workers = n }
}

func WithMaxRetries(n int) Option {
	return func(p *Pipeline) { p.opts.MaxRetries = n }
}

func WithRequestTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.opts.RequestTimeout = d }
}

// WithRateLimit caps annotator calls per second across all workers.
func WithRateLimit(rps float64) Option {
	return func(p *Pipeline) { p.opts.RateLimitRPS = rps }
}

func WithBackoff(initial, maxSleep time.Duration, jitterFrac float64) Option {
	return func(p *Pipeline) {
		p.opts.BackoffInitial = initial
		p.opts.BackoffMax = maxSleep
		p.opts.BackoffJitterFrac = jitterFrac
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithProgress(fn func(Progress)) Option {
	return func(p *Pipeline) { p.progress = fn }
}

// WithCheckpoint reuses values saved by earlier runs and saves new ones.
func WithCheckpoint(c Checkpointer) Option {
	return func(p *Pipeline) { p.checkpoint = c }
}

// Pipeline is a configured batch enrichment runner. It never writes to the
// record store; callers persist Report.Leads themselves.
type Pipeline struct {
	enricher   FieldEnricher
	opts       worker.Options
	logger     *slog.Logger
	progress   func(Progress)
	checkpoint Checkpointer
	now        func() time.Time
}

func New(e FieldEnricher, options ...Option) (*Pipeline, error) {
	if e == nil {
		return nil, errNoEnricher
	}
	p := &Pipeline{
		enricher: e,
		opts: worker.Options{
			Workers:           4,
			MaxRetries:        2,
			RequestTimeout:    30 * time.Second,
			BackoffInitial:    200 * time.Millisecond,
			BackoffMax:        2 * time.Second,
			BackoffJitterFrac: 0.2,
		},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range options {
		opt(p)
	}
	return p, nil
}

type runIDKey struct{}

// RunIDFromContext returns the id of the run that issued an annotator call.
func RunIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)
	return id, ok
}

type unitKey struct{}

// Unit identifies the record and field an annotator call is made for.
type Unit struct {
	RecordID int64
	Field    enrich.Field
}

// UnitFromContext returns the record and field that issued an annotator call.
func UnitFromContext(ctx context.Context) (Unit, bool) {
	u, ok := ctx.Value(unitKey{}).(Unit)
	return u, ok
}

type unit struct {
	record   int
	strategy int
}

type unitOutput struct {
	value  enrich.Value
	cached bool
}

// Run enriches every record with every strategy.
//
// Records appear in the report in input order and failures are ordered by
// record then strategy, whatever order the calls finished in. When ctx is
// cancelled no further calls are started, in-flight calls see the cancelled
// context, and Run returns the report gathered so far with Cancelled set and
// a nil error.
func (p *Pipeline) Run(ctx context.Context, records []lead.RawRecord, strategies []enrich.Strategy) (Report, error) {
	if err := checkStrategies(strategies); err != nil {
		return Report{}, err
	}

	runID := uuid.NewString()
	ctx = context.WithValue(ctx, runIDKey{}, runID)
	model := p.enricher.Model()
	logger := p.logger.With("run_id", runID, "model", model)
	started := p.now()

	units := make([]unit, 0, len(records)*len(strategies))
	for i := range records {
		for j := range strategies {
			units = append(units, unit{record: i, strategy: j})
		}
	}

	logger.Info("enrichment run start",
		"records", len(records),
		"fields", fieldNames(strategies),
		"workers", p.opts.Workers,
		"max_retries", p.opts.MaxRetries,
		"request_timeout", p.opts.RequestTimeout,
		"rate_limit_rps", p.opts.RateLimitRPS,
		"checkpoint", p.checkpoint != nil,
	)

	process := func(ctx context.Context, u unit) (unitOutput, error) {
		ctx = context.WithValue(ctx, unitKey{}, Unit{RecordID: records[u.record].ID, Field: strategies[u.strategy].Field()})
		return p.runUnit(ctx, logger, model, strategies[u.strategy], records[u.record])
	}

	var mu sync.Mutex
	done, failed := 0, 0
	logEvery := max(1, len(units)/10)
	onResult := func(res worker.Result[unit, unitOutput]) error {
		mu.Lock()
		done++
		if res.Err != nil && !res.Interrupted {
			failed++
		}
		pr := Progress{Done: done, Total: len(units), Failed: failed}
		mu.Unlock()

		if pr.Done%logEvery == 0 || pr.Done == pr.Total {
			logger.Info("enrichment progress", "done", pr.Done, "total", pr.Total, "failed", pr.Failed)
		}
		if p.progress != nil {
			p.progress(pr)
		}
		return nil
	}

	results, err := worker.ProcessAllWithCallback(ctx, units, process, onResult, p.opts)
	cancelled := false
	if err != nil {
		if ctx.Err() == nil || results == nil {
			return Report{}, fmt.Errorf("pipeline: %w", err)
		}
		cancelled = true
	}
	for _, res := range results {
		if res.Interrupted {
			cancelled = true
			break
		}
	}

	report := fold(records, strategies, results)
	report.RunID = runID
	report.Model = model
	report.Cancelled = cancelled
	report.StartedAt = started
	report.Duration = p.now().Sub(started)

	level := slog.LevelInfo
	if cancelled {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "enrichment run finished",
		"total", report.Total,
		"complete", report.Complete,
		"partial", report.Partial,
		"pending", report.Pending,
		"failures", len(report.Failures),
		"cancelled", cancelled,
		"duration", report.Duration.Round(time.Millisecond),
	)
	return report, nil
}

func (p *Pipeline) runUnit(ctx context.Context, logger *slog.Logger, model string, s enrich.Strategy, rec lead.RawRecord) (unitOutput, error) {
	var prompt string
	if p.checkpoint != nil {
		prompt = s.Prompt(rec)
		raw, ok, err := p.checkpoint.Lookup(ctx, model, string(s.Field()), prompt)
		if err != nil {
			logger.Warn("checkpoint lookup failed", "record_id", rec.ID, "field", s.Field(), "error", err)
		}
		if ok {
			if v, err := s.Normalize(raw); err == nil {
				return unitOutput{value: v, cached: true}, nil
			}
		}
	}

	v, err := p.enricher.Enrich(ctx, s, rec)
	if err != nil {
		return unitOutput{value: v}, err
	}
	if p.checkpoint != nil {
		if err := p.checkpoint.Save(ctx, model, string(s.Field()), prompt, v.Text); err != nil {
			logger.Warn("checkpoint save failed", "record_id", rec.ID, "field", s.Field(), "error", err)
		}
	}
	return unitOutput{value: v}, nil
}

func checkStrategies(strategies []enrich.Strategy) error {
	if len(strategies) == 0 {
		return ErrNoStrategies
	}
	seen := make(map[enrich.Field]bool, len(strategies))
	for _, s := range strategies {
		if s == nil {
			return ErrNoStrategies
		}
		if seen[s.Field()] {
			return fmt.Errorf("%w: %s", ErrDuplicateStrategy, s.Field())
		}
		seen[s.Field()] = true
	}
	return nil
}

func fieldNames(strategies []enrich.Strategy) []string {
	out := make([]string, len(strategies))
	for i, s := range strategies {
		out[i] = string(s.Field())
	}
	return out
}
