package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/palantir/lead-enrichment-pipeline/internal/app"
	"github.com/palantir/lead-enrichment-pipeline/internal/config"
	"github.com/palantir/lead-enrichment-pipeline/internal/enrich"
	"github.com/palantir/lead-enrichment-pipeline/internal/pipeline"
	"github.com/palantir/lead-enrichment-pipeline/internal/util"
	"github.com/palantir/lead-enrichment-pipeline/internal/version"
	"github.com/palantir/lead-enrichment-pipeline/pkg/pipeline/io/local"
	"github.com/urfave/cli/v2"
)

const (
	exitFailure   = 1
	exitConfig    = 2
	exitCancelled = 130
)

type session struct {
	cfg    config.Config
	logger *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rt := &session{}
	cliApp := newApp(rt, stdout, stderr)
	err := cliApp.RunContext(ctx, args)
	if err == nil {
		return 0
	}
	msg := util.RedactSecrets(err.Error())
	switch {
	case errors.Is(err, config.ErrInvalid):
		_, _ = fmt.Fprintf(stderr, "config error: %s\n", msg)
		return exitConfig
	case errors.Is(err, app.ErrCancelled):
		_, _ = fmt.Fprintf(stderr, "cancelled: %s\n", msg)
		return exitCancelled
	}
	_, _ = fmt.Fprintf(stderr, "error: %s\n", msg)
	var usage usageError
	var missing cli.RequiredFlagsErr
	if errors.As(err, &usage) || errors.As(err, &missing) {
		return exitConfig
	}
	return exitFailure
}

type usageError struct{ error }

func (e usageError) Unwrap() error { return e.error }

func newApp(rt *session, stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:           "leads",
		Usage:          "Enrich company leads with a language model and serve them over HTTP",
		Version:        version.Current,
		Writer:         stdout,
		ErrWriter:      stderr,
		ExitErrHandler: func(*cli.Context, error) {},
		OnUsageError: func(_ *cli.Context, err error, _ bool) error {
			return usageError{err}
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file; environment variables override it",
				EnvVars: []string{"LEADS_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log output format (text, json)",
			},
		},
		Before: func(c *cli.Context) error {
			return rt.setup(c, stderr)
		},
		Commands: []*cli.Command{
			{
				Name:   "load",
				Usage:  "Replace the stored leads with an already-enriched CSV",
				Action: rt.loadCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "input",
						Aliases:  []string{"i"},
						Usage:    "Enriched leads CSV (name, company, industry, size, source, summary, lead_quality)",
						Required: true,
					},
				},
			},
			{
				Name:   "enrich",
				Usage:  "Generate summaries and quality labels for raw leads and store them",
				Action: rt.enrichCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "input",
						Aliases:  []string{"i"},
						Usage:    "Raw leads CSV (company, industry and size columns are required)",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write the per-record enrichment report CSV here",
					},
					&cli.StringFlag{
						Name:  "fields",
						Usage: "Comma-separated fields to generate (summary, lead_quality)",
					},
					&cli.BoolFlag{
						Name:  "hold-partial",
						Usage: "Do not store records where any field failed",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Enrich and report without touching the store",
					},
					&cli.StringFlag{
						Name:  "checkpoint-dir",
						Usage: "Reuse and record generated values in this directory",
					},
					&cli.StringFlag{
						Name:  "model",
						Usage: "Model id passed to the annotator backend",
					},
					&cli.StringFlag{
						Name:  "backend",
						Usage: "Annotator backend (ollama, gemini, mock)",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of concurrent annotator requests",
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Retries per field for transient annotator failures",
					},
					&cli.DurationFlag{
						Name:  "request-timeout",
						Usage: "Per-request annotator timeout",
					},
					&cli.Float64Flag{
						Name:  "rate-limit-rps",
						Usage: "Global annotator request rate limit, 0 disables",
					},
				},
			},
			{
				Name:   "serve",
				Usage:  "Serve the stored leads and record user events over HTTP",
				Action: rt.serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address",
					},
				},
			},
		},
	}
}

func (rt *session) setup(c *cli.Context, stderr io.Writer) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = strings.ToLower(c.String("log-format"))
	}
	logger, err := cfg.Log.NewLogger(stderr)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	slog.SetDefault(logger)
	rt.cfg = cfg
	rt.logger = logger
	return nil
}

func (rt *session) loadCommand(c *cli.Context) error {
	if err := rt.cfg.ValidateStore(); err != nil {
		return err
	}
	st, err := app.OpenStore(c.Context, rt.cfg.Database, rt.logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		_ = st.Close()
	}()

	n, err := app.RunLoad(c.Context, local.LeadFile{Path: c.String("input")}, app.StoreOutput{Target: st}, rt.logger)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.App.Writer, "loaded %d leads\n", n)
	return nil
}

func (rt *session) enrichCommand(c *cli.Context) error {
	cfg := rt.cfg
	if c.IsSet("model") {
		cfg.Annotator.Model = c.String("model")
	}
	if c.IsSet("backend") {
		cfg.Annotator.Backend = strings.ToLower(c.String("backend"))
	}
	if c.IsSet("workers") {
		cfg.Pipeline.Workers = c.Int("workers")
	}
	if c.IsSet("max-retries") {
		cfg.Pipeline.MaxRetries = c.Int("max-retries")
	}
	if c.IsSet("request-timeout") {
		cfg.Pipeline.RequestTimeout = c.Duration("request-timeout")
	}
	if c.IsSet("rate-limit-rps") {
		cfg.Pipeline.RateLimitRPS = c.Float64("rate-limit-rps")
	}
	if c.IsSet("fields") {
		cfg.Pipeline.Fields = c.String("fields")
	}
	if c.IsSet("hold-partial") {
		cfg.Pipeline.HoldPartial = c.Bool("hold-partial")
	}
	if c.IsSet("checkpoint-dir") {
		cfg.Checkpoint = c.String("checkpoint-dir")
	}
	dryRun := c.Bool("dry-run")

	validate := cfg.Validate
	if dryRun {
		validate = func() error {
			probe := cfg
			probe.Database = config.Database{Driver: config.DriverMemory}
			return probe.Validate()
		}
	}
	if err := validate(); err != nil {
		return err
	}
	strategies, err := enrich.ParseFields(cfg.Pipeline.Fields)
	if err != nil {
		return fmt.Errorf("%w: ENRICH_FIELDS: %w", config.ErrInvalid, err)
	}

	a, err := app.NewAnnotator(c.Context, cfg.Annotator)
	if err != nil {
		return fmt.Errorf("annotator: %w", err)
	}

	var cp pipeline.Checkpointer
	if cps, err := app.OpenCheckpoint(cfg.Checkpoint); err != nil {
		return err
	} else if cps != nil {
		defer func() {
			_ = cps.Close()
		}()
		cp = cps
	}

	p, err := app.NewPipeline(cfg, a, cp, rt.logger)
	if err != nil {
		return err
	}

	params := app.EnrichParams{
		Input:       local.RawRecordFile{Path: c.String("input")},
		Strategies:  strategies,
		HoldPartial: cfg.Pipeline.HoldPartial,
		ReportPath:  c.String("output"),
	}
	if !dryRun {
		st, err := app.OpenStore(c.Context, cfg.Database, rt.logger)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer func() {
			_ = st.Close()
		}()
		params.Output = app.StoreOutput{Target: st}
	}

	report, err := app.RunEnrich(c.Context, p, params, rt.logger)
	if report.RunID != "" {
		_, _ = fmt.Fprintf(c.App.Writer,
			"run %s: %d records, %d complete, %d partial, %d pending, %d field failures\n",
			report.RunID, report.Total, report.Complete, report.Partial, report.Pending, len(report.Failures),
		)
	}
	return err
}

func (rt *session) serveCommand(c *cli.Context) error {
	cfg := rt.cfg
	if c.IsSet("addr") {
		cfg.Server.Addr = c.String("addr")
	}
	if err := cfg.ValidateStore(); err != nil {
		return err
	}
	st, err := app.OpenStore(c.Context, cfg.Database, rt.logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		_ = st.Close()
	}()
	return app.Serve(c.Context, cfg.Server, st, rt.logger)
}
