package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type env func(string) string

func (e env) strVar(name string, dst *string) {
	if v := strings.TrimSpace(e(name)); v != "" {
		*dst = v
	}
}

func (e env) intVar(name string, dst *int) error {
	v := strings.TrimSpace(e(name))
	if v == "" {
		return nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s=%q: %w", name, v, err)
	}
	*dst = out
	return nil
}

func (e env) floatVar(name string, dst *float64) error {
	v := strings.TrimSpace(e(name))
	if v == "" {
		return nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid %s=%q: %w", name, v, err)
	}
	*dst = out
	return nil
}

func (e env) durationVar(name string, dst *time.Duration) error {
	v := strings.TrimSpace(e(name))
	if v == "" {
		return nil
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s=%q: %w", name, v, err)
	}
	*dst = out
	return nil
}

func (e env) boolVar(name string, dst *bool) error {
	v := strings.TrimSpace(e(name))
	if v == "" {
		return nil
	}
	out, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s=%q: %w", name, v, err)
	}
	*dst = out
	return nil
}

func (e env) listVar(name string, dst *[]string) {
	v := strings.TrimSpace(e(name))
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func applyEnv(c *Config, e env) error {
	e.strVar("DB_DRIVER", &c.Database.Driver)
	e.strVar("DB_HOST", &c.Database.Host)
	e.strVar("DB_USER", &c.Database.User)
	e.strVar("DB_PASSWORD", &c.Database.Password)
	e.strVar("DB_NAME", &c.Database.Name)
	e.strVar("DB_SSLMODE", &c.Database.SSLMode)
	e.strVar("DB_PATH", &c.Database.Path)

	e.strVar("ANNOTATOR_BACKEND", &c.Annotator.Backend)
	e.strVar("ANNOTATOR_MODEL", &c.Annotator.Model)
	e.strVar("OLLAMA_HOST", &c.Annotator.Host)
	e.strVar("GEMINI_API_KEY", &c.Annotator.APIKey)
	e.strVar("GEMINI_BASE_URL", &c.Annotator.BaseURL)

	e.strVar("ENRICH_FIELDS", &c.Pipeline.Fields)
	e.strVar("CHECKPOINT_DIR", &c.Checkpoint)

	e.strVar("HTTP_ADDR", &c.Server.Addr)
	e.strVar("API_TOKEN", &c.Server.APIToken)
	e.listVar("CORS_ALLOWED_ORIGINS", &c.Server.CORSOrigins)

	e.strVar("LOG_LEVEL", &c.Log.Level)
	e.strVar("LOG_FORMAT", &c.Log.Format)

	c.Database.Driver = strings.ToLower(c.Database.Driver)
	c.Annotator.Backend = strings.ToLower(c.Annotator.Backend)

	return errors.Join(
		e.intVar("DB_PORT", &c.Database.Port),
		e.intVar("DB_MAX_OPEN_CONNS", &c.Database.MaxOpenConns),
		e.intVar("DB_MAX_IDLE_CONNS", &c.Database.MaxIdleConns),
		e.durationVar("DB_CONN_MAX_LIFETIME", &c.Database.ConnMaxLifetime),
		e.floatVar("ANNOTATOR_TEMPERATURE", &c.Annotator.Temperature),
		e.intVar("WORKERS", &c.Pipeline.Workers),
		e.intVar("MAX_RETRIES", &c.Pipeline.MaxRetries),
		e.durationVar("REQUEST_TIMEOUT", &c.Pipeline.RequestTimeout),
		e.floatVar("RATE_LIMIT_RPS", &c.Pipeline.RateLimitRPS),
		e.boolVar("HOLD_PARTIAL", &c.Pipeline.HoldPartial),
		e.durationVar("HTTP_READ_TIMEOUT", &c.Server.ReadTimeout),
		e.durationVar("HTTP_WRITE_TIMEOUT", &c.Server.WriteTimeout),
		e.durationVar("HTTP_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout),
	)
}
