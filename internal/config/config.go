// Package config loads process configuration from defaults, an optional YAML
// file and the environment, in that order of precedence (lowest first).
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure so callers can map it to a
// configuration exit status.
var ErrInvalid = errors.New("invalid configuration")

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"

	BackendOllama = "ollama"
	BackendGemini = "gemini"
	BackendMock   = "mock"
)

type Config struct {
	Database   Database  `yaml:"database"`
	Annotator  Annotator `yaml:"annotator"`
	Pipeline   Pipeline  `yaml:"pipeline"`
	Server     Server    `yaml:"server"`
	Log        Log       `yaml:"log"`
	Checkpoint string    `yaml:"checkpoint_dir"`
}

type Database struct {
	Driver          string        `yaml:"driver"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	SSLMode         string        `yaml:"sslmode"`
	Path            string        `yaml:"path"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type Annotator struct {
	Backend     string  `yaml:"backend"`
	Model       string  `yaml:"model"`
	Host        string  `yaml:"host"`
	APIKey      string  `yaml:"-"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
}

type Pipeline struct {
	Workers        int           `yaml:"workers"`
	MaxRetries     int           `yaml:"max_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	Fields         string        `yaml:"fields"`
	HoldPartial    bool          `yaml:"hold_partial"`
}

type Server struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	APIToken        string        `yaml:"-"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing overrides it. The
// database host, user and name and the annotator model have no defaults.
func Default() Config {
	return Config{
		Database: Database{
			Driver:          DriverPostgres,
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Annotator: Annotator{
			Backend: BackendOllama,
		},
		Pipeline: Pipeline{
			Workers:        4,
			MaxRetries:     2,
			RequestTimeout: 30 * time.Second,
		},
		Server: Server{
			Addr:            ":8000",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path (if non-empty) over the defaults and then applies the
// process environment.
func Load(path string) (Config, error) {
	return LoadWith(path, os.Getenv)
}

// LoadWith is Load with an injectable environment lookup.
func LoadWith(path string, getenv func(string) string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("%w: read config file: %w", ErrInvalid, err)
		}
		defer func() {
			_ = f.Close()
		}()
		if err := decodeYAML(f, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parse config file %s: %w", ErrInvalid, path, err)
		}
	}
	if err := applyEnv(&cfg, env(getenv)); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks every section.
func (c Config) Validate() error {
	return join(c.Database.problems(), c.Annotator.problems(), c.Pipeline.problems(), c.Log.problems())
}

// ValidateStore checks only what a command touching the record store needs.
func (c Config) ValidateStore() error {
	return join(c.Database.problems(), c.Log.problems())
}

func join(groups ...[]error) error {
	var all []error
	for _, g := range groups {
		all = append(all, g...)
	}
	if len(all) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(all...))
}

func (d Database) problems() []error {
	var errs []error
	switch d.Driver {
	case DriverPostgres:
		if strings.TrimSpace(d.Host) == "" {
			errs = append(errs, errors.New("DB_HOST is required for postgres"))
		}
		if d.Port <= 0 || d.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT %d is out of range", d.Port))
		}
		if strings.TrimSpace(d.User) == "" {
			errs = append(errs, errors.New("DB_USER is required for postgres"))
		}
		if strings.TrimSpace(d.Name) == "" {
			errs = append(errs, errors.New("DB_NAME is required for postgres"))
		}
	case DriverSQLite:
		if strings.TrimSpace(d.Path) == "" {
			errs = append(errs, errors.New("DB_PATH is required for sqlite"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q must be one of postgres, sqlite, memory", d.Driver))
	}
	if d.MaxOpenConns < 0 || d.MaxIdleConns < 0 {
		errs = append(errs, errors.New("DB_MAX_OPEN_CONNS and DB_MAX_IDLE_CONNS must not be negative"))
	}
	return errs
}

func (a Annotator) problems() []error {
	var errs []error
	switch a.Backend {
	case BackendOllama, BackendGemini:
		if strings.TrimSpace(a.Model) == "" {
			errs = append(errs, fmt.Errorf("ANNOTATOR_MODEL is required for the %s backend", a.Backend))
		}
	case BackendMock:
	default:
		errs = append(errs, fmt.Errorf("ANNOTATOR_BACKEND %q must be one of ollama, gemini, mock", a.Backend))
	}
	if a.Backend == BackendGemini && strings.TrimSpace(a.APIKey) == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY is required for the gemini backend"))
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		errs = append(errs, fmt.Errorf("ANNOTATOR_TEMPERATURE %g must be within [0, 2]", a.Temperature))
	}
	return errs
}

func (p Pipeline) problems() []error {
	var errs []error
	if p.Workers < 1 {
		errs = append(errs, fmt.Errorf("WORKERS %d must be at least 1", p.Workers))
	}
	if p.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("MAX_RETRIES %d must not be negative", p.MaxRetries))
	}
	if p.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("REQUEST_TIMEOUT %s must be positive", p.RequestTimeout))
	}
	if p.RateLimitRPS < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS %g must not be negative", p.RateLimitRPS))
	}
	return errs
}

func (l Log) problems() []error {
	var errs []error
	if _, err := l.level(); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(l.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q must be text or json", l.Format))
	}
	return errs
}

func (l Log) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(l.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q must be debug, info, warn or error", l.Level)
	}
	return lvl, nil
}

// NewLogger builds the process logger writing to w.
func (l Log) NewLogger(w io.Writer) (*slog.Logger, error) {
	lvl, err := l.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// PostgresURL renders the lib/pq connection URL.
func (d Database) PostgresURL() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Name,
	}
	if d.Password != "" {
		u.User = url.UserPassword(d.User, d.Password)
	} else {
		u.User = url.User(d.User)
	}
	q := url.Values{}
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
