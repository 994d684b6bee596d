// Package config loads the userops configuration file.
//
// The file is YAML. It is checked against an embedded CUE schema before being
// decoded, so typos and out-of-range values are reported with their path
// instead of being silently ignored. Omitted fields take defaults.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/roach88/userops/internal/account"
	"github.com/roach88/userops/internal/cache"
	"github.com/roach88/userops/internal/history"
	"github.com/roach88/userops/internal/kv"
	"github.com/roach88/userops/internal/retry"
)

//go:embed schema.cue
var schemaSource string

// Validation error codes (E200-E209)
const (
	ErrSyntax      = "E200" // file is not valid YAML
	ErrSchema      = "E201" // value rejected by the schema
	ErrDelayBounds = "E202" // base_delay exceeds max_delay
)

// ValidationError is one problem found in a configuration file.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Errors collects every ValidationError found in one file.
type Errors []ValidationError

func (es Errors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Storage selects the durable key-value backend.
type Storage struct {
	Backend   string `yaml:"backend"`
	Path      string `yaml:"path"`
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
}

// Retry bounds receipt polling.
type Retry struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Cache bounds chat read freshness.
type Cache struct {
	MaxAge time.Duration
}

// History configures the explorer history source. An empty BaseURL disables it.
type History struct {
	BaseURL       string  `yaml:"base_url"`
	APIKey        string  `yaml:"api_key"`
	RatePerSecond float64 `yaml:"rate_per_second"`
}

// Client paces calls to the account service. Zero means unpaced.
type Client struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
}

// Config is the resolved configuration.
type Config struct {
	Storage Storage
	Retry   Retry
	Cache   Cache
	History History
	Client  Client
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Storage: Storage{Backend: kv.BackendSQLite, Path: "userops.db", RedisAddr: "localhost:6379"},
		Retry:   Retry{MaxAttempts: retry.DefaultMaxAttempts, BaseDelay: time.Second, MaxDelay: 10 * time.Second},
		Cache:   Cache{MaxAge: cache.DefaultMaxAge},
		History: History{
			BaseURL:       "https://api-sepolia.etherscan.io/api",
			RatePerSecond: history.DefaultRatePerSecond,
		},
	}
}

// file mirrors the YAML layout. Durations are strings; pointers distinguish
// omitted fields from zero values.
type file struct {
	Storage *struct {
		Backend   *string `yaml:"backend"`
		Path      *string `yaml:"path"`
		RedisAddr *string `yaml:"redis_addr"`
		RedisDB   *int    `yaml:"redis_db"`
	} `yaml:"storage"`
	Retry *struct {
		MaxAttempts *int    `yaml:"max_attempts"`
		BaseDelay   *string `yaml:"base_delay"`
		MaxDelay    *string `yaml:"max_delay"`
	} `yaml:"retry"`
	Cache *struct {
		MaxAge *string `yaml:"max_age"`
	} `yaml:"cache"`
	History *struct {
		BaseURL       *string  `yaml:"base_url"`
		APIKey        *string  `yaml:"api_key"`
		RatePerSecond *float64 `yaml:"rate_per_second"`
	} `yaml:"history"`
	Client *struct {
		RatePerSecond *float64 `yaml:"rate_per_second"`
	} `yaml:"client"`
}

// Load reads and validates the file at path. An empty path returns Default().
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse validates data and overlays it on Default().
func Parse(data []byte) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, Errors{{Field: "file", Message: err.Error(), Code: ErrSyntax}}
	}
	if errs := validateSchema(raw); len(errs) > 0 {
		return Config{}, errs
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Config{}, Errors{{Field: "file", Message: err.Error(), Code: ErrSyntax}}
	}

	cfg := Default()
	if s := f.Storage; s != nil {
		set(&cfg.Storage.Backend, s.Backend)
		set(&cfg.Storage.Path, s.Path)
		set(&cfg.Storage.RedisAddr, s.RedisAddr)
		set(&cfg.Storage.RedisDB, s.RedisDB)
	}
	if r := f.Retry; r != nil {
		set(&cfg.Retry.MaxAttempts, r.MaxAttempts)
		setDuration(&cfg.Retry.BaseDelay, r.BaseDelay)
		setDuration(&cfg.Retry.MaxDelay, r.MaxDelay)
	}
	if c := f.Cache; c != nil {
		setDuration(&cfg.Cache.MaxAge, c.MaxAge)
	}
	if h := f.History; h != nil {
		set(&cfg.History.BaseURL, h.BaseURL)
		set(&cfg.History.APIKey, h.APIKey)
		set(&cfg.History.RatePerSecond, h.RatePerSecond)
	}
	if c := f.Client; c != nil {
		set(&cfg.Client.RatePerSecond, c.RatePerSecond)
	}

	if cfg.Retry.BaseDelay > cfg.Retry.MaxDelay {
		return Config{}, Errors{{
			Field:   "retry.base_delay",
			Message: fmt.Sprintf("%s exceeds max_delay %s", cfg.Retry.BaseDelay, cfg.Retry.MaxDelay),
			Code:    ErrDelayBounds,
		}}
	}
	return cfg, nil
}

// KV returns the key-value backend options.
func (c Config) KV() kv.Options {
	return kv.Options{
		Backend:   c.Storage.Backend,
		Path:      c.Storage.Path,
		RedisAddr: c.Storage.RedisAddr,
		RedisDB:   c.Storage.RedisDB,
	}
}

// RetryPolicy returns the polling policy with exponential backoff.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		Backoff:     retry.Exponential(c.Retry.BaseDelay, c.Retry.MaxDelay),
	}
}

// AccountClient paces client at Client.RatePerSecond with a burst of one.
// A zero rate returns client unchanged.
func (c Config) AccountClient(client account.Client) account.Client {
	if c.Client.RatePerSecond <= 0 {
		return client
	}
	return account.Throttle(client, rate.Limit(c.Client.RatePerSecond), 1)
}

func validateSchema(raw map[string]any) Errors {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Errors{{Field: "schema", Message: err.Error(), Code: ErrSchema}}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(raw))
	err := v.Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var errs Errors
	for _, e := range cueerrors.Errors(err) {
		path := e.Path()
		if len(path) > 0 && path[0] == "#Config" {
			path = path[1:]
		}
		field := strings.Join(path, ".")
		if field == "" {
			field = "config"
		}
		format, args := e.Msg()
		errs = append(errs, ValidationError{
			Field:   field,
			Message: fmt.Sprintf(format, args...),
			Code:    ErrSchema,
		})
	}
	return errs
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// setDuration assumes s was already checked against the schema.
func setDuration(dst *time.Duration, s *string) {
	if s == nil {
		return
	}
	if d, err := time.ParseDuration(*s); err == nil {
		*dst = d
	}
}
