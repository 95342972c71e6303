// Package config loads fetcher settings from the environment.
//
// Values come from, in increasing precedence: built-in defaults, an optional
// .env file, process environment, command-line flags (applied by the caller
// before Validate).
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/Sternrassler/grid-series-fetcher/pkg/client"
	"github.com/Sternrassler/grid-series-fetcher/pkg/datadragon"
)

// ErrConfiguration marks errors the user must fix before anything is fetched.
var ErrConfiguration = errors.New("configuration error")

// Storage backends.
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Export formats.
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
	FormatBoth    = "both"
)

// EnvPaths are the .env locations tried in order; the first found wins.
var EnvPaths = []string{".env", "../.env"}

// Config holds all runtime settings. The env tag names the variable.
type Config struct {
	APIKey         string        `env:"GRID_API_KEY"`
	APIURL         string        `env:"GRID_API_URL" validate:"required,url"`
	OutputDir      string        `env:"GRID_OUTPUT_DIR" validate:"required"`
	Store          string        `env:"GRID_STORE" validate:"oneof=sqlite redis"`
	RedisURL       string        `env:"REDIS_URL" validate:"required_if=Store redis"`
	LogLevel       string        `env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	LogPretty      bool          `env:"LOG_PRETTY"`
	RateLimit      int           `env:"GRID_RATE_LIMIT" validate:"min=1"`
	RateWindow     time.Duration `env:"GRID_RATE_WINDOW" validate:"gt=0"`
	MinSpacing     time.Duration `env:"GRID_MIN_SPACING" validate:"gte=0"`
	MaxConcurrent  int           `env:"GRID_MAX_CONCURRENT" validate:"min=1,max=16"`
	MaxAttempts    int           `env:"GRID_MAX_ATTEMPTS" validate:"min=1,max=20"`
	RequestTimeout time.Duration `env:"GRID_REQUEST_TIMEOUT" validate:"gt=0"`
	MetricsAddr    string        `env:"METRICS_ADDR" validate:"omitempty,hostname_port"`
	Format         string        `env:"GRID_FORMAT" validate:"oneof=csv parquet both"`
	DataDragonURL  string        `env:"DATADRAGON_URL" validate:"required,url"`
}

// Default returns the built-in defaults, matching GRID's published limit of
// 20 requests per minute.
func Default() Config {
	return Config{
		APIURL:         client.DefaultEndpoint,
		OutputDir:      "output",
		Store:          StoreSQLite,
		LogLevel:       "info",
		RateLimit:      20,
		RateWindow:     time.Minute,
		MinSpacing:     3100 * time.Millisecond,
		MaxConcurrent:  2,
		MaxAttempts:    3,
		RequestTimeout: 30 * time.Second,
		Format:         FormatCSV,
		DataDragonURL:  datadragon.DefaultBaseURL,
	}
}

// LoadDotEnv loads the first .env file found in EnvPaths without overriding
// variables already set. It returns the path loaded, or "".
func LoadDotEnv() string {
	for _, path := range EnvPaths {
		if err := godotenv.Load(path); err == nil {
			return path
		}
	}
	return ""
}

// Load returns defaults overridden by the environment. It does not validate.
func Load() (Config, error) {
	return FromEnv(os.LookupEnv)
}

// FromEnv is Load with an explicit variable lookup.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	v := reflect.ValueOf(&cfg).Elem()
	t := v.Type()
	var errs []error
	for i := 0; i < t.NumField(); i++ {
		name := t.Field(i).Tag.Get("env")
		raw, ok := lookup(name)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		if err := setField(v.Field(i), strings.TrimSpace(raw)); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %v", name, raw, err))
		}
	}
	if len(errs) > 0 {
		return cfg, fmt.Errorf("%w: %w", ErrConfiguration, errors.Join(errs...))
	}
	return cfg, nil
}

func setField(f reflect.Value, raw string) error {
	switch f.Interface().(type) {
	case string:
		f.SetString(raw)
	case bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		f.SetBool(b)
	case int:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		f.SetInt(int64(n))
	case time.Duration:
		d, err := parseDuration(raw)
		if err != nil {
			return err
		}
		f.SetInt(int64(d))
	default:
		return fmt.Errorf("unsupported field type %s", f.Type())
	}
	return nil
}

// parseDuration accepts Go durations ("3.1s") and plain seconds ("3.1").
func parseDuration(raw string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(raw)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// Validate checks every setting. Errors wrap ErrConfiguration.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		msgs = append(msgs, fmt.Sprintf("%s=%v fails %s", fe.Field(), fe.Value(), rule))
	}
	return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(msgs, "; "))
}

// RequireAPIKey reports a missing credential as a configuration error.
func (c Config) RequireAPIKey() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: GRID_API_KEY is not set (use the environment, a .env file or -api-key)", ErrConfiguration)
	}
	return nil
}
