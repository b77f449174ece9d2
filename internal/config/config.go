package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"gocutoff/domain/core"
	"gocutoff/domain/threshold"
	"gocutoff/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Data     DataConfig     `yaml:"data"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
}

// EngineConfig holds threshold engine settings
type EngineConfig struct {
	Percentile            *float64           `yaml:"percentile" validate:"omitempty,gte=0,lte=100"`
	UpperPercentile       *float64           `yaml:"upper_percentile" validate:"omitempty,gte=0,lte=100"`
	StepPercentile        float64            `yaml:"step_percentile" validate:"gt=0,lte=100"`
	MinNbSamples          int                `yaml:"min_nb_samples" validate:"gte=0"`
	NoiseLevel            *float64           `yaml:"noise_level"`
	MinReferenceThreshold map[string]float64 `yaml:"min_reference_threshold"`
	ReferenceMethod       string             `yaml:"reference_method" validate:"oneof=max mean mean_nstd"`
	ReferenceNStd         float64            `yaml:"reference_n_std" validate:"gte=0"`
	NbFolds               int                `yaml:"nb_folds" validate:"gte=2"`
	NbCrossValidations    int                `yaml:"nb_cross_validations" validate:"gte=1"`
	Seed                  int64              `yaml:"seed"`
	FitTimeout            time.Duration      `yaml:"fit_timeout" validate:"gte=0"`
	Workers               int                `yaml:"workers" validate:"gte=1"`
	Model                 string             `yaml:"model" validate:"oneof=cox logrank"`
	SelectionPolicy       string             `yaml:"selection_policy" validate:"oneof=max_rate majority full_fit"`
	FoldSubset            string             `yaml:"fold_subset" validate:"oneof=test train"`
}

// DataConfig holds input table locations and column selectors
type DataConfig struct {
	ExpressionFile string `yaml:"expression_file"`
	ClinicalFile   string `yaml:"clinical_file"`
	NormalFile     string `yaml:"normal_file"`
	Sheet          string `yaml:"sheet"`
	SampleCol      string `yaml:"sample_col"`
	DurationCol    string `yaml:"duration_col" validate:"required"`
	EventCol       string `yaml:"event_col" validate:"required"`
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port string `yaml:"port" validate:"required,numeric"`
}

// DatabaseConfig holds database connection settings. An empty URL disables persistence.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns" validate:"gte=0"`
}

var validate = validator.New()

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	opts := threshold.DefaultOptions()
	return &Config{
		Engine: EngineConfig{
			StepPercentile:     opts.StepPercentile,
			ReferenceMethod:    "mean",
			ReferenceNStd:      2,
			NbFolds:            opts.NbFolds,
			NbCrossValidations: opts.NbCrossValidations,
			Seed:               opts.Seed,
			FitTimeout:         opts.FitTimeout,
			Workers:            runtime.GOMAXPROCS(0),
			Model:              "cox",
			SelectionPolicy:    string(opts.Policy),
			FoldSubset:         string(opts.FoldSubset),
		},
		Data: DataConfig{
			DurationCol: "time",
			EventCol:    "event",
		},
		Server: ServerConfig{
			Port: "8080",
		},
		Database: DatabaseConfig{
			MaxOpenConns: 10,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, in that order, and validates the result.
func Load(path string) (*Config, error) {
	config, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

// Read is Load without validation, for callers that apply further overrides first
func Read(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, errors.WithCode(errors.CodeConfigInvalid, fmt.Errorf("parse %s: %w", path, err))
		}
	}

	if err := applyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks field constraints and that each bound direction has a source
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, err)
	}

	e := c.Engine
	hasReference := len(e.MinReferenceThreshold) > 0 || c.Data.NormalFile != ""
	if e.Percentile == nil && e.MinNbSamples == 0 && e.NoiseLevel == nil && !hasReference {
		return errors.ConfigInvalid("no lower-bound source: set percentile, min_nb_samples, noise_level or a reference")
	}
	if e.Percentile == nil && e.UpperPercentile == nil && e.MinNbSamples == 0 {
		return errors.ConfigInvalid("no upper-bound source: set percentile, upper_percentile or min_nb_samples")
	}
	return nil
}

// EngineOptions converts the engine section into run options
func (c *Config) EngineOptions() threshold.Options {
	e := c.Engine
	opts := threshold.Options{
		LowerPercentile:    e.Percentile,
		UpperPercentile:    e.UpperPercentile,
		StepPercentile:     e.StepPercentile,
		MinNbSamples:       e.MinNbSamples,
		NoiseLevel:         e.NoiseLevel,
		NbFolds:            e.NbFolds,
		NbCrossValidations: e.NbCrossValidations,
		Seed:               e.Seed,
		FitTimeout:         e.FitTimeout,
		Workers:            e.Workers,
		Policy:             threshold.SelectionPolicy(e.SelectionPolicy),
		FoldSubset:         threshold.FoldSubset(e.FoldSubset),
	}
	if len(e.MinReferenceThreshold) > 0 {
		opts.MinReferenceThreshold = make(map[core.FeatureKey]float64, len(e.MinReferenceThreshold))
		for k, v := range e.MinReferenceThreshold {
			opts.MinReferenceThreshold[core.FeatureKey(k)] = v
		}
	}
	return opts
}

func applyEnv(c *Config) error {
	var err error
	e := &c.Engine

	if e.Percentile, err = getEnvFloatPtr("PERCENTILE", e.Percentile); err != nil {
		return err
	}
	if e.UpperPercentile, err = getEnvFloatPtr("UPPER_PERCENTILE", e.UpperPercentile); err != nil {
		return err
	}
	if e.NoiseLevel, err = getEnvFloatPtr("NOISE_LEVEL", e.NoiseLevel); err != nil {
		return err
	}
	e.StepPercentile = getEnvFloatOrDefault("STEP_PERCENTILE", e.StepPercentile)
	e.MinNbSamples = getEnvIntOrDefault("MIN_NB_SAMPLES", e.MinNbSamples)
	e.ReferenceMethod = getEnvOrDefault("REFERENCE_METHOD", e.ReferenceMethod)
	e.ReferenceNStd = getEnvFloatOrDefault("REFERENCE_N_STD", e.ReferenceNStd)
	e.NbFolds = getEnvIntOrDefault("NB_FOLDS", e.NbFolds)
	e.NbCrossValidations = getEnvIntOrDefault("NB_CROSS_VALIDATIONS", e.NbCrossValidations)
	e.Seed = int64(getEnvIntOrDefault("SEED", int(e.Seed)))
	e.FitTimeout = getEnvDurationOrDefault("FIT_TIMEOUT", e.FitTimeout)
	e.Workers = getEnvIntOrDefault("WORKERS", e.Workers)
	e.Model = strings.ToLower(getEnvOrDefault("SURVIVAL_MODEL", e.Model))
	e.SelectionPolicy = getEnvOrDefault("SELECTION_POLICY", e.SelectionPolicy)
	e.FoldSubset = getEnvOrDefault("FOLD_SUBSET", e.FoldSubset)

	d := &c.Data
	d.ExpressionFile = getEnvOrDefault("EXPRESSION_FILE", d.ExpressionFile)
	d.ClinicalFile = getEnvOrDefault("CLINICAL_FILE", d.ClinicalFile)
	d.NormalFile = getEnvOrDefault("NORMAL_FILE", d.NormalFile)
	d.Sheet = getEnvOrDefault("SHEET", d.Sheet)
	d.SampleCol = getEnvOrDefault("SAMPLE_COL", d.SampleCol)
	d.DurationCol = getEnvOrDefault("DURATION_COL", d.DurationCol)
	d.EventCol = getEnvOrDefault("EVENT_COL", d.EventCol)

	c.Server.Port = getEnvOrDefault("PORT", c.Server.Port)
	c.Database.URL = getEnvOrDefault("DATABASE_URL", c.Database.URL)
	c.Database.MaxOpenConns = getEnvIntOrDefault("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvFloatPtr overrides an optional float; a malformed value is an error
// because silently dropping it would remove a bound source.
func getEnvFloatPtr(key string, current *float64) (*float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return current, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, errors.ConfigInvalid(fmt.Sprintf("%s=%q is not a number", key, value))
	}
	return &f, nil
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
