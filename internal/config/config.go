// Package config loads the run configuration of the splitter.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"vrpsplit/internal/kmeans"
	"vrpsplit/internal/opt"
	"vrpsplit/internal/zip"
)

const maxFileSize = 1 << 20

// Methods accepted by Method.
const (
	MethodKmeans       = "kmeans"
	MethodHierarchical = "hierarchical"
)

// Store kinds.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config is a run configuration. Unset fields fall back to the defaults
// returned by the Get* methods, so partial files are safe.
type Config struct {
	Method *string `yaml:"method,omitempty"`
	// Clusters defaults to one per vehicle.
	Clusters                 *int     `yaml:"clusters,omitempty"`
	CutSymbol                *string  `yaml:"cut_symbol,omitempty"`
	Restarts                 *int     `yaml:"restarts,omitempty"`
	MaxIterations            *int     `yaml:"max_iterations,omitempty"`
	Workers                  *int     `yaml:"workers,omitempty"`
	Seed                     *int64   `yaml:"seed,omitempty"`
	StrictLimits             *bool    `yaml:"strict_limits,omitempty"`
	OnEmpty                  *string  `yaml:"on_empty,omitempty"`
	LastIterationBalanceRate *float64 `yaml:"last_iteration_balance_rate,omitempty"`
	// ZipItems merges services a few meters apart before partitioning.
	ZipItems *bool `yaml:"zip_items,omitempty"`

	Zip     ZipConfig     `yaml:"zip,omitempty"`
	Anneal  AnnealConfig  `yaml:"anneal,omitempty"`
	Storage StorageConfig `yaml:"storage,omitempty"`
}

type ZipConfig struct {
	Threshold *float64 `yaml:"threshold,omitempty"`
	Force     *bool    `yaml:"force,omitempty"`
	Dimension *string  `yaml:"dimension,omitempty"`
}

type AnnealConfig struct {
	InitialTemp *float64 `yaml:"initial_temp,omitempty"`
	Cooling     *float64 `yaml:"cooling,omitempty"`
	Iterations  *int     `yaml:"iterations,omitempty"`
}

type StorageConfig struct {
	Kind        *string `yaml:"kind,omitempty"`
	DatabaseURL *string `yaml:"database_url,omitempty"`
	RedisURL    *string `yaml:"redis_url,omitempty"`
}

func ptr[T any](v T) *T { return &v }

// Load reads a YAML (or JSON) configuration file and validates it.
func Load(path string) (*Config, error) {
	clean := filepath.Clean(path)
	switch ext := filepath.Ext(clean); ext {
	case ".yaml", ".yml", ".json":
	default:
		return nil, fmt.Errorf("config file must be .yaml, .yml or .json, got %q", ext)
	}
	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	f, err := os.Open(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses a configuration. Unknown keys are rejected.
func Decode(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv loads a .env file when present and lets DATABASE_URL, REDIS_URL
// and VRPSPLIT_WORKERS override the file values.
func (c *Config) ApplyEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load env: %w", err)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.DatabaseURL = ptr(v)
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Storage.RedisURL = ptr(v)
	}
	if v := os.Getenv("VRPSPLIT_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("VRPSPLIT_WORKERS: %w", err)
		}
		c.Workers = ptr(n)
	}
	return c.Validate()
}

// Validate checks the values that are set.
func (c *Config) Validate() error {
	if c.Method != nil && *c.Method != MethodKmeans && *c.Method != MethodHierarchical {
		return fmt.Errorf("method must be %q or %q, got %q", MethodKmeans, MethodHierarchical, *c.Method)
	}
	for name, v := range map[string]*int{"clusters": c.Clusters, "restarts": c.Restarts, "max_iterations": c.MaxIterations, "workers": c.Workers} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, *v)
		}
	}
	if c.OnEmpty != nil {
		switch kmeans.OnEmpty(*c.OnEmpty) {
		case kmeans.Terminate, kmeans.Eliminate, kmeans.Random, kmeans.Indices:
		default:
			return fmt.Errorf("unknown on_empty policy %q", *c.OnEmpty)
		}
	}
	if r := c.LastIterationBalanceRate; r != nil && (*r < 0 || *r > 1) {
		return fmt.Errorf("last_iteration_balance_rate must be between 0 and 1, got %f", *r)
	}
	if t := c.Zip.Threshold; t != nil && *t < 0 {
		return fmt.Errorf("zip threshold must be non-negative, got %f", *t)
	}
	if d := c.Zip.Dimension; d != nil {
		switch zip.Dimension(*d) {
		case zip.Time, zip.Distance, zip.Value:
		default:
			return fmt.Errorf("unknown zip dimension %q", *d)
		}
	}
	if v := c.Anneal.Cooling; v != nil && (*v <= 0 || *v >= 1) {
		return fmt.Errorf("anneal cooling must be in (0, 1), got %f", *v)
	}
	if v := c.Anneal.InitialTemp; v != nil && *v <= 0 {
		return fmt.Errorf("anneal initial_temp must be positive, got %f", *v)
	}
	if v := c.Anneal.Iterations; v != nil && *v < 0 {
		return fmt.Errorf("anneal iterations must be non-negative, got %d", *v)
	}
	if k := c.Storage.Kind; k != nil {
		switch *k {
		case StoreMemory:
		case StorePostgres:
			if c.Storage.DatabaseURL == nil || *c.Storage.DatabaseURL == "" {
				return errors.New("postgres storage needs database_url or DATABASE_URL")
			}
		case StoreRedis:
			if c.Storage.RedisURL == nil || *c.Storage.RedisURL == "" {
				return errors.New("redis storage needs redis_url or REDIS_URL")
			}
		default:
			return fmt.Errorf("unknown storage kind %q", *k)
		}
	}
	return nil
}

func (c *Config) GetMethod() string {
	if c.Method == nil {
		return MethodKmeans
	}
	return *c.Method
}

// GetClusters returns 0 when unset: one cluster per vehicle.
func (c *Config) GetClusters() int {
	if c.Clusters == nil {
		return 0
	}
	return *c.Clusters
}

func (c *Config) GetCutSymbol() string {
	if c.CutSymbol == nil {
		return kmeans.DurationUnit
	}
	return *c.CutSymbol
}

func (c *Config) GetRestarts() int {
	if c.Restarts == nil {
		return 10
	}
	return *c.Restarts
}

func (c *Config) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return 300
	}
	return *c.MaxIterations
}

func (c *Config) GetWorkers() int {
	if c.Workers == nil {
		return 4
	}
	return *c.Workers
}

func (c *Config) GetSeed() int64 {
	if c.Seed == nil {
		return 1
	}
	return *c.Seed
}

func (c *Config) GetStrictLimits() bool {
	return c.StrictLimits != nil && *c.StrictLimits
}

func (c *Config) GetOnEmpty() kmeans.OnEmpty {
	if c.OnEmpty == nil {
		return kmeans.Eliminate
	}
	return kmeans.OnEmpty(*c.OnEmpty)
}

func (c *Config) GetZipItems() bool {
	return c.ZipItems == nil || *c.ZipItems
}

// ZipOptions returns the service zip options. The threshold defaults to 0:
// only services at the same place are merged.
func (c *Config) ZipOptions() zip.Options {
	o := zip.Options{Dimension: zip.Time}
	if c.Zip.Threshold != nil {
		o.Threshold = *c.Zip.Threshold
	}
	if c.Zip.Force != nil {
		o.Force = *c.Zip.Force
	}
	if c.Zip.Dimension != nil {
		o.Dimension = zip.Dimension(*c.Zip.Dimension)
	}
	return o
}

// Annealing returns the reorder schedule seeded with the run seed.
func (c *Config) Annealing() opt.Annealing {
	a := opt.DefaultAnnealing()
	if c.Anneal.InitialTemp != nil {
		a.InitialTemp = *c.Anneal.InitialTemp
	}
	if c.Anneal.Cooling != nil {
		a.Cooling = *c.Anneal.Cooling
	}
	if c.Anneal.Iterations != nil {
		a.Iterations = *c.Anneal.Iterations
	}
	a.Seed = c.GetSeed()
	return a
}

func (c *Config) GetStorageKind() string {
	if c.Storage.Kind == nil {
		return StoreMemory
	}
	return *c.Storage.Kind
}

func (c *Config) GetDatabaseURL() string {
	if c.Storage.DatabaseURL == nil {
		return ""
	}
	return *c.Storage.DatabaseURL
}

func (c *Config) GetRedisURL() string {
	if c.Storage.RedisURL == nil {
		return ""
	}
	return *c.Storage.RedisURL
}
