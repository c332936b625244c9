package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrpsplit/internal/kmeans"
	"vrpsplit/internal/zip"
)

func TestDefaults(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, MethodKmeans, cfg.GetMethod())
	assert.Equal(t, 0, cfg.GetClusters())
	assert.Equal(t, kmeans.DurationUnit, cfg.GetCutSymbol())
	assert.Equal(t, 10, cfg.GetRestarts())
	assert.Equal(t, 300, cfg.GetMaxIterations())
	assert.Equal(t, 4, cfg.GetWorkers())
	assert.Equal(t, int64(1), cfg.GetSeed())
	assert.False(t, cfg.GetStrictLimits())
	assert.Equal(t, kmeans.Eliminate, cfg.GetOnEmpty())
	assert.True(t, cfg.GetZipItems())
	assert.Equal(t, zip.Options{Dimension: zip.Time}, cfg.ZipOptions())
	assert.Equal(t, StoreMemory, cfg.GetStorageKind())

	a := cfg.Annealing()
	assert.Equal(t, 100000.0, a.InitialTemp)
	assert.Equal(t, 0.999, a.Cooling)
	assert.Equal(t, int64(1), a.Seed)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	body := `
method: hierarchical
clusters: 3
cut_symbol: visits
restarts: 2
on_empty: random
zip_items: false
last_iteration_balance_rate: 0.5
zip:
  threshold: 120
  force: true
  dimension: distance
anneal:
  cooling: 0.99
  iterations: 500
storage:
  kind: redis
  redis_url: redis://localhost:6379/0
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, MethodHierarchical, cfg.GetMethod())
	assert.Equal(t, 3, cfg.GetClusters())
	assert.Equal(t, "visits", cfg.GetCutSymbol())
	assert.Equal(t, 2, cfg.GetRestarts())
	assert.Equal(t, 300, cfg.GetMaxIterations(), "unset fields keep defaults")
	assert.Equal(t, kmeans.Random, cfg.GetOnEmpty())
	assert.False(t, cfg.GetZipItems())
	require.NotNil(t, cfg.LastIterationBalanceRate)
	assert.Equal(t, 0.5, *cfg.LastIterationBalanceRate)
	assert.Equal(t, zip.Options{Threshold: 120, Force: true, Dimension: zip.Distance}, cfg.ZipOptions())
	assert.Equal(t, 0.99, cfg.Annealing().Cooling)
	assert.Equal(t, 500, cfg.Annealing().Iterations)
	assert.Equal(t, StoreRedis, cfg.GetStorageKind())
	assert.Equal(t, "redis://localhost:6379/0", cfg.GetRedisURL())
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"restarts": 3, "strict_limits": true}`), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.GetRestarts())
	assert.True(t, cfg.GetStrictLimits())
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.GetRestarts())
}

func TestLoadRejects(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		file string
		body string
		want string
	}{
		{"extension", "run.toml", "restarts = 1", "must be .yaml"},
		{"unknown key", "a.yaml", "restart: 1", "failed to parse"},
		{"negative restarts", "b.yaml", "restarts: -1", "restarts must be positive"},
		{"policy", "c.yaml", "on_empty: panic", "unknown on_empty"},
		{"method", "d.yaml", "method: dbscan", "method must be"},
		{"rate", "e.yaml", "last_iteration_balance_rate: 2", "between 0 and 1"},
		{"dimension", "f.yaml", "zip: {dimension: weight}", "unknown zip dimension"},
		{"cooling", "g.yaml", "anneal: {cooling: 1}", "cooling must be"},
		{"postgres without url", "h.yaml", "storage: {kind: postgres}", "needs database_url"},
		{"storage kind", "i.yaml", "storage: {kind: s3}", "unknown storage kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "failed to stat"))
}

func TestApplyEnv(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("VRPSPLIT_TEST_ONLY=1\n"), 0o600))
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/vrp")
	t.Setenv("REDIS_URL", "")
	t.Setenv("VRPSPLIT_WORKERS", "7")
	t.Cleanup(func() { os.Unsetenv("VRPSPLIT_TEST_ONLY") })

	cfg := &Config{Storage: StorageConfig{Kind: ptr(StorePostgres)}}
	require.NoError(t, cfg.ApplyEnv(envFile))
	assert.Equal(t, "postgres://u:p@localhost/vrp", cfg.GetDatabaseURL())
	assert.Equal(t, "", cfg.GetRedisURL())
	assert.Equal(t, 7, cfg.GetWorkers())
	assert.Equal(t, "1", os.Getenv("VRPSPLIT_TEST_ONLY"))
}

func TestApplyEnvMissingFileIsFine(t *testing.T) {
	t.Setenv("VRPSPLIT_WORKERS", "")
	cfg := &Config{}
	require.NoError(t, cfg.ApplyEnv(filepath.Join(t.TempDir(), "none.env")))
	assert.Equal(t, 4, cfg.GetWorkers())
}

func TestApplyEnvBadWorkers(t *testing.T) {
	t.Setenv("VRPSPLIT_WORKERS", "many")
	cfg := &Config{}
	assert.Error(t, cfg.ApplyEnv(filepath.Join(t.TempDir(), "none.env")))
}
