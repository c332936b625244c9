package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"vrpsplit/internal/buildinfo"
	"vrpsplit/internal/config"
	"vrpsplit/internal/metrics"
	"vrpsplit/internal/model"
	"vrpsplit/internal/split"
	"vrpsplit/internal/store"
	"vrpsplit/internal/zip"
)

const usage = `usage: vrpsplit <command> [flags]

commands:
  split    partition the services of a problem into balanced clusters
  zip      merge near-identical services and write the zip key
  unzip    expand zipped services in a solved route set
  runs     list or show stored partition runs
  version  print build details
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "split":
		err = runSplit(ctx, args, os.Stdout)
	case "zip":
		err = runZip(args, os.Stdout)
	case "unzip":
		err = runUnzip(args, os.Stdout)
	case "runs":
		err = runRuns(ctx, args, os.Stdout)
	case "version":
		fmt.Println(buildinfo.String())
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

type common struct {
	configPath string
	envFile    string
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Run configuration file (.yaml, .yml or .json)")
	fs.StringVar(&c.envFile, "env", ".env", "Environment file loaded before reading DATABASE_URL, REDIS_URL and VRPSPLIT_WORKERS")
}

func (c *common) load() (*config.Config, error) {
	cfg := &config.Config{}
	if c.configPath != "" {
		var err error
		if cfg, err = config.Load(c.configPath); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(c.envFile); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runSplit(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("split", flag.ContinueOnError)
	var c common
	c.register(fs)
	problemPath := fs.String("problem", "", "Problem file (YAML or JSON)")
	out := fs.String("out", "", "Write the JSON report here instead of stdout")
	pngPath := fs.String("png", "", "Render the partition to this PNG file")
	dumpMetrics := fs.Bool("metrics", false, "Print Prometheus metrics after the run")
	timeout := fs.Duration("timeout", 0, "Abort the partition after this long (0 means no limit)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *problemPath == "" {
		return fmt.Errorf("-problem is required")
	}
	cfg, err := c.load()
	if err != nil {
		return err
	}
	p, err := readProblem(*problemPath)
	if err != nil {
		return err
	}
	metrics.RegisterDefault()

	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}
	started := time.Now()
	rep, err := split.Split(ctx, p, split.Request{
		Method:   cfg.GetMethod(),
		ZipItems: cfg.GetZipItems(),
		Partition: split.Options{
			Clusters:                 cfg.GetClusters(),
			CutSymbol:                cfg.GetCutSymbol(),
			Restarts:                 cfg.GetRestarts(),
			MaxIterations:            cfg.GetMaxIterations(),
			Workers:                  cfg.GetWorkers(),
			Seed:                     cfg.GetSeed(),
			StrictLimits:             cfg.GetStrictLimits(),
			OnEmpty:                  cfg.GetOnEmpty(),
			LastIterationBalanceRate: cfg.LastIterationBalanceRate,
		},
	})
	if err != nil {
		return err
	}
	rep.Problem = filepath.Base(*problemPath)
	log.Printf("split %s: %d services into %d clusters in %v", rep.Problem, len(p.Services), len(rep.Clusters), time.Since(started))

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	run, err := st.SaveRun(ctx, rep.Summary())
	if err != nil {
		return err
	}
	rep.RunID = run.ID

	if err := withOutput(*out, stdout, rep.WriteJSON); err != nil {
		return err
	}
	if *pngPath != "" {
		if err := rep.SavePNG(*pngPath); err != nil {
			return err
		}
	}
	if *dumpMetrics {
		return metrics.WriteText(stdout)
	}
	return nil
}

func runZip(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("zip", flag.ContinueOnError)
	var c common
	c.register(fs)
	problemPath := fs.String("problem", "", "Problem file (YAML or JSON)")
	out := fs.String("out", "", "Write the zipped problem here instead of stdout")
	keyPath := fs.String("key", "zip-key.json", "Write the zip key here")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *problemPath == "" {
		return fmt.Errorf("-problem is required")
	}
	cfg, err := c.load()
	if err != nil {
		return err
	}
	p, err := readProblem(*problemPath)
	if err != nil {
		return err
	}
	zipped, key, err := zip.Zip(p, cfg.ZipOptions())
	if err != nil {
		return err
	}
	log.Printf("zip %s: %d services into %d", filepath.Base(*problemPath), len(p.Services), len(zipped.Services))
	if err := withOutput(*keyPath, stdout, jsonWriter(key)); err != nil {
		return err
	}
	return withOutput(*out, stdout, jsonWriter(zipped))
}

func runUnzip(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("unzip", flag.ContinueOnError)
	var c common
	c.register(fs)
	problemPath := fs.String("problem", "", "Original (unzipped) problem file")
	keyPath := fs.String("key", "zip-key.json", "Zip key written by the zip command")
	solutionPath := fs.String("solution", "", "Solution over the zipped problem (YAML or JSON)")
	out := fs.String("out", "", "Write the expanded solution here instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *problemPath == "" || *solutionPath == "" {
		return fmt.Errorf("-problem and -solution are required")
	}
	cfg, err := c.load()
	if err != nil {
		return err
	}
	p, err := readProblem(*problemPath)
	if err != nil {
		return err
	}
	var key zip.Key
	if err := readJSON(*keyPath, &key); err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	sol, err := readSolution(*solutionPath)
	if err != nil {
		return fmt.Errorf("read solution: %w", err)
	}
	return withOutput(*out, stdout, jsonWriter(zip.Unzip(sol, &key, p, cfg.Annealing())))
}

func runRuns(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	var c common
	c.register(fs)
	id := fs.String("id", "", "Show a single run")
	cursor := fs.String("cursor", "", "Id of the last run of the previous page")
	limit := fs.Int("limit", 20, "Runs per page")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := c.load()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	if *id != "" {
		run, err := st.GetRun(ctx, *id)
		if err != nil {
			return fmt.Errorf("run %s: %w", *id, err)
		}
		return jsonWriter(run)(stdout)
	}
	runs, next, err := st.ListRuns(ctx, *cursor, *limit)
	if err != nil {
		return err
	}
	return jsonWriter(map[string]any{"runs": runs, "next": next})(stdout)
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.GetStorageKind() {
	case config.StorePostgres:
		pg, err := store.NewPostgres(cfg.GetDatabaseURL())
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return pg, nil
	case config.StoreRedis:
		rd, err := store.NewRedis(cfg.GetRedisURL())
		if err != nil {
			return nil, err
		}
		if err := rd.Ping(ctx); err != nil {
			_ = rd.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		return rd, nil
	}
	return store.NewMemory(), nil
}

func readProblem(path string) (*model.Problem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return model.Decode(f)
}

func readSolution(path string) (*model.Solution, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return model.DecodeSolution(f)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func jsonWriter(v any) func(io.Writer) error {
	return func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

// withOutput hands write a file at path, or stdout when path is empty.
func withOutput(path string, stdout io.Writer, write func(io.Writer) error) error {
	if path == "" {
		return write(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
