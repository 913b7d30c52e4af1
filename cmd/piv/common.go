package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/banshee-data/velocity.piv/internal/catalog"
	"github.com/banshee-data/velocity.piv/internal/config"
	"github.com/banshee-data/velocity.piv/internal/evaluation"
	"github.com/banshee-data/velocity.piv/internal/monitoring"
	"github.com/banshee-data/velocity.piv/internal/publish"
)

// commonFlags are shared by the processing commands.
type commonFlags struct {
	configPath  string
	dbPath      string
	dest        string
	metricsAddr string
	workers     int
	verbose     bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "JSON configuration file (default: built-in defaults)")
	fs.StringVar(&c.dbPath, "db", "", "sqlite catalog for outputs (overrides catalog.path)")
	fs.StringVar(&c.dest, "dest", "", "output destination base name (overrides output.destination)")
	fs.StringVar(&c.metricsAddr, "metrics", "", "serve Prometheus metrics on this address, e.g. :2112")
	fs.IntVar(&c.workers, "workers", 0, "correlation workers (0 = automatic)")
	fs.BoolVar(&c.verbose, "v", false, "verbose logging")
}

// load reads the configuration and applies the command line overrides.
func (c *commonFlags) load() (*config.PIVConfig, error) {
	monitoring.SetVerbose(c.verbose)

	cfg := config.DefaultConfig()
	if c.configPath != "" {
		var err error
		if cfg, err = config.LoadConfig(c.configPath); err != nil {
			return nil, err
		}
	}
	// Overrides below write into these sections.
	if cfg.Evaluation == nil {
		cfg.Evaluation = &config.EvaluationConfig{}
	}
	if cfg.Output == nil {
		cfg.Output = &config.OutputConfig{}
	}
	if cfg.Catalog == nil {
		cfg.Catalog = &config.CatalogConfig{}
	}
	if c.dest != "" {
		cfg.Output.Destination = &c.dest
	}
	if c.workers > 0 {
		cfg.Evaluation.Workers = &c.workers
	}
	if c.dbPath != "" {
		cfg.Catalog.Path = &c.dbPath
	}
	return cfg, cfg.Validate()
}

// session owns the output sinks of one command. Outputs go to the catalog
// run and the object store mirror when configured, and always to the status
// report served beside the metrics.
type session struct {
	cat     *catalog.Catalog
	runID   string
	sinks   evaluation.MultiSink
	metrics *evaluation.Metrics
	status  *runStatus
	server  *http.Server
}

func openSession(ctx context.Context, cfg *config.PIVConfig, metricsAddr, command string) (*session, error) {
	s := &session{}

	if path := cfg.Catalog.GetPath(); path != "" {
		cat, err := catalog.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open catalog: %w", err)
		}
		raw, err := json.Marshal(cfg)
		if err != nil {
			cat.Close()
			return nil, err
		}
		id, err := cat.BeginRun(ctx, command, string(raw))
		if err != nil {
			cat.Close()
			return nil, err
		}
		s.cat, s.runID = cat, id
		s.sinks = append(s.sinks, cat.RunSink(id))
		log.Printf("catalog %s: run %s", path, id)
	}

	s.status = newRunStatus(command, s.runID, time.Now())
	s.sinks = append(s.sinks, s.status)

	pub, err := publish.FromConfig(cfg.Publish)
	if err != nil {
		s.close(ctx, err)
		return nil, err
	}
	if pub != nil {
		if err := pub.EnsureBucket(ctx); err != nil {
			s.close(ctx, err)
			return nil, err
		}
		s.sinks = append(s.sinks, pub)
		log.Printf("mirroring outputs to %s/%s", cfg.Publish.GetEndpoint(), cfg.Publish.GetBucket())
	}

	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		s.metrics = evaluation.NewMetrics(reg)
		s.server = &http.Server{Addr: metricsAddr, Handler: monitorMux(reg, s.status)}
		go func() {
			log.Printf("Prometheus metrics available at http://%s/metrics", metricsAddr)
			if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("metrics server error: %v", err)
			}
		}()
	}
	return s, nil
}

// sink returns the combined sink.
func (s *session) sink() evaluation.Sink { return s.sinks }

// close records the outcome of the run and releases the sinks.
func (s *session) close(ctx context.Context, runErr error) {
	if s.cat != nil {
		// The run is recorded even when ctx was cancelled.
		if err := s.cat.FinishRun(context.WithoutCancel(ctx), s.runID, runErr); err != nil {
			log.Printf("catalog: %v", err)
		}
		s.cat.Close()
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}
}

// expandFrames expands glob patterns and keeps plain names in order. Each
// pattern's matches are sorted.
func expandFrames(args []string) ([]string, error) {
	var out []string
	for _, a := range args {
		if !strings.ContainsAny(a, "*?[") {
			out = append(out, a)
			continue
		}
		matches, err := filepath.Glob(a)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", a, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match %q", a)
		}
		sort.Strings(matches)
		out = append(out, matches...)
	}
	return out, nil
}

// parseFloats parses a comma-separated list of exactly n numbers.
func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d comma-separated values, got %q", n, s)
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number '%s': %w", p, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("invalid number '%s': not finite", p)
		}
		out[i] = v
	}
	return out, nil
}
