package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/velocity.piv/internal/catalog"
	"github.com/banshee-data/velocity.piv/internal/config"
	"github.com/banshee-data/velocity.piv/internal/monitoring"
)

func runCatalog(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("catalog", flag.ExitOnError)
	dbPath := fs.String("db", "", "sqlite catalog (default: catalog.path from -config)")
	configPath := fs.String("config", "", "JSON configuration file")
	verbose := fs.Bool("v", false, "verbose logging")
	fs.Parse(args)
	monitoring.SetVerbose(*verbose)

	path := *dbPath
	if path == "" && *configPath != "" {
		cfg, err := config.LoadConfig(*configPath)
		if err != nil {
			return err
		}
		path = cfg.Catalog.GetPath()
	}
	if path == "" {
		return errors.New("no catalog: pass -db or a -config with catalog.path")
	}
	if fs.NArg() < 1 {
		return errors.New("usage: piv catalog -db <file> <list|runs|migrate> ...")
	}

	cat, err := catalog.Open(path)
	if err != nil {
		return err
	}
	defer cat.Close()

	sub, rest := fs.Arg(0), fs.Args()[1:]
	switch sub {
	case "list":
		return catalogList(ctx, cat, rest)
	case "runs":
		return catalogRuns(ctx, cat, rest)
	case "migrate":
		return catalogMigrate(cat, rest)
	}
	return fmt.Errorf("unknown catalog command %q", sub)
}

func catalogList(ctx context.Context, cat *catalog.Catalog, args []string) error {
	fs := flag.NewFlagSet("catalog list", flag.ExitOnError)
	kind := fs.String("kind", "", "only outputs of this kind")
	run := fs.String("run", "", "only outputs of this run")
	limit := fs.Int("limit", 20, "maximum number of rows (0 = all)")
	asJSON := fs.Bool("json", false, "print JSON")
	fs.Parse(args)

	recs, err := cat.Outputs(ctx, catalog.Filter{Kind: *kind, RunID: *run, Limit: *limit})
	if err != nil {
		return err
	}
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tKIND\tVECTORS\tINVALID\tPATH")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", r.CreatedAt.Local().Format(time.DateTime), r.Kind, r.Vectors, r.Invalid, r.Path)
	}
	return tw.Flush()
}

func catalogRuns(ctx context.Context, cat *catalog.Catalog, args []string) error {
	fs := flag.NewFlagSet("catalog runs", flag.ExitOnError)
	limit := fs.Int("limit", 20, "maximum number of rows (0 = all)")
	fs.Parse(args)

	runs, err := cat.Runs(ctx, *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tDURATION\tCOMMAND\tSTATUS\tID")
	for _, r := range runs {
		took := "-"
		if r.FinishedAt != nil {
			took = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		status := r.Status
		if r.Error != "" {
			status += ": " + r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.StartedAt.Local().Format(time.DateTime), took, r.Command, status, r.ID)
	}
	return tw.Flush()
}

func catalogMigrate(cat *catalog.Catalog, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: piv catalog migrate <up|down|version|force N>")
	}
	switch args[0] {
	case "up":
		if err := cat.MigrateUp(); err != nil {
			return err
		}
	case "down":
		if err := cat.MigrateDown(); err != nil {
			return err
		}
	case "force":
		if len(args) < 2 {
			return errors.New("force needs a version")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version '%s': %w", args[1], err)
		}
		if err := cat.MigrateForce(v); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown migrate command %q", args[0])
	}
	v, dirty, err := cat.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Printf("schema version %d (dirty: %t)\n", v, dirty)
	return nil
}

func runConfig(args []string) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	validate := fs.String("validate", "", "validate this configuration file")
	fs.Parse(args)

	cfg := config.DefaultConfig()
	if *validate != "" {
		var err error
		if cfg, err = config.LoadConfig(*validate); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%s is valid\n", *validate)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}
