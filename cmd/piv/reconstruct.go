package main

import (
	"context"
	"flag"
	"log"

	"github.com/banshee-data/velocity.piv/internal/field"
	"github.com/banshee-data/velocity.piv/internal/reconstruct"
)

func runReconstruct(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reconstruct", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	dz := fs.Float64("dz", 0, "distance between planes (overrides reconstruction.dz)")
	skip := fs.Int("skip", -1, "planes left out between processed ones (overrides reconstruction.skip)")
	lr := fs.Bool("lr", false, "use linear regression derivatives")
	fs.Parse(args)

	cfg, err := cf.load()
	if err != nil {
		return err
	}
	files, err := expandFrames(fs.Args())
	if err != nil {
		return err
	}
	rc := reconstruct.FromPIVConfig(cfg)
	if *dz > 0 {
		rc.Dz = *dz
	}
	if *skip >= 0 {
		rc.Skip = *skip
	}
	if *lr {
		rc.Mode = field.LinearRegression
	}

	s, err := openSession(ctx, cfg, cf.metricsAddr, "reconstruct")
	if err != nil {
		return err
	}
	written, err := reconstruct.New(rc, reconstruct.WithSink(s.sink())).Run(ctx, files)
	s.close(ctx, err)
	if err != nil {
		return err
	}
	log.Printf("wrote %d plane(s)", len(written))
	return nil
}
