package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/banshee-data/velocity.piv/internal/config"
	"github.com/banshee-data/velocity.piv/internal/evaluation"
	"github.com/banshee-data/velocity.piv/internal/singlepixel"
)

func runEvaluate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	sequence := fs.String("sequence", "", "frame sequence: two_image, consecutive, skip, cascade or pairs")
	sum := fs.Bool("sum", false, "sum the correlation maps of all pairs into one field")
	fs.Parse(args)

	cfg, err := cf.load()
	if err != nil {
		return err
	}
	if *sequence != "" {
		cfg.Evaluation.Sequence = sequence
	}
	if *sum {
		cfg.Evaluation.SumOfCorrelation = sum
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	frames, err := expandFrames(fs.Args())
	if err != nil {
		return err
	}

	s, err := openSession(ctx, cfg, cf.metricsAddr, "evaluate")
	if err != nil {
		return err
	}
	res, err := evaluateFrames(ctx, cfg, s, frames)
	s.close(ctx, err)
	if err != nil {
		return err
	}
	log.Printf("wrote %d vector file(s)", len(res.Outputs))
	for _, st := range res.Stats {
		log.Printf("pass %d: %d vectors, tiers %v, %d without peak", st.Pass+1, st.Vectors, st.Tiers, st.NoPeak.GetCardinality())
	}
	return nil
}

func newEvaluationEngine(cfg *config.PIVConfig, s *session) (*evaluation.Engine, error) {
	return evaluation.NewEngine(evaluation.FromPIVConfig(cfg),
		evaluation.WithSink(s.sink()),
		evaluation.WithMetrics(s.metrics),
	)
}

func evaluateFrames(ctx context.Context, cfg *config.PIVConfig, s *session, frames []string) (evaluation.Result, error) {
	eng, err := newEvaluationEngine(cfg, s)
	if err != nil {
		return evaluation.Result{}, err
	}
	return eng.Run(ctx, evaluation.Job{Frames: frames})
}

func runSinglePixel(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("singlepixel", flag.ExitOnError)
	var cf commonFlags
	cf.register(fs)
	fromPIV := fs.Bool("from-evaluation", false, "seed the pre-shift from a multi-pass evaluation of the same frames")
	fs.Parse(args)

	cfg, err := cf.load()
	if err != nil {
		return err
	}
	frames, err := expandFrames(fs.Args())
	if err != nil {
		return err
	}
	spCfg := singlepixel.FromPIVConfig(cfg)
	spCfg.PreShiftFromPIV = spCfg.PreShiftFromPIV || *fromPIV

	s, err := openSession(ctx, cfg, cf.metricsAddr, "singlepixel")
	if err != nil {
		return err
	}
	res, err := singlePixel(ctx, cfg, spCfg, s, frames)
	s.close(ctx, err)
	if err != nil {
		return err
	}
	log.Printf("wrote %s from %d pair(s), %d vectors, %d invalid",
		res.Output, res.Pairs, res.Field.Len(), res.Field.InvalidCount())
	return nil
}

func singlePixel(ctx context.Context, cfg *config.PIVConfig, spCfg singlepixel.Config, s *session, frames []string) (singlepixel.Result, error) {
	eng, err := singlepixel.NewEngine(spCfg, singlepixel.WithSink(s.sink()))
	if err != nil {
		return singlepixel.Result{}, err
	}
	job := singlepixel.Job{Frames: frames}
	if spCfg.PreShiftFromPIV {
		pre, err := newEvaluationEngine(cfg, s)
		if err != nil {
			return singlepixel.Result{}, fmt.Errorf("pre-shift evaluation: %w", err)
		}
		if err := pre.Start(ctx, evaluation.Job{Frames: frames}); err != nil {
			return singlepixel.Result{}, err
		}
		job.Seed = pre
	}
	return eng.Run(ctx, job)
}
