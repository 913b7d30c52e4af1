package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/velocity.piv/internal/version"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case "evaluate":
		err = runEvaluate(ctx, args)
	case "singlepixel":
		err = runSinglePixel(ctx, args)
	case "reconstruct":
		err = runReconstruct(ctx, args)
	case "average":
		err = runAverage(ctx, args)
	case "filter":
		err = runFilter(ctx, args)
	case "compare":
		err = runCompare(args)
	case "profile":
		err = runProfile(args)
	case "frames":
		err = runFrames(args)
	case "catalog":
		err = runCatalog(ctx, args)
	case "config":
		err = runConfig(args)
	case "version":
		fmt.Println(version.String())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s: %v", command, err)
	}
}

func printUsage() {
	fmt.Println(`piv - particle image velocimetry evaluation

Usage: piv <command> [options] [files]

Commands:
  evaluate     Multi-pass window correlation of image pairs
  singlepixel  Ensemble correlation at single pixel resolution
  reconstruct  Out-of-plane velocity from a stack of parallel planes
  average      Average several vector files on the same grid
  filter       Post-process a vector file (median test, smoothing, ...)
  compare      RMS difference between a vector file and a reference
  profile      Sample a profile from a vector file as a table or chart
  frames       Split, join or background-correct image frames
  catalog      Inspect the output catalog and manage its schema
  config       Print the default configuration or validate a file
  version      Show version information
  help         Show this help message

Common Flags:
  -config <file>    JSON configuration (default: built-in defaults)
  -db <file>        Record outputs in this sqlite catalog
  -dest <path>      Output destination base name
  -metrics <addr>   Serve Prometheus metrics on this address
  -v                Verbose logging

Examples:
  piv evaluate -config piv.json -dest out/vec 'frames/*.tif'
  piv singlepixel -config sp.json -db runs.db frames/*.png
  piv profile -row 12 -chart row12.png out/vec01.jvc
  piv catalog -db runs.db list -kind evaluation`)
}
