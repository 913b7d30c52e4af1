package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/banshee-data/velocity.piv/internal/imagery"
)

// runFrames prepares image frames: split and join convert between single
// and double-frame recordings, background subtracts a sliding minimum.
func runFrames(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: piv frames <split|join|background> [options] files")
	}
	op, args := args[0], args[1:]
	fs := flag.NewFlagSet("frames "+op, flag.ExitOnError)
	outDir := fs.String("o", "", "output directory (default: next to the input)")
	fs.Parse(args)

	files, err := expandFrames(fs.Args())
	if err != nil {
		return err
	}
	target := func(in, suffix string) string {
		dir := filepath.Dir(in)
		if *outDir != "" {
			dir = *outDir
		}
		base := strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
		return filepath.Join(dir, base+suffix+".png")
	}
	if *outDir != "" {
		if err := osfs.MkdirAll(*outDir, 0o755); err != nil {
			return err
		}
	}

	switch op {
	case "split":
		for _, in := range files {
			p, err := imagery.LoadFile(osfs, in)
			if err != nil {
				return err
			}
			a, b := imagery.Split(p)
			if err := saveAll(map[string]*imagery.Plane{target(in, "_a"): a, target(in, "_b"): b}); err != nil {
				return err
			}
		}
	case "join":
		if len(files)%2 != 0 {
			return fmt.Errorf("join needs an even number of frames, got %d", len(files))
		}
		for i := 0; i < len(files); i += 2 {
			a, err := imagery.LoadFile(osfs, files[i])
			if err != nil {
				return err
			}
			b, err := imagery.LoadFile(osfs, files[i+1])
			if err != nil {
				return err
			}
			joined, err := imagery.Join(a, b)
			if err != nil {
				return err
			}
			if err := saveAll(map[string]*imagery.Plane{target(files[i], "_ab"): joined}); err != nil {
				return err
			}
		}
	case "background":
		planes := make([]*imagery.Plane, len(files))
		for i, in := range files {
			if planes[i], err = imagery.LoadFile(osfs, in); err != nil {
				return err
			}
		}
		for i, in := range files {
			p, err := imagery.RemoveSlidingBackground(planes, i)
			if err != nil {
				return err
			}
			if err := saveAll(map[string]*imagery.Plane{target(in, "_bg"): p}); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown frames operation %q", op)
	}
	return nil
}

func saveAll(planes map[string]*imagery.Plane) error {
	for path, p := range planes {
		if err := p.SaveFile(osfs, path); err != nil {
			return err
		}
		log.Printf("wrote %s", path)
	}
	return nil
}
