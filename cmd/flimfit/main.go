// Command flimfit fits a lifetime model to every pixel of a frame stack.
//
// Usage:
//
//	flimfit -config flim.yaml [-frames 'data/*.tif'] [-mask roi.png] [-threads 8] [-out map.png] [-v]
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/gogpu/flim"
	"github.com/gogpu/flim/config"
	"github.com/gogpu/flim/cursor"
	"github.com/gogpu/flim/mask"
	"github.com/gogpu/flim/pixel"
	"github.com/gogpu/flim/stack"
)

// saturated is the 16-bit count at which a detector bin clips.
const saturated = 65535

type options struct {
	config  string
	frames  string
	mask    string
	out     string
	threads int
	verbose bool
}

func main() {
	var opts options
	flag.StringVar(&opts.config, "config", "flim.yaml", "settings file")
	flag.StringVar(&opts.frames, "frames", "", "frame glob, overrides input.frames")
	flag.StringVar(&opts.mask, "mask", "", "exclusion mask PNG, non-black pixels are skipped")
	flag.StringVar(&opts.out, "out", "", "lifetime map PNG, overrides output.map")
	flag.IntVar(&opts.threads, "threads", 0, "fitting threads, overrides engine.threads")
	flag.BoolVar(&opts.verbose, "v", false, "verbose logging")
	flag.Parse()

	if opts.verbose {
		flim.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Fatalf("flimfit: %v", err)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load(opts.config)
	if err != nil {
		return err
	}
	if opts.frames != "" {
		cfg.Input.Frames = opts.frames
	}
	if opts.out != "" {
		cfg.Output.Map = opts.out
	}
	if opts.threads > 0 {
		cfg.Engine.Threads = opts.threads
	}

	paths, err := stack.Glob(cfg.Input.Frames)
	if err != nil {
		return err
	}
	cube, err := stack.LoadFiles(paths)
	if err != nil {
		return err
	}
	shape := cube.Shape()
	log.Printf("loaded %d frames of %dx%d", cube.Bins(), shape[0], shape[1])

	var est cursor.Estimator = cursor.Heuristic{}
	cur, ok := cfg.ManualCursor()
	if !ok {
		if cur, err = est.Global(cfg.Input.Prompt, cube.Sum()); err != nil {
			return err
		}
	}
	global := cfg.Global()
	global.Prompt, global.PromptOffset = cur.TrimPrompt(cfg.Input.Prompt)

	bus := mask.NewBus()
	defer bus.Close()
	if err := publishMasks(bus, cube, opts.mask); err != nil {
		return err
	}

	stages := append(cfg.Stages(cur.Window()), pixel.Masking(bus.Latest))
	src := pixel.Chain(cube, stages...)

	var locals []flim.LocalParams
	for _, loc := range pixel.Locations(src) {
		curve, ok := src.Pixel(loc)
		if !ok {
			continue
		}
		lc, err := est.Local(cur, cfg.Input.Prompt, curve)
		if err != nil {
			continue
		}
		locals = append(locals, flim.LocalParams{
			Pixel:  loc,
			Curve:  curve,
			Params: cfg.Initial(),
			Window: lc.Window(),
		})
	}

	eng := flim.NewEngine(cfg.EngineOptions()...)
	defer eng.Shutdown()

	start := time.Now()
	results, err := eng.FitBatch(ctx, global, locals)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	lm := stack.MapResults(shape[0], shape[1], results)
	if cfg.Output.Map != "" {
		if err := lm.SavePNG(cfg.Output.Map, cfg.Output.MaxLifetime, cfg.Output.Scale); err != nil {
			return err
		}
	}

	rep := summarize(results, shape[0]*shape[1], lm, elapsed)
	rep.Cursor = cur
	rep.Threads = eng.Threads()
	rep.Write(os.Stdout)
	return nil
}

// publishMasks publishes the saturation mask of cube and, when path is set,
// the union with the mask read from path.
func publishMasks(bus *mask.Bus, cube *pixel.Cube, path string) error {
	shape := cube.Shape()
	w, h := shape[0], shape[1]

	sat := mask.New(w, h, func(x, y int) bool {
		curve, _ := cube.Pixel(pixel.Loc(x, y))
		for _, v := range curve {
			if v >= saturated {
				return true
			}
		}
		return false
	})
	bus.Publish("saturation", sat)
	if sat.Count() > 0 {
		flim.Logger().Info("flimfit: saturated pixels excluded", "count", sat.Count())
	}

	if path == "" {
		return nil
	}
	roi, err := loadMask(path, w, h)
	if err != nil {
		return err
	}
	combined, err := roi.Union(bus.Latest())
	if err != nil {
		return err
	}
	bus.Publish("file", combined)
	return nil
}

// loadMask reads a PNG in which non-black pixels are excluded.
func loadMask(path string, w, h int) (*mask.Mask, error) {
	f, err := os.Open(path) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("mask %s: %w", path, err)
	}
	b := img.Bounds()
	if b.Dx() != w || b.Dy() != h {
		return nil, fmt.Errorf("%w: mask is %dx%d, stack is %dx%d", mask.ErrSize, b.Dx(), b.Dy(), w, h)
	}
	return mask.New(w, h, func(x, y int) bool {
		return color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y != 0
	}), nil
}
