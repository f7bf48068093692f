// Package flim fits fluorescence lifetime decay models to every pixel of
// an image.
//
// # Overview
//
// Each pixel carries a time-binned photon-count decay curve. flim estimates
// the parameters of an exponential decay model (offset, amplitudes,
// lifetimes) by nonlinear least squares, optionally deconvolving an
// instrument response (prompt). Pixels are fitted in parallel; results come
// back in submission order and are identical for any thread count.
//
// # Quick Start
//
//	import "github.com/gogpu/flim"
//
//	eng := flim.NewEngine(flim.WithThreads(8))
//	defer eng.Shutdown()
//
//	global := flim.GlobalParams{
//	    Model: curvefit.SingleExp,
//	    XInc:  0.0390625,
//	}
//	results, err := eng.FitBatch(ctx, global, locals)
//
// # Architecture
//
// The module is organized into:
//   - Public API: Engine, Task, GlobalParams, LocalParams, Result
//   - curvefit: fitting algorithms (Levenberg-Marquardt, RLD) behind Fitter
//   - cursor: fit window and prompt placement from curve shape
//   - pixel: source chain (raw cube, binning, thresholding, masking)
//   - mask: exclusion masks and the mask group bus
//   - config: YAML settings files
//   - stack: loading time-bin frame stacks and exporting lifetime maps
//   - internal/parallel: ordered, fault-contained batch execution
//
// # Errors
//
// Problems confined to a pixel (bad window, wrong parameter count, a curve
// that does not decay) are reported in that pixel's Result.Err and never
// affect other pixels. A pixel whose fit panics comes back as a nil Result.
// Only engine-level failures (ErrShutdown, context cancellation) are
// returned from the fit calls themselves.
package flim

// Version information
const (
	// Version is the current version of the module
	Version = "0.1.0"
)
