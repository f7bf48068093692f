package flim

import (
	"log/slog"

	"github.com/gogpu/flim/curvefit"
)

// DefaultThreads is the worker count of an engine created without
// WithThreads.
const DefaultThreads = 4

// Option configures an Engine during creation.
//
// Example:
//
//	// Default: 4 threads, Levenberg-Marquardt
//	eng := flim.NewEngine()
//
//	// Custom fitter and thread count (dependency injection)
//	eng := flim.NewEngine(flim.WithThreads(8), flim.WithCurveFitter(curvefit.RLDLMA{}))
type Option func(*engineOptions)

// engineOptions holds optional configuration for Engine creation.
type engineOptions struct {
	threads int
	fitter  curvefit.Fitter
	logger  *slog.Logger
}

// defaultOptions returns the default engine options.
func defaultOptions() engineOptions {
	return engineOptions{
		threads: DefaultThreads,
		fitter:  curvefit.LMA{},
		logger:  nil, // Resolved to Logger() in NewEngine
	}
}

// WithThreads sets the number of fitting goroutines.
// Values below 1 keep the default.
func WithThreads(n int) Option {
	return func(o *engineOptions) {
		if n > 0 {
			o.threads = n
		}
	}
}

// WithCurveFitter sets the fitting algorithm.
// A nil fitter keeps the default.
func WithCurveFitter(f curvefit.Fitter) Option {
	return func(o *engineOptions) {
		if f != nil {
			o.fitter = f
		}
	}
}

// WithLogger sets the engine's logger instead of the package default.
func WithLogger(l *slog.Logger) Option {
	return func(o *engineOptions) {
		o.logger = l
	}
}
