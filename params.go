package flim

import (
	"slices"

	"github.com/gogpu/flim/curvefit"
	"github.com/gogpu/flim/pixel"
)

// GlobalParams are the fit settings shared read-only by every pixel of a
// batch.
type GlobalParams struct {
	// Algorithm selects a fitter by name (see curvefit.New). When empty
	// the engine's fitter is used.
	Algorithm string

	Model curvefit.FunctionModel
	Noise curvefit.NoiseModel

	// Prompt is the instrument response, usually trimmed with
	// cursor.Cursor.TrimPrompt. Nil fits the tail without deconvolution.
	Prompt []float64

	// PromptOffset is the decay bin at which Prompt[0] sits.
	PromptOffset int

	ChiSquareTarget float64

	// Free marks adjustable parameters; nil means all free.
	Free []bool

	// XInc is the time per bin.
	XInc float64

	// LegacyEstimateStart derives estimate start bins from the curve
	// peak instead of the fit window start.
	LegacyEstimateStart bool

	// MaxIterations caps iterative fitters; zero uses the fitter default.
	MaxIterations int
}

// config converts g to the fitter's per-call configuration.
func (g *GlobalParams) config() curvefit.Config {
	return curvefit.Config{
		Model:               g.Model,
		Noise:               g.Noise,
		Prompt:              g.Prompt,
		PromptOffset:        g.PromptOffset,
		XInc:                g.XInc,
		Free:                g.Free,
		ChiSquareTarget:     g.ChiSquareTarget,
		LegacyEstimateStart: g.LegacyEstimateStart,
		MaxIterations:       g.MaxIterations,
	}
}

// LocalParams describe one pixel to fit. The caller owns them; the engine
// only reads Curve, Sig and Params and writes Fitted.
type LocalParams struct {
	Pixel pixel.Location
	Curve []float64

	// Sig is the optional per-bin uncertainty.
	Sig []float64

	// Params is the initial guess. It is never modified.
	Params []float64

	Window curvefit.Window

	// Fitted optionally receives a copy of the fitted curve. It must have
	// the same length as Curve.
	Fitted []float64
}

// Result is the outcome of one pixel fit. Its slices are owned by the
// Result and are not shared with the LocalParams it came from.
type Result struct {
	Pixel pixel.Location
	Model curvefit.FunctionModel

	// ChiSquare is the reduced chi-square of the fit.
	ChiSquare float64

	// Params is the fitted parameter vector (see curvefit for layout).
	Params []float64

	// Fitted is the model over the fit window, zero elsewhere.
	Fitted []float64

	Status     curvefit.Status
	Iterations int

	// Err is set when the pixel was rejected or could not be fitted.
	Err error
}

// Converged reports whether the fit reached the chi-square target.
func (r *Result) Converged() bool {
	return r != nil && r.Status == curvefit.Converged
}

// Lifetime returns the amplitude-weighted mean lifetime of the fit, or 0
// when there is none.
func (r *Result) Lifetime() float64 {
	if r == nil || len(r.Params) != r.Model.ParamCount() || r.Err != nil {
		return 0
	}
	if r.Model == curvefit.StretchedExp {
		return r.Params[3]
	}
	var sumA, sumAT float64
	for c := 0; c < r.Model.Components(); c++ {
		a, tau := r.Params[2+2*c], r.Params[3+2*c]
		sumA += a
		sumAT += a * tau
	}
	if sumA == 0 {
		return 0
	}
	return sumAT / sumA
}

// Equal reports whether r and o hold identical values.
func (r *Result) Equal(o *Result) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.Pixel == o.Pixel &&
		r.Model == o.Model &&
		r.ChiSquare == o.ChiSquare &&
		r.Status == o.Status &&
		r.Iterations == o.Iterations &&
		slices.Equal(r.Params, o.Params) &&
		slices.Equal(r.Fitted, o.Fitted)
}
