// Package curvefit fits exponential decay models to time-binned photon
// counts by nonlinear least squares.
//
// # Fitters
//
// A Fitter is a stateless algorithm value. Every setting it needs travels in
// an immutable Config passed with each call, so one Fitter may be used from
// many goroutines at once:
//
//	f, _ := curvefit.New(curvefit.AlgorithmLMA)
//	d := &curvefit.Datum{Curve: counts, Window: curvefit.Window{Start: 40, Stop: 210}, Params: guess}
//	err := f.FitData(ctx, cfg, []*curvefit.Datum{d})
//
// Available algorithms are [LMA] (Levenberg-Marquardt), [RLD] (rapid lifetime
// determination) and [RLDLMA] (RLD estimate refined by LMA).
//
// # Parameter layout
//
// Index 0 of every parameter vector is the goodness-of-fit slot: the fitter
// writes the reduced chi-square there and never treats it as free. Index 1 is
// the constant offset Z. The remaining entries depend on the FunctionModel:
//
//	SingleExp     X2 Z A T
//	DoubleExp     X2 Z A1 T1 A2 T2
//	TripleExp     X2 Z A1 T1 A2 T2 A3 T3
//	StretchedExp  X2 Z A T H
package curvefit

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks a datum that cannot be fitted as given
	// (window outside the curve, wrong parameter count, bad settings).
	ErrInvalidInput = errors.New("curvefit: invalid input")

	// ErrUnsupportedModel is returned by algorithms that only handle a
	// subset of function models. It wraps ErrInvalidInput.
	ErrUnsupportedModel = fmt.Errorf("%w: unsupported function model", ErrInvalidInput)

	// ErrNoEstimate is recorded when an estimator cannot derive parameters
	// from the curve shape.
	ErrNoEstimate = errors.New("curvefit: no estimate")

	// ErrUnknownAlgorithm is returned by New for unrecognised names.
	ErrUnknownAlgorithm = errors.New("curvefit: unknown algorithm")
)

// Parameter indices shared by all models.
const (
	IndexChiSquare = 0
	IndexZ         = 1
)

// Algorithm names accepted by New.
const (
	AlgorithmLMA    = "lma"
	AlgorithmRLD    = "rld"
	AlgorithmRLDLMA = "rld-lma"
)

// DefaultMaxIterations caps iterative algorithms when Config leaves it zero.
const DefaultMaxIterations = 100

// DefaultChiSquareTarget is the reduced chi-square convergence target used
// when Config leaves it zero.
const DefaultChiSquareTarget = 1.5

// Window is an inclusive range of bin indices.
type Window struct {
	Start int
	Stop  int
}

// Len returns the number of bins in the window.
func (w Window) Len() int { return w.Stop - w.Start + 1 }

// Validate checks that w lies within a curve of n bins and holds more bins
// than dof free parameters.
func (w Window) Validate(n, dof int) error {
	if w.Start < 0 || w.Stop >= n || w.Start > w.Stop {
		return fmt.Errorf("%w: window [%d, %d] outside curve of %d bins", ErrInvalidInput, w.Start, w.Stop, n)
	}
	if w.Len() <= dof {
		return fmt.Errorf("%w: window of %d bins cannot fit %d free parameters", ErrInvalidInput, w.Len(), dof)
	}
	return nil
}

// FunctionModel selects the decay model.
type FunctionModel int

const (
	// SingleExp is Z + A·exp(-t/T).
	SingleExp FunctionModel = iota

	// DoubleExp is Z + A1·exp(-t/T1) + A2·exp(-t/T2).
	DoubleExp

	// TripleExp is the three-component sum.
	TripleExp

	// StretchedExp is Z + A·exp(-(t/T)^(1/H)).
	StretchedExp
)

// Components returns the number of amplitude/lifetime pairs.
func (m FunctionModel) Components() int {
	switch m {
	case SingleExp, StretchedExp:
		return 1
	case DoubleExp:
		return 2
	case TripleExp:
		return 3
	default:
		return 0
	}
}

// ParamCount returns the parameter vector length for m.
func (m FunctionModel) ParamCount() int {
	switch m {
	case SingleExp:
		return 4
	case DoubleExp:
		return 6
	case TripleExp:
		return 8
	case StretchedExp:
		return 5
	default:
		return 0
	}
}

// Valid reports whether m is a known model.
func (m FunctionModel) Valid() bool { return m.ParamCount() > 0 }

// String returns the model name.
func (m FunctionModel) String() string {
	switch m {
	case SingleExp:
		return "single"
	case DoubleExp:
		return "double"
	case TripleExp:
		return "triple"
	case StretchedExp:
		return "stretched"
	default:
		return fmt.Sprintf("FunctionModel(%d)", int(m))
	}
}

// ParseFunctionModel converts a model name produced by String.
func ParseFunctionModel(s string) (FunctionModel, error) {
	for m := SingleExp; m <= StretchedExp; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: function model %q", ErrInvalidInput, s)
}

// NoiseModel selects how per-bin uncertainties are derived.
type NoiseModel int

const (
	// GaussianFit uses Datum.Sig when present, otherwise unit weights.
	GaussianFit NoiseModel = iota

	// PoissonData uses sigma² = max(count, 1).
	PoissonData

	// PoissonFit uses sigma² = max(model, 1), re-evaluated every step.
	PoissonFit
)

// String returns the noise model name.
func (n NoiseModel) String() string {
	switch n {
	case GaussianFit:
		return "gaussian"
	case PoissonData:
		return "poisson-data"
	case PoissonFit:
		return "poisson-fit"
	default:
		return fmt.Sprintf("NoiseModel(%d)", int(n))
	}
}

// ParseNoiseModel converts a noise model name produced by String.
func ParseNoiseModel(s string) (NoiseModel, error) {
	for n := GaussianFit; n <= PoissonFit; n++ {
		if n.String() == s {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: noise model %q", ErrInvalidInput, s)
}

// Status describes how a fit ended.
type Status int

const (
	// Pending means the datum has not been fitted.
	Pending Status = iota

	// Converged means the fit reached a minimum with reduced chi-square at
	// or below the target.
	Converged

	// TargetMissed means the fit reached a minimum but the reduced
	// chi-square is above the target. Parameters are the best effort.
	TargetMissed

	// IterationCap means the iteration limit was exhausted. Parameters are
	// the best effort.
	IterationCap

	// Failed means the algorithm could not produce parameters. The
	// parameter vector holds the initial guess.
	Failed

	// Invalid means the datum was rejected before fitting.
	Invalid
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Converged:
		return "converged"
	case TargetMissed:
		return "target-missed"
	case IterationCap:
		return "iteration-cap"
	case Failed:
		return "failed"
	case Invalid:
		return "invalid"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Config holds the fit settings shared by a set of data.
// It is passed by value and never modified by a Fitter.
type Config struct {
	Model FunctionModel
	Noise NoiseModel

	// Prompt is the instrument response. Nil disables deconvolution.
	Prompt []float64

	// PromptOffset is the decay bin at which Prompt[0] sits.
	PromptOffset int

	// XInc is the time per bin.
	XInc float64

	// Free marks adjustable parameters. Nil means all free.
	// Index 0 is ignored.
	Free []bool

	// ChiSquareTarget is the reduced chi-square convergence target.
	ChiSquareTarget float64

	// LegacyEstimateStart makes estimators integrate from the curve peak
	// inside the window instead of the window start.
	LegacyEstimateStart bool

	// MaxIterations caps iterative algorithms.
	MaxIterations int
}

// target returns the effective chi-square target.
func (c *Config) target() float64 {
	if c.ChiSquareTarget > 0 {
		return c.ChiSquareTarget
	}
	return DefaultChiSquareTarget
}

// maxIterations returns the effective iteration cap.
func (c *Config) maxIterations() int {
	if c.MaxIterations > 0 {
		return c.MaxIterations
	}
	return DefaultMaxIterations
}

// isFree reports whether parameter i may be adjusted.
func (c *Config) isFree(i int) bool {
	if i == IndexChiSquare {
		return false
	}
	if c.Free == nil {
		return true
	}
	return c.Free[i]
}

// freeIndices returns the indices of adjustable parameters.
func (c *Config) freeIndices() []int {
	n := c.Model.ParamCount()
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if c.isFree(i) {
			out = append(out, i)
		}
	}
	return out
}

// Datum is one curve to fit. Params, Fitted and the outputs are written by
// the Fitter; Curve and Sig are only read.
type Datum struct {
	Curve  []float64
	Sig    []float64
	Window Window

	// Params holds the initial guess on input and the fit on output.
	Params []float64

	// Fitted receives the model over the window. Allocated when nil.
	Fitted []float64

	ChiSquare  float64
	Status     Status
	Iterations int
	Err        error
}

// reject marks d invalid with err.
func (d *Datum) reject(err error) {
	d.Status = Invalid
	d.Err = err
}

// validate checks d against cfg.
func validate(cfg *Config, d *Datum) error {
	if !cfg.Model.Valid() {
		return fmt.Errorf("%w: function model %v", ErrInvalidInput, cfg.Model)
	}
	if cfg.Noise < GaussianFit || cfg.Noise > PoissonFit {
		return fmt.Errorf("%w: noise model %v", ErrInvalidInput, cfg.Noise)
	}
	if !(cfg.XInc > 0) {
		return fmt.Errorf("%w: time increment %v", ErrInvalidInput, cfg.XInc)
	}
	n := cfg.Model.ParamCount()
	if len(d.Params) != n {
		return fmt.Errorf("%w: %d parameters, %v model needs %d", ErrInvalidInput, len(d.Params), cfg.Model, n)
	}
	if cfg.Free != nil && len(cfg.Free) != n {
		return fmt.Errorf("%w: free mask has %d entries, want %d", ErrInvalidInput, len(cfg.Free), n)
	}
	if d.Sig != nil && len(d.Sig) != len(d.Curve) {
		return fmt.Errorf("%w: sig has %d entries, curve has %d", ErrInvalidInput, len(d.Sig), len(d.Curve))
	}
	if d.Fitted != nil && len(d.Fitted) != len(d.Curve) {
		return fmt.Errorf("%w: fitted buffer has %d entries, curve has %d", ErrInvalidInput, len(d.Fitted), len(d.Curve))
	}
	if cfg.PromptOffset < 0 {
		return fmt.Errorf("%w: prompt offset %d", ErrInvalidInput, cfg.PromptOffset)
	}
	return d.Window.Validate(len(d.Curve), len(cfg.freeIndices()))
}

// Fitter is a curve fitting algorithm.
//
// FitData fits every datum in place. Problems with a single datum are
// recorded in its Status and Err and never stop the remaining data. The
// returned error is non-nil only when ctx is cancelled; data not yet
// fitted are then left Pending.
type Fitter interface {
	Name() string
	FitData(ctx context.Context, cfg Config, data []*Datum) error
}

// New returns the fitter registered under name.
func New(name string) (Fitter, error) {
	switch name {
	case AlgorithmLMA, "":
		return LMA{}, nil
	case AlgorithmRLD:
		return RLD{}, nil
	case AlgorithmRLDLMA:
		return RLDLMA{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}

// fitEach runs fit for every datum, stopping early on cancellation.
func fitEach(ctx context.Context, cfg *Config, data []*Datum, fit func(context.Context, *Config, *Datum)) error {
	for _, d := range data {
		if d == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := validate(cfg, d); err != nil {
			d.reject(err)
			continue
		}
		if d.Fitted == nil {
			d.Fitted = make([]float64, len(d.Curve))
		}
		fit(ctx, cfg, d)
	}
	return ctx.Err()
}
