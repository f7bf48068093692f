package flim

import (
	"context"
	"fmt"
	"slices"

	"github.com/gogpu/flim/curvefit"
)

// Task binds a fitter, the batch settings and one pixel into a single unit
// of work.
type Task struct {
	fitter curvefit.Fitter
	global *GlobalParams
	local  LocalParams
}

// NewTask creates a task. The fitter is used unless global.Algorithm names
// another one.
func NewTask(f curvefit.Fitter, global *GlobalParams, local LocalParams) *Task {
	return &Task{fitter: f, global: global, local: local}
}

// Run fits the pixel and returns a fresh Result.
//
// The initial guess is cloned before fitting, so the LocalParams are left
// as they were (apart from the optional Fitted buffer). Per-pixel problems
// are reported in Result.Err; the error return is reserved for
// cancellation.
func (t *Task) Run(ctx context.Context) (*Result, error) {
	l := &t.local

	fitter := t.fitter
	if t.global.Algorithm != "" && (fitter == nil || fitter.Name() != t.global.Algorithm) {
		f, err := curvefit.New(t.global.Algorithm)
		if err != nil {
			return t.reject(fmt.Errorf("%w: %w", curvefit.ErrInvalidInput, err)), nil
		}
		fitter = f
	}
	if fitter == nil {
		return t.reject(ErrNilFitter), nil
	}

	d := &curvefit.Datum{
		Curve:  slices.Clone(l.Curve),
		Sig:    l.Sig,
		Window: l.Window,
		Params: slices.Clone(l.Params),
	}
	if err := fitter.FitData(ctx, t.global.config(), []*curvefit.Datum{d}); err != nil {
		return nil, err
	}

	if d.Fitted != nil && len(l.Fitted) == len(d.Fitted) {
		copy(l.Fitted, d.Fitted)
	}

	res := &Result{
		Pixel:      l.Pixel,
		Model:      t.global.Model,
		ChiSquare:  d.ChiSquare,
		Params:     d.Params,
		Fitted:     d.Fitted,
		Status:     d.Status,
		Iterations: d.Iterations,
	}
	if d.Err != nil {
		res.Err = &PixelError{Pixel: l.Pixel, Err: d.Err}
	}
	return res, nil
}

// reject builds an invalid Result for err without fitting.
func (t *Task) reject(err error) *Result {
	return &Result{
		Pixel:  t.local.Pixel,
		Model:  t.global.Model,
		Params: slices.Clone(t.local.Params),
		Status: curvefit.Invalid,
		Err:    &PixelError{Pixel: t.local.Pixel, Err: err},
	}
}
