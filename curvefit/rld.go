package curvefit

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// RLD is rapid lifetime determination: a closed-form single exponential
// estimate from three equal-width integrals over the window. It ignores the
// prompt and fits the tail only.
//
// With a free offset the triple-integral form is used; when the curve does
// not support it (too flat or too noisy) the two-gate form with zero offset
// is used instead.
type RLD struct{}

// Name returns AlgorithmRLD.
func (RLD) Name() string { return AlgorithmRLD }

// FitData estimates every datum in place.
func (RLD) FitData(ctx context.Context, cfg Config, data []*Datum) error {
	return fitEach(ctx, &cfg, data, fitRLD)
}

// estimateStart returns the bin the estimate integrates from.
func estimateStart(cfg *Config, d *Datum) int {
	if !cfg.LegacyEstimateStart {
		return d.Window.Start
	}
	seg := d.Curve[d.Window.Start : d.Window.Stop+1]
	return d.Window.Start + floats.MaxIdx(seg)
}

// rldEstimate computes Z, A and T for a single exponential with its time
// origin at the window start. Fixed parameters in p are honoured.
func rldEstimate(cfg *Config, d *Datum, p []float64) (z, a, tau float64, err error) {
	start := estimateStart(cfg, d)
	n := (d.Window.Stop - start + 1) / 3
	if n < 1 {
		return 0, 0, 0, fmt.Errorf("%w: %d bins after estimate start", ErrNoEstimate, d.Window.Stop-start+1)
	}
	d0 := floats.Sum(d.Curve[start : start+n])
	d1 := floats.Sum(d.Curve[start+n : start+2*n])
	d2 := floats.Sum(d.Curve[start+2*n : start+3*n])
	dt := float64(n) * cfg.XInc

	zFree := cfg.isFree(IndexZ)
	tFree := cfg.isFree(3)

	switch {
	case !tFree:
		tau = p[3]
	case zFree && d0 > d1 && d1 > d2 && d0-d1 > d1-d2:
		tau = dt / math.Log((d0-d1)/(d1-d2))
	default:
		zg := 0.0
		if !zFree {
			zg = p[IndexZ] * float64(n)
		}
		if d0-zg > d1-zg && d1-zg > 0 {
			tau = dt / math.Log((d0-zg)/(d1-zg))
		}
		zFree = false
	}
	if !(tau > 0) || math.IsInf(tau, 0) {
		return 0, 0, 0, fmt.Errorf("%w: curve does not decay", ErrNoEstimate)
	}

	// S = sum of exp(-k·xinc/tau) over one gate; q = decay across a gate.
	var s float64
	for k := 0; k < n; k++ {
		s += math.Exp(-float64(k) * cfg.XInc / tau)
	}
	q := math.Exp(-dt / tau)

	switch {
	case !cfg.isFree(IndexZ):
		z = p[IndexZ]
		a = (d0 - z*float64(n)) / s
	case zFree:
		a = (d0 - d1) / (s * (1 - q))
		z = (d0 - a*s) / float64(n)
	default:
		z = 0
		a = d0 / s
	}
	if !cfg.isFree(2) {
		a = p[2]
	} else {
		// Move the amplitude from the estimate start to the window start.
		a *= math.Exp(float64(start-d.Window.Start) * cfg.XInc / tau)
	}
	return z, a, tau, nil
}

func fitRLD(_ context.Context, cfg *Config, d *Datum) {
	if cfg.Model != SingleExp {
		d.reject(fmt.Errorf("%w: rld fits %v only, got %v", ErrUnsupportedModel, SingleExp, cfg.Model))
		return
	}
	z, a, tau, err := rldEstimate(cfg, d, d.Params)
	if err != nil {
		d.Status = Failed
		d.Err = err
		return
	}
	d.Params[IndexZ], d.Params[2], d.Params[3] = z, a, tau

	// Score the estimate against the tail model.
	tail := *cfg
	tail.Prompt = nil
	ev := newEvaluator(&tail, d.Window)
	model := make([]float64, d.Window.Len())
	w := make([]float64, len(model))
	if !ev.eval(d.Params, model, nil) {
		d.Status = Failed
		d.Err = ErrNoEstimate
		return
	}
	weights(cfg.Noise, d, d.Window, model, w)
	d.Iterations = 1
	writeFitted(d, d.Window, model)
	finish(cfg, d, chiSquare(d, d.Window, model, w), len(cfg.freeIndices()), false)
}

// RLDLMA seeds Levenberg-Marquardt with an RLD estimate.
// Multi-component models split the estimated amplitude evenly across
// components and spread lifetimes by factors of three. When the estimate
// fails the caller's initial guess is used unchanged.
type RLDLMA struct{}

// Name returns AlgorithmRLDLMA.
func (RLDLMA) Name() string { return AlgorithmRLDLMA }

// FitData fits every datum in place.
func (RLDLMA) FitData(ctx context.Context, cfg Config, data []*Datum) error {
	return fitEach(ctx, &cfg, data, fitRLDLMA)
}

func fitRLDLMA(ctx context.Context, cfg *Config, d *Datum) {
	single := *cfg
	single.Model = SingleExp
	single.Free = nil
	if cfg.Free != nil {
		// Carry the offset and first component mask over.
		single.Free = append([]bool(nil), cfg.Free[:4]...)
	}
	probe := []float64{0, d.Params[IndexZ], d.Params[2], d.Params[3]}

	if z, a, tau, err := rldEstimate(&single, d, probe); err == nil {
		seed(cfg, d.Params, z, a, tau)
	}
	fitLMA(ctx, cfg, d)
}

// seed writes an RLD estimate into the free entries of p.
func seed(cfg *Config, p []float64, z, a, tau float64) {
	set := func(i int, v float64) {
		if cfg.isFree(i) {
			p[i] = v
		}
	}
	set(IndexZ, z)
	switch cfg.Model {
	case StretchedExp:
		set(2, a)
		set(3, tau)
		set(4, 1)
	default:
		nc := cfg.Model.Components()
		scale := 1.0
		for c := 0; c < nc; c++ {
			set(2+2*c, a/float64(nc))
			set(3+2*c, tau*scale)
			scale /= 3
		}
	}
}
