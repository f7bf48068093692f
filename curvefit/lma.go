package curvefit

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"
)

// LMA tolerances.
const (
	// lmaStallTol is the relative chi-square decrease below which an
	// accepted step counts as a stall.
	lmaStallTol = 1e-6

	// lmaStallSteps is the number of consecutive stalls that end the fit.
	lmaStallSteps = 2

	lmaLambdaStart = 1e-3
	lmaLambdaMax   = 1e10
)

// LMA is a Levenberg-Marquardt least-squares fitter with an analytic
// Jacobian. When a prompt is configured the model is convolved with it.
type LMA struct{}

// Name returns AlgorithmLMA.
func (LMA) Name() string { return AlgorithmLMA }

// FitData fits every datum in place.
func (LMA) FitData(ctx context.Context, cfg Config, data []*Datum) error {
	return fitEach(ctx, &cfg, data, fitLMA)
}

// lmaState is the working set for one datum.
type lmaState struct {
	cfg  *Config
	d    *Datum
	ev   *evaluator
	free []int

	model []float64
	w     []float64
	jac   *mat.Dense

	alpha *mat.SymDense
	beta  *mat.VecDense
}

func newLMAState(cfg *Config, d *Datum) *lmaState {
	rows := d.Window.Len()
	free := cfg.freeIndices()
	return &lmaState{
		cfg:   cfg,
		d:     d,
		ev:    newEvaluator(cfg, d.Window),
		free:  free,
		model: make([]float64, rows),
		w:     make([]float64, rows),
		jac:   mat.NewDense(rows, cfg.Model.ParamCount(), nil),
		alpha: mat.NewSymDense(max(len(free), 1), nil),
		beta:  mat.NewVecDense(max(len(free), 1), nil),
	}
}

// chi2At evaluates the chi-square of p, returning +Inf for invalid p.
// When withJac is set the curvature matrix and gradient are rebuilt.
func (s *lmaState) chi2At(p []float64, withJac bool) float64 {
	var jac *mat.Dense
	if withJac {
		jac = s.jac
	}
	if !s.ev.eval(p, s.model, jac) {
		return math.Inf(1)
	}
	weights(s.cfg.Noise, s.d, s.d.Window, s.model, s.w)
	chi2 := chiSquare(s.d, s.d.Window, s.model, s.w)
	if math.IsNaN(chi2) {
		return math.Inf(1)
	}
	if withJac {
		s.buildNormal()
	}
	return chi2
}

// buildNormal fills alpha = JᵀWJ and beta = JᵀW(y - f) over free parameters.
func (s *lmaState) buildNormal() {
	nf := len(s.free)
	for a := 0; a < nf; a++ {
		for b := a; b < nf; b++ {
			s.alpha.SetSym(a, b, 0)
		}
		s.beta.SetVec(a, 0)
	}
	for r := range s.model {
		res := s.d.Curve[s.d.Window.Start+r] - s.model[r]
		wr := s.w[r]
		for a, qa := range s.free {
			ja := s.jac.At(r, qa) * wr
			s.beta.SetVec(a, s.beta.AtVec(a)+ja*res)
			for b := a; b < nf; b++ {
				s.alpha.SetSym(a, b, s.alpha.At(a, b)+ja*s.jac.At(r, s.free[b]))
			}
		}
	}
}

// step solves (alpha + lambda·diag(alpha)) δ = beta and returns the trial
// parameters, or nil when the system is singular.
func (s *lmaState) step(p []float64, lambda float64) []float64 {
	nf := len(s.free)
	aug := mat.NewSymDense(nf, nil)
	aug.CopySym(s.alpha)
	for a := 0; a < nf; a++ {
		diag := s.alpha.At(a, a)
		if diag == 0 {
			diag = 1
		}
		aug.SetSym(a, a, diag*(1+lambda))
	}

	var delta mat.VecDense
	var chol mat.Cholesky
	if chol.Factorize(aug) {
		if err := chol.SolveVecTo(&delta, s.beta); err != nil {
			return nil
		}
	} else if err := delta.SolveVec(aug, s.beta); err != nil {
		return nil
	}

	trial := append([]float64(nil), p...)
	for a, q := range s.free {
		trial[q] += delta.AtVec(a)
	}
	return trial
}

// fitLMA runs Levenberg-Marquardt on d.
func fitLMA(ctx context.Context, cfg *Config, d *Datum) {
	s := newLMAState(cfg, d)
	p := d.Params

	chi2 := s.chi2At(p, len(s.free) > 0)
	if math.IsInf(chi2, 1) {
		d.Status = Failed
		d.Err = ErrNoEstimate
		return
	}
	best := append([]float64(nil), s.model...)

	lambda := lmaLambdaStart
	stalls := 0
	done := len(s.free) == 0
	iter := 0
	maxIter := cfg.maxIterations()

	for ; !done && iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			d.Status = Failed
			d.Err = err
			return
		}

		trial := s.step(p, lambda)
		trialChi2 := math.Inf(1)
		if trial != nil {
			trialChi2 = s.chi2At(trial, false)
		}

		if trialChi2 < chi2 {
			rel := (chi2 - trialChi2) / chi2
			copy(p, trial)
			chi2 = s.chi2At(p, true)
			copy(best, s.model)
			lambda = math.Max(lambda/10, 1e-12)
			if rel < lmaStallTol {
				stalls++
			} else {
				stalls = 0
			}
			done = stalls >= lmaStallSteps || chi2 == 0
			continue
		}

		lambda *= 10
		done = lambda > lmaLambdaMax
	}

	d.Iterations = iter
	writeFitted(d, d.Window, best)
	finish(cfg, d, chi2, len(s.free), !done)
}
