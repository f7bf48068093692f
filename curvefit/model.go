package curvefit

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// evaluator computes the model and its Jacobian over a fit window.
//
// Without a prompt the time origin is the window start. With a prompt the
// decay terms are convolved with the normalised prompt placed at
// promptOffset, and the time origin is bin 0.
type evaluator struct {
	model  FunctionModel
	xinc   float64
	prompt []float64
	offset int
	win    Window

	// basis and dbasis hold the unconvolved decay terms and their
	// derivatives for time samples 0..len(basis)-1.
	basis  []float64
	dbasis [][]float64
}

func newEvaluator(cfg *Config, win Window) *evaluator {
	e := &evaluator{
		model: cfg.Model,
		xinc:  cfg.XInc,
		win:   win,
	}
	samples := win.Len()
	if len(cfg.Prompt) > 0 {
		if sum := floats.Sum(cfg.Prompt); sum > 0 {
			e.prompt = make([]float64, len(cfg.Prompt))
			floats.ScaleTo(e.prompt, 1/sum, cfg.Prompt)
			e.offset = cfg.PromptOffset
			samples = max(win.Stop-e.offset+1, 0)
		}
	}
	n := cfg.Model.ParamCount()
	e.basis = make([]float64, samples)
	e.dbasis = make([][]float64, samples)
	for k := range e.dbasis {
		e.dbasis[k] = make([]float64, n)
	}
	return e
}

// rows returns the number of window bins.
func (e *evaluator) rows() int { return e.win.Len() }

// fillBasis evaluates the decay terms. It reports false when a lifetime or
// stretch parameter is not positive.
func (e *evaluator) fillBasis(p []float64) bool {
	switch e.model {
	case StretchedExp:
		if !(p[3] > 0) || !(p[4] > 0) {
			return false
		}
	default:
		for c := 0; c < e.model.Components(); c++ {
			if !(p[3+2*c] > 0) {
				return false
			}
		}
	}

	for k := range e.basis {
		t := float64(k) * e.xinc
		d := e.dbasis[k]
		clear(d)
		var v float64

		if e.model == StretchedExp {
			a, tau, h := p[2], p[3], p[4]
			if t == 0 {
				v = a
				d[2] = 1
			} else {
				r := t / tau
				s := math.Pow(r, 1/h)
				ex := math.Exp(-s)
				v = a * ex
				d[2] = ex
				d[3] = a * ex * s / (h * tau)
				d[4] = a * ex * s * math.Log(r) / (h * h)
			}
		} else {
			for c := 0; c < e.model.Components(); c++ {
				a, tau := p[2+2*c], p[3+2*c]
				ex := math.Exp(-t / tau)
				v += a * ex
				d[2+2*c] = ex
				d[3+2*c] = a * ex * t / (tau * tau)
			}
		}
		e.basis[k] = v
	}
	return true
}

// eval writes the model over the window into y and, when jac is not nil,
// the partial derivatives into jac (rows × ParamCount).
func (e *evaluator) eval(p, y []float64, jac *mat.Dense) bool {
	if !e.fillBasis(p) {
		return false
	}
	z := p[IndexZ]
	n := e.model.ParamCount()

	for r := 0; r < e.rows(); r++ {
		i := e.win.Start + r
		var v float64
		if e.prompt == nil {
			v = e.basis[r]
			if jac != nil {
				for q := 2; q < n; q++ {
					jac.Set(r, q, e.dbasis[r][q])
				}
			}
		} else {
			if jac != nil {
				for q := 2; q < n; q++ {
					jac.Set(r, q, 0)
				}
			}
			last := min(len(e.prompt)-1, i-e.offset)
			for j := 0; j <= last; j++ {
				k := i - e.offset - j
				w := e.prompt[j]
				v += w * e.basis[k]
				if jac != nil {
					for q := 2; q < n; q++ {
						jac.Set(r, q, jac.At(r, q)+w*e.dbasis[k][q])
					}
				}
			}
		}
		y[r] = z + v
		if jac != nil {
			jac.Set(r, IndexChiSquare, 0)
			jac.Set(r, IndexZ, 1)
		}
	}
	return true
}

// weights computes 1/sigma² per window row.
func weights(noise NoiseModel, d *Datum, win Window, model, w []float64) {
	for r := range w {
		i := win.Start + r
		switch noise {
		case PoissonData:
			w[r] = 1 / math.Max(d.Curve[i], 1)
		case PoissonFit:
			w[r] = 1 / math.Max(model[r], 1)
		default:
			if d.Sig != nil && d.Sig[i] > 0 {
				w[r] = 1 / (d.Sig[i] * d.Sig[i])
			} else {
				w[r] = 1
			}
		}
	}
}

// chiSquare returns the weighted sum of squared residuals over the window.
func chiSquare(d *Datum, win Window, model, w []float64) float64 {
	var chi2 float64
	for r := range model {
		res := d.Curve[win.Start+r] - model[r]
		chi2 += res * res * w[r]
	}
	return chi2
}

// writeFitted copies the window model into d.Fitted and zeroes the rest.
func writeFitted(d *Datum, win Window, model []float64) {
	clear(d.Fitted)
	copy(d.Fitted[win.Start:win.Stop+1], model)
}

// finish records the reduced chi-square and status of a completed fit.
func finish(cfg *Config, d *Datum, chi2 float64, nfree int, capped bool) {
	dof := d.Window.Len() - nfree
	red := chi2 / float64(dof)
	d.ChiSquare = red
	d.Params[IndexChiSquare] = red
	switch {
	case capped:
		d.Status = IterationCap
	case red <= cfg.target():
		d.Status = Converged
	default:
		d.Status = TargetMissed
	}
}
