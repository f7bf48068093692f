// Package cursor derives fit windows and prompt alignment from curve shape.
package cursor

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/gogpu/flim/curvefit"
)

// ErrShortCurve is returned when a curve has too few bins to place cursors.
var ErrShortCurve = errors.New("cursor: curve too short")

// Cursor bounds the prompt and decay regions of a curve.
// Prompt indices are -1 when no prompt is in use.
type Cursor struct {
	PromptStart int
	PromptStop  int
	DecayStart  int
	DecayStop   int
}

// Window returns the decay fit window.
func (c Cursor) Window() curvefit.Window {
	return curvefit.Window{Start: c.DecayStart, Stop: c.DecayStop}
}

// HasPrompt reports whether prompt cursors are set.
func (c Cursor) HasPrompt() bool {
	return c.PromptStart >= 0 && c.PromptStop >= c.PromptStart
}

// TrimPrompt returns the prompt bins inside the prompt cursors and the decay
// bin at which the first of them sits. It returns nil when c has no prompt.
func (c Cursor) TrimPrompt(prompt []float64) ([]float64, int) {
	if !c.HasPrompt() || c.PromptStart >= len(prompt) {
		return nil, 0
	}
	stop := min(c.PromptStop, len(prompt)-1)
	return append([]float64(nil), prompt[c.PromptStart:stop+1]...), c.PromptStart
}

// Estimator places cursors.
//
// Global derives cursors from a representative curve (typically the sum of
// all pixels). Local refines them for one pixel's decay.
type Estimator interface {
	Global(prompt, decay []float64) (Cursor, error)
	Local(global Cursor, prompt, decay []float64) (Cursor, error)
}

// Heuristic is a coarse default estimator:
//
//   - prompt start: steepest rise of the prompt
//   - prompt stop: steepest decline of the prompt
//   - decay start: steepest rise of the decay
//   - decay stop: 7/8 of the decay length
//
// Ties resolve to the earliest bin. Local returns the global cursors clamped
// to the pixel's curve.
type Heuristic struct{}

var _ Estimator = Heuristic{}

// Global implements Estimator.
func (Heuristic) Global(prompt, decay []float64) (Cursor, error) {
	if len(decay) < 2 {
		return Cursor{}, fmt.Errorf("%w: decay has %d bins", ErrShortCurve, len(decay))
	}
	c := Cursor{PromptStart: -1, PromptStop: -1}

	if len(prompt) > 0 {
		if len(prompt) < 2 {
			return Cursor{}, fmt.Errorf("%w: prompt has %d bins", ErrShortCurve, len(prompt))
		}
		diff := forwardDiff(prompt)
		c.PromptStart = floats.MaxIdx(diff)
		c.PromptStop = floats.MinIdx(diff)
	}

	c.DecayStart = floats.MaxIdx(forwardDiff(decay))
	c.DecayStop = len(decay) * 7 / 8
	if c.DecayStop <= c.DecayStart {
		c.DecayStop = len(decay) - 1
	}
	return c, nil
}

// Local implements Estimator.
func (Heuristic) Local(global Cursor, _, decay []float64) (Cursor, error) {
	if len(decay) == 0 {
		return Cursor{}, fmt.Errorf("%w: decay has 0 bins", ErrShortCurve)
	}
	c := global
	c.DecayStop = min(c.DecayStop, len(decay)-1)
	c.DecayStart = min(c.DecayStart, c.DecayStop)
	return c, nil
}

// forwardDiff returns d[i] = v[i+1] - v[i].
func forwardDiff(v []float64) []float64 {
	d := make([]float64, len(v)-1)
	floats.SubTo(d, v[1:], v[:len(v)-1])
	return d
}
