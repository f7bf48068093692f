package config

import (
	"errors"
	"fmt"

	"github.com/gogpu/flim"
	"github.com/gogpu/flim/curvefit"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid settings")

// Validate checks cfg and fills in defaults.
func Validate(cfg *Config) error {
	f := &cfg.Fit

	if f.Algorithm == "" {
		f.Algorithm = curvefit.AlgorithmLMA
	}
	if _, err := curvefit.New(f.Algorithm); err != nil {
		return fmt.Errorf("%w: fit.algorithm: %w", ErrInvalid, err)
	}
	if f.Model == "" {
		f.Model = curvefit.SingleExp.String()
	}
	model, err := curvefit.ParseFunctionModel(f.Model)
	if err != nil {
		return fmt.Errorf("%w: fit.model: %w", ErrInvalid, err)
	}
	if f.Noise == "" {
		f.Noise = curvefit.GaussianFit.String()
	}
	if _, err := curvefit.ParseNoiseModel(f.Noise); err != nil {
		return fmt.Errorf("%w: fit.noise: %w", ErrInvalid, err)
	}
	if f.Algorithm == curvefit.AlgorithmRLD && model != curvefit.SingleExp {
		return fmt.Errorf("%w: fit.algorithm rld fits the single model only, got %s", ErrInvalid, f.Model)
	}
	if !(f.XInc > 0) {
		return fmt.Errorf("%w: fit.xinc must be > 0", ErrInvalid)
	}
	if f.ChiSquareTarget < 0 {
		return fmt.Errorf("%w: fit.chi_square_target must be >= 0", ErrInvalid)
	}
	if f.ChiSquareTarget == 0 {
		f.ChiSquareTarget = curvefit.DefaultChiSquareTarget
	}
	if f.MaxIterations < 0 {
		return fmt.Errorf("%w: fit.max_iterations must be >= 0", ErrInvalid)
	}

	n := model.ParamCount()
	if f.Free != nil {
		if len(f.Free) != n {
			return fmt.Errorf("%w: fit.free has %d entries, %s model needs %d", ErrInvalid, len(f.Free), f.Model, n)
		}
		f.Free[curvefit.IndexChiSquare] = false
	}
	if f.Initial == nil {
		f.Initial = DefaultGuess(model)
	}
	if len(f.Initial) != n {
		return fmt.Errorf("%w: fit.initial has %d entries, %s model needs %d", ErrInvalid, len(f.Initial), f.Model, n)
	}

	if cfg.Engine.Threads < 0 {
		return fmt.Errorf("%w: engine.threads must be >= 0", ErrInvalid)
	}
	if cfg.Engine.Threads == 0 {
		cfg.Engine.Threads = flim.DefaultThreads
	}

	if cfg.Chain.Binning < 0 {
		return fmt.Errorf("%w: chain.binning must be >= 0", ErrInvalid)
	}
	if cfg.Chain.Threshold < 0 {
		return fmt.Errorf("%w: chain.threshold must be >= 0", ErrInvalid)
	}

	if err := validateCursor(cfg.Cursor); err != nil {
		return err
	}

	if cfg.Output.MaxLifetime < 0 {
		return fmt.Errorf("%w: output.max_lifetime must be >= 0", ErrInvalid)
	}
	if cfg.Output.Scale <= 0 {
		cfg.Output.Scale = 1
	}
	return nil
}

func validateCursor(c CursorConfig) error {
	if (c.DecayStart == nil) != (c.DecayStop == nil) {
		return fmt.Errorf("%w: cursor.decay_start and cursor.decay_stop must be set together", ErrInvalid)
	}
	if (c.PromptStart == nil) != (c.PromptStop == nil) {
		return fmt.Errorf("%w: cursor.prompt_start and cursor.prompt_stop must be set together", ErrInvalid)
	}
	if c.PromptStart != nil && c.DecayStart == nil {
		return fmt.Errorf("%w: prompt cursors need decay cursors", ErrInvalid)
	}
	if c.DecayStart != nil && (*c.DecayStart < 0 || *c.DecayStop < *c.DecayStart) {
		return fmt.Errorf("%w: decay cursors [%d, %d]", ErrInvalid, *c.DecayStart, *c.DecayStop)
	}
	if c.PromptStart != nil && (*c.PromptStart < 0 || *c.PromptStop < *c.PromptStart) {
		return fmt.Errorf("%w: prompt cursors [%d, %d]", ErrInvalid, *c.PromptStart, *c.PromptStop)
	}
	return nil
}

// DefaultGuess returns a starting point for model: zero offset, 1000
// counts split across components, lifetimes 2, 2/3 and 2/9 ns.
func DefaultGuess(model curvefit.FunctionModel) []float64 {
	p := make([]float64, model.ParamCount())
	if model == curvefit.StretchedExp {
		p[2], p[3], p[4] = 1000, 2, 1
		return p
	}
	nc := model.Components()
	tau := 2.0
	for c := range nc {
		p[2+2*c] = 1000 / float64(nc)
		p[3+2*c] = tau
		tau /= 3
	}
	return p
}
