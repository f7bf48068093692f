// Package config reads flimfit settings files.
//
// A settings file is YAML:
//
//	fit:
//	  algorithm: rld-lma
//	  model: double
//	  noise: poisson-fit
//	  xinc: 0.0390625
//	  chi_square_target: 1.5
//	engine:
//	  threads: 8
//	chain:
//	  binning: 1
//	  threshold: 100
//	cursor:
//	  decay_start: 40
//	  decay_stop: 210
//	input:
//	  frames: data/cell-*.tif
//	output:
//	  map: lifetime.png
//	  max_lifetime: 4
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/flim"
	"github.com/gogpu/flim/curvefit"
	"github.com/gogpu/flim/cursor"
	"github.com/gogpu/flim/pixel"
)

// Config is a complete settings file.
type Config struct {
	Fit    FitConfig    `yaml:"fit"`
	Engine EngineConfig `yaml:"engine"`
	Chain  ChainConfig  `yaml:"chain"`
	Cursor CursorConfig `yaml:"cursor"`
	Input  InputConfig  `yaml:"input"`
	Output OutputConfig `yaml:"output"`
}

// FitConfig holds the settings shared by every pixel.
type FitConfig struct {
	Algorithm           string    `yaml:"algorithm"` // lma, rld, rld-lma
	Model               string    `yaml:"model"`     // single, double, triple, stretched
	Noise               string    `yaml:"noise"`     // gaussian, poisson-data, poisson-fit
	XInc                float64   `yaml:"xinc"`      // time per bin, ns
	ChiSquareTarget     float64   `yaml:"chi_square_target"`
	MaxIterations       int       `yaml:"max_iterations"`
	LegacyEstimateStart bool      `yaml:"legacy_estimate_start"`
	Free                []bool    `yaml:"free,omitempty"`    // one per parameter, chi-square slot first
	Initial             []float64 `yaml:"initial,omitempty"` // initial guess, chi-square slot first
}

// EngineConfig sizes the fitting engine.
type EngineConfig struct {
	Threads int `yaml:"threads"`
}

// ChainConfig describes the pixel source stages.
type ChainConfig struct {
	Binning   int     `yaml:"binning"`   // neighbourhood radius, 0 disables
	Threshold float64 `yaml:"threshold"` // minimum photon count in the fit window, 0 disables
}

// CursorConfig fixes cursors by hand. Unset decay cursors mean the
// heuristic estimator places them.
type CursorConfig struct {
	PromptStart *int `yaml:"prompt_start,omitempty"`
	PromptStop  *int `yaml:"prompt_stop,omitempty"`
	DecayStart  *int `yaml:"decay_start,omitempty"`
	DecayStop   *int `yaml:"decay_stop,omitempty"`
}

// InputConfig locates the data.
type InputConfig struct {
	Frames string    `yaml:"frames"`           // glob of time-bin frames, one file per bin
	Prompt []float64 `yaml:"prompt,omitempty"` // instrument response, one value per bin
}

// OutputConfig locates the results.
type OutputConfig struct {
	Map         string  `yaml:"map"`          // lifetime map PNG, empty disables
	MaxLifetime float64 `yaml:"max_lifetime"` // lifetime shown at full intensity
	Scale       int     `yaml:"scale"`        // map upscaling factor
}

// Load reads, parses and validates a settings file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates settings from YAML.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Global converts the fit settings. Validate must have succeeded.
func (c *Config) Global() flim.GlobalParams {
	model, _ := curvefit.ParseFunctionModel(c.Fit.Model)
	noise, _ := curvefit.ParseNoiseModel(c.Fit.Noise)
	return flim.GlobalParams{
		Algorithm:           c.Fit.Algorithm,
		Model:               model,
		Noise:               noise,
		ChiSquareTarget:     c.Fit.ChiSquareTarget,
		Free:                c.Fit.Free,
		XInc:                c.Fit.XInc,
		LegacyEstimateStart: c.Fit.LegacyEstimateStart,
		MaxIterations:       c.Fit.MaxIterations,
	}
}

// Initial returns a copy of the initial guess.
func (c *Config) Initial() []float64 {
	return append([]float64(nil), c.Fit.Initial...)
}

// EngineOptions returns the engine options the settings imply.
func (c *Config) EngineOptions() []flim.Option {
	opts := []flim.Option{flim.WithThreads(c.Engine.Threads)}
	if f, err := curvefit.New(c.Fit.Algorithm); err == nil {
		opts = append(opts, flim.WithCurveFitter(f))
	}
	return opts
}

// Stages returns the source chain stages in order: binning, then the
// photon-count threshold over win.
func (c *Config) Stages(win curvefit.Window) []pixel.Stage {
	var stages []pixel.Stage
	if c.Chain.Binning > 0 {
		stages = append(stages, pixel.Binning(c.Chain.Binning))
	}
	if c.Chain.Threshold > 0 {
		stages = append(stages, pixel.Threshold(win.Start, win.Stop, c.Chain.Threshold))
	}
	return stages
}

// ManualCursor returns the hand-set cursors, if any. Prompt cursors are -1
// when not set.
func (c *Config) ManualCursor() (cursor.Cursor, bool) {
	cc := c.Cursor
	if cc.DecayStart == nil || cc.DecayStop == nil {
		return cursor.Cursor{}, false
	}
	cur := cursor.Cursor{
		PromptStart: -1,
		PromptStop:  -1,
		DecayStart:  *cc.DecayStart,
		DecayStop:   *cc.DecayStop,
	}
	if cc.PromptStart != nil && cc.PromptStop != nil {
		cur.PromptStart = *cc.PromptStart
		cur.PromptStop = *cc.PromptStop
	}
	return cur, true
}
