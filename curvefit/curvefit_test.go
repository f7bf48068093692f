package curvefit

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"testing"
)

const testXInc = 0.0390625

// synth returns a 256-bin curve with z + Σ a·exp(-(i-start)·xinc/tau) for
// i >= start and z before.
func synth(start int, z float64, comps ...[2]float64) []float64 {
	curve := make([]float64, 256)
	for i := range curve {
		curve[i] = z
		if i < start {
			continue
		}
		t := float64(i-start) * testXInc
		for _, c := range comps {
			curve[i] += c[0] * math.Exp(-t/c[1])
		}
	}
	return curve
}

func singleCfg() Config {
	return Config{Model: SingleExp, XInc: testXInc, ChiSquareTarget: 1.5}
}

func near(got, want, rel float64) bool {
	return math.Abs(got-want) <= rel*math.Abs(want)
}

func TestWindow_Validate(t *testing.T) {
	tests := []struct {
		name string
		w    Window
		n    int
		dof  int
		ok   bool
	}{
		{"inside", Window{40, 210}, 256, 3, true},
		{"last bin", Window{0, 255}, 256, 3, true},
		{"stop past end", Window{0, 256}, 256, 3, false},
		{"negative start", Window{-1, 10}, 256, 3, false},
		{"reversed", Window{20, 10}, 256, 3, false},
		{"too few bins", Window{10, 12}, 256, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.w.Validate(tt.n, tt.dof)
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
			if err != nil && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("error %v does not wrap ErrInvalidInput", err)
			}
		})
	}
}

func TestFunctionModel_ParamCount(t *testing.T) {
	want := map[FunctionModel]int{SingleExp: 4, DoubleExp: 6, TripleExp: 8, StretchedExp: 5}
	for m, n := range want {
		if got := m.ParamCount(); got != n {
			t.Errorf("%v.ParamCount() = %d, want %d", m, got, n)
		}
		parsed, err := ParseFunctionModel(m.String())
		if err != nil || parsed != m {
			t.Errorf("ParseFunctionModel(%q) = %v, %v", m.String(), parsed, err)
		}
	}
	if FunctionModel(42).Valid() {
		t.Error("unknown model should be invalid")
	}
}

func TestNew(t *testing.T) {
	for _, name := range []string{AlgorithmLMA, AlgorithmRLD, AlgorithmRLDLMA} {
		f, err := New(name)
		if err != nil {
			t.Fatalf("New(%q): %v", name, err)
		}
		if f.Name() != name {
			t.Errorf("Name() = %q, want %q", f.Name(), name)
		}
	}
	if _, err := New("simplex"); !errors.Is(err, ErrUnknownAlgorithm) {
		t.Errorf("New(simplex) error = %v", err)
	}
}

func TestLMA_SingleExpConverges(t *testing.T) {
	curve := synth(40, 2, [2]float64{1000, 2.0})
	orig := append([]float64(nil), curve...)
	d := &Datum{Curve: curve, Window: Window{40, 210}, Params: []float64{0, 0, 500, 1.0}}

	if err := (LMA{}).FitData(context.Background(), singleCfg(), []*Datum{d}); err != nil {
		t.Fatalf("FitData: %v", err)
	}
	if d.Status != Converged {
		t.Fatalf("Status = %v (%v), want converged", d.Status, d.Err)
	}
	if !near(d.Params[3], 2.0, 1e-4) || !near(d.Params[2], 1000, 1e-4) || !near(d.Params[1], 2, 1e-3) {
		t.Errorf("Params = %v, want [_, 2, 1000, 2]", d.Params)
	}
	if d.Params[IndexChiSquare] != d.ChiSquare {
		t.Errorf("chi-square slot = %v, want %v", d.Params[0], d.ChiSquare)
	}
	if d.ChiSquare > 1.5 {
		t.Errorf("ChiSquare = %v, want <= 1.5", d.ChiSquare)
	}
	for i := range curve {
		if curve[i] != orig[i] {
			t.Fatalf("curve bin %d modified", i)
		}
	}
	if len(d.Fitted) != len(curve) || d.Fitted[0] != 0 || !near(d.Fitted[40], 1002, 1e-4) {
		t.Errorf("Fitted[0]=%v Fitted[40]=%v", d.Fitted[0], d.Fitted[40])
	}
}

func TestLMA_FixedParameterHeld(t *testing.T) {
	curve := synth(40, 5, [2]float64{800, 1.5})
	cfg := singleCfg()
	cfg.Free = []bool{false, false, true, true}
	d := &Datum{Curve: curve, Window: Window{40, 210}, Params: []float64{0, 5, 400, 1.0}}

	_ = (LMA{}).FitData(context.Background(), cfg, []*Datum{d})
	if d.Params[IndexZ] != 5 {
		t.Errorf("fixed Z changed to %v", d.Params[IndexZ])
	}
	if !near(d.Params[3], 1.5, 1e-4) {
		t.Errorf("T = %v, want 1.5", d.Params[3])
	}
}

func TestLMA_InvalidDatumDoesNotStopOthers(t *testing.T) {
	curve := synth(40, 2, [2]float64{1000, 2.0})
	bad := &Datum{Curve: curve, Window: Window{40, 300}, Params: []float64{0, 0, 500, 1}}
	short := &Datum{Curve: curve, Window: Window{40, 210}, Params: []float64{0, 0, 500}}
	good := &Datum{Curve: curve, Window: Window{40, 210}, Params: []float64{0, 0, 500, 1}}

	if err := (LMA{}).FitData(context.Background(), singleCfg(), []*Datum{bad, short, nil, good}); err != nil {
		t.Fatalf("FitData: %v", err)
	}
	for _, d := range []*Datum{bad, short} {
		if d.Status != Invalid || !errors.Is(d.Err, ErrInvalidInput) {
			t.Errorf("Status = %v, Err = %v, want invalid", d.Status, d.Err)
		}
	}
	if good.Status != Converged {
		t.Errorf("good Status = %v", good.Status)
	}
}

func TestLMA_TargetMissed(t *testing.T) {
	curve := synth(40, 2, [2]float64{1000, 2.0})
	for i := range curve {
		if i%2 == 0 {
			curve[i] += 20
		} else {
			curve[i] -= 20
		}
	}
	d := &Datum{Curve: curve, Window: Window{40, 210}, Params: []float64{0, 0, 500, 1}}
	_ = (LMA{}).FitData(context.Background(), singleCfg(), []*Datum{d})

	if d.Status != TargetMissed {
		t.Fatalf("Status = %v, want target-missed", d.Status)
	}
	if d.ChiSquare < 100 {
		t.Errorf("ChiSquare = %v, expected large residual", d.ChiSquare)
	}
	if !near(d.Params[3], 2.0, 0.05) {
		t.Errorf("best-effort T = %v, want about 2", d.Params[3])
	}
}

func TestLMA_IterationCap(t *testing.T) {
	curve := synth(40, 2, [2]float64{1000, 2.0})
	cfg := singleCfg()
	cfg.MaxIterations = 1
	d := &Datum{Curve: curve, Window: Window{40, 210}, Params: []float64{0, 0, 500, 1}}
	_ = (LMA{}).FitData(context.Background(), cfg, []*Datum{d})

	if d.Status != IterationCap || d.Iterations != 1 {
		t.Errorf("Status = %v after %d iterations, want iteration-cap after 1", d.Status, d.Iterations)
	}
}

func TestLMA_PoissonNoiseModels(t *testing.T) {
	for _, noise := range []NoiseModel{PoissonData, PoissonFit} {
		t.Run(noise.String(), func(t *testing.T) {
			curve := synth(40, 2, [2]float64{1000, 2.0})
			cfg := singleCfg()
			cfg.Noise = noise
			d := &Datum{Curve: curve, Window: Window{40, 210}, Params: []float64{0, 0, 500, 1}}
			_ = (LMA{}).FitData(context.Background(), cfg, []*Datum{d})
			if d.Status != Converged || !near(d.Params[3], 2.0, 1e-4) {
				t.Errorf("Status = %v, Params = %v", d.Status, d.Params)
			}
		})
	}
}

func TestLMA_SigWeights(t *testing.T) {
	curve := synth(40, 2, [2]float64{1000, 2.0})
	sig := make([]float64, len(curve))
	for i := range sig {
		sig[i] = 2
	}
	d := &Datum{Curve: curve, Sig: sig, Window: Window{40, 210}, Params: []float64{0, 0, 500, 1}}
	_ = (LMA{}).FitData(context.Background(), singleCfg(), []*Datum{d})
	if d.Status != Converged {
		t.Errorf("Status = %v (%v)", d.Status, d.Err)
	}

	d = &Datum{Curve: curve, Sig: sig[:10], Window: Window{40, 210}, Params: []float64{0, 0, 500, 1}}
	_ = (LMA{}).FitData(context.Background(), singleCfg(), []*Datum{d})
	if d.Status != Invalid {
		t.Errorf("short sig Status = %v, want invalid", d.Status)
	}
}

func TestLMA_DeconvolvesPrompt(t *testing.T) {
	prompt := []float64{1, 4, 9, 12, 9, 4, 1}
	const offset = 30
	const a, tau, z = 1200.0, 1.8, 3.0

	norm := 0.0
	for _, v := range prompt {
		norm += v
	}
	curve := make([]float64, 256)
	for i := range curve {
		v := 0.0
		for j, p := range prompt {
			k := i - offset - j
			if k < 0 {
				continue
			}
			v += p / norm * a * math.Exp(-float64(k)*testXInc/tau)
		}
		curve[i] = z + v
	}

	cfg := singleCfg()
	cfg.Prompt = prompt
	cfg.PromptOffset = offset
	d := &Datum{Curve: curve, Window: Window{40, 210}, Params: []float64{0, 0, 600, 1}}
	_ = (LMA{}).FitData(context.Background(), cfg, []*Datum{d})

	if d.Status != Converged {
		t.Fatalf("Status = %v (%v)", d.Status, d.Err)
	}
	if !near(d.Params[3], tau, 1e-4) || !near(d.Params[2], a, 1e-4) {
		t.Errorf("Params = %v, want A=%v T=%v", d.Params, a, tau)
	}
}

func TestLMA_DoubleExp(t *testing.T) {
	curve := synth(40, 1, [2]float64{600, 0.5}, [2]float64{400, 3.0})
	cfg := singleCfg()
	cfg.Model = DoubleExp
	d := &Datum{Curve: curve, Window: Window{40, 210}, Params: []float64{0, 0, 300, 2, 300, 0.3}}
	_ = (LMA{}).FitData(context.Background(), cfg, []*Datum{d})

	if d.Status != Converged {
		t.Fatalf("Status = %v (%v), params %v", d.Status, d.Err, d.Params)
	}
	taus := []float64{d.Params[3], d.Params[5]}
	sort.Float64s(taus)
	if !near(taus[0], 0.5, 1e-3) || !near(taus[1], 3.0, 1e-3) {
		t.Errorf("lifetimes = %v, want [0.5 3]", taus)
	}
}

func TestLMA_StretchedExp(t *testing.T) {
	curve := synth(40, 0, [2]float64{1000, 2.0})
	cfg := singleCfg()
	cfg.Model = StretchedExp
	d := &Datum{Curve: curve, Window: Window{40, 210}, Params: []float64{0, 0, 800, 1.5, 1.2}}
	_ = (LMA{}).FitData(context.Background(), cfg, []*Datum{d})

	if d.Status != Converged {
		t.Fatalf("Status = %v (%v)", d.Status, d.Err)
	}
	if !near(d.Params[3], 2.0, 1e-3) || !near(d.Params[4], 1.0, 1e-3) {
		t.Errorf("Params = %v, want T=2 H=1", d.Params)
	}
}

func TestRLD_SingleExpExact(t *testing.T) {
	curve := synth(40, 4, [2]float64{900, 1.2})
	d := &Datum{Curve: curve, Window: Window{40, 210}, Params: make([]float64, 4)}
	_ = (RLD{}).FitData(context.Background(), singleCfg(), []*Datum{d})

	if d.Status != Converged {
		t.Fatalf("Status = %v (%v)", d.Status, d.Err)
	}
	if !near(d.Params[3], 1.2, 1e-6) || !near(d.Params[2], 900, 1e-6) || !near(d.Params[1], 4, 1e-5) {
		t.Errorf("Params = %v, want [_, 4, 900, 1.2]", d.Params)
	}
}

func TestRLD_LegacyEstimateStart(t *testing.T) {
	curve := synth(50, 0, [2]float64{900, 1.2})
	for i := 0; i < 50; i++ {
		curve[i] = 0
	}
	cfg := singleCfg()
	cfg.LegacyEstimateStart = true
	d := &Datum{Curve: curve, Window: Window{40, 210}, Params: make([]float64, 4)}
	_ = (RLD{}).FitData(context.Background(), cfg, []*Datum{d})

	if d.Err != nil || !near(d.Params[3], 1.2, 1e-6) {
		t.Errorf("T = %v (err %v), want 1.2", d.Params[3], d.Err)
	}
}

func TestRLD_Failures(t *testing.T) {
	flat := make([]float64, 256)
	for i := range flat {
		flat[i] = 10
	}
	d := &Datum{Curve: flat, Window: Window{40, 210}, Params: []float64{0, 0, 1, 1}}
	_ = (RLD{}).FitData(context.Background(), singleCfg(), []*Datum{d})
	if d.Status != Failed || !errors.Is(d.Err, ErrNoEstimate) {
		t.Errorf("flat curve Status = %v, Err = %v", d.Status, d.Err)
	}

	cfg := singleCfg()
	cfg.Model = DoubleExp
	d = &Datum{Curve: flat, Window: Window{40, 210}, Params: make([]float64, 6)}
	_ = (RLD{}).FitData(context.Background(), cfg, []*Datum{d})
	if d.Status != Invalid || !errors.Is(d.Err, ErrUnsupportedModel) {
		t.Errorf("double model Status = %v, Err = %v", d.Status, d.Err)
	}
}

func TestRLDLMA_FromPoorGuess(t *testing.T) {
	curve := synth(40, 2, [2]float64{1000, 2.0})
	d := &Datum{Curve: curve, Window: Window{40, 210}, Params: []float64{0, 0, 1, 50}}
	_ = (RLDLMA{}).FitData(context.Background(), singleCfg(), []*Datum{d})

	if d.Status != Converged || !near(d.Params[3], 2.0, 1e-4) {
		t.Errorf("Status = %v, Params = %v", d.Status, d.Params)
	}
}

func TestFitData_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := &Datum{Curve: synth(40, 0, [2]float64{10, 1}), Window: Window{40, 210}, Params: []float64{0, 0, 5, 1}}
	err := (LMA{}).FitData(ctx, singleCfg(), []*Datum{d})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if d.Status != Pending {
		t.Errorf("Status = %v, want pending", d.Status)
	}
}

func TestLMA_ConcurrentUseIsDeterministic(t *testing.T) {
	curve := synth(40, 2, [2]float64{1000, 2.0})
	var fitter Fitter = LMA{}

	run := func() []float64 {
		d := &Datum{Curve: curve, Window: Window{40, 210}, Params: []float64{0, 0, 500, 1}}
		_ = fitter.FitData(context.Background(), singleCfg(), []*Datum{d})
		return d.Params
	}
	want := run()

	var wg sync.WaitGroup
	results := make([][]float64, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = run()
		}()
	}
	wg.Wait()

	for i, got := range results {
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("goroutine %d param %d = %v, want %v", i, j, got[j], want[j])
			}
		}
	}
}
