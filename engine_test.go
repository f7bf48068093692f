package flim

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/flim/curvefit"
	"github.com/gogpu/flim/pixel"
)

const testXInc = 0.0390625

// decayCurve returns a 256-bin curve: a few background counts before bin
// 40, then z + a·exp(-t/tau).
func decayCurve(z, a, tau float64) []float64 {
	curve := make([]float64, 256)
	copy(curve, []float64{0, 3, 1, 2, 2, 0, 0, 0, 1, 1})
	for i := 40; i < len(curve); i++ {
		curve[i] = z + a*math.Exp(-float64(i-40)*testXInc/tau)
	}
	return curve
}

func singleGlobal() GlobalParams {
	return GlobalParams{
		Model:           curvefit.SingleExp,
		XInc:            testXInc,
		ChiSquareTarget: 1.5,
	}
}

func local(x, y int, curve []float64) LocalParams {
	return LocalParams{
		Pixel:  pixel.Loc(x, y),
		Curve:  curve,
		Params: []float64{0, 0, 500, 1.0},
		Window: curvefit.Window{Start: 40, Stop: 210},
	}
}

func variedBatch(n int) []LocalParams {
	locals := make([]LocalParams, n)
	for i := range locals {
		curve := decayCurve(1+float64(i%3), 500+float64(10*i), 0.8+0.05*float64(i))
		locals[i] = local(i%10, i/10, curve)
	}
	return locals
}

// funcFitter adapts a function to curvefit.Fitter.
type funcFitter struct {
	fn func(ctx context.Context, d *curvefit.Datum)
}

func (funcFitter) Name() string { return "func" }

func (f funcFitter) FitData(ctx context.Context, _ curvefit.Config, data []*curvefit.Datum) error {
	for _, d := range data {
		f.fn(ctx, d)
	}
	return ctx.Err()
}

func TestEngine_FitEndToEnd(t *testing.T) {
	eng := NewEngine()
	defer eng.Shutdown()

	res, err := eng.Fit(context.Background(), singleGlobal(), local(0, 0, decayCurve(2, 1000, 2)))
	require.NoError(t, err)
	require.NoError(t, res.Err)

	assert.Equal(t, curvefit.Converged, res.Status)
	assert.True(t, res.Converged())
	assert.Len(t, res.Params, 4)
	assert.Less(t, res.ChiSquare, 1.5)
	assert.InDelta(t, 2.0, res.Params[3], 1e-3)
	assert.InDelta(t, 2.0, res.Lifetime(), 1e-3)
	assert.Equal(t, pixel.Loc(0, 0), res.Pixel)
	assert.Equal(t, Idle, eng.State())
}

func TestEngine_BatchOfDuplicatesIsIdentical(t *testing.T) {
	eng := NewEngine(WithThreads(4))
	defer eng.Shutdown()

	curve := decayCurve(2, 1000, 2)
	locals := make([]LocalParams, 100)
	for i := range locals {
		locals[i] = local(3, 3, curve)
	}

	results, err := eng.FitBatch(context.Background(), singleGlobal(), locals)
	require.NoError(t, err)
	require.Len(t, results, 100)

	single, err := eng.Fit(context.Background(), singleGlobal(), locals[0])
	require.NoError(t, err)

	for i, r := range results {
		require.NotNil(t, r, "result %d", i)
		assert.True(t, r.Converged(), "result %d status %v", i, r.Status)
		assert.True(t, single.Equal(r), "result %d differs from single fit", i)
	}
}

func TestEngine_SingleMatchesBatchEntry(t *testing.T) {
	eng := NewEngine(WithThreads(4))
	defer eng.Shutdown()

	locals := variedBatch(24)
	results, err := eng.FitBatch(context.Background(), singleGlobal(), locals)
	require.NoError(t, err)
	require.Len(t, results, len(locals))

	for i, l := range locals {
		single, err := eng.Fit(context.Background(), singleGlobal(), l)
		require.NoError(t, err)
		assert.Equal(t, l.Pixel, results[i].Pixel, "order at %d", i)
		assert.True(t, single.Equal(results[i]), "pixel %v: single and batch differ", l.Pixel)
	}
}

func TestEngine_ResultsIndependentOfThreads(t *testing.T) {
	locals := variedBatch(40)

	run := func(threads int) []*Result {
		eng := NewEngine(WithThreads(threads))
		defer eng.Shutdown()
		res, err := eng.FitBatch(context.Background(), singleGlobal(), locals)
		require.NoError(t, err)
		return res
	}

	one := run(1)
	eight := run(8)
	require.Len(t, eight, len(one))
	for i := range one {
		assert.True(t, one[i].Equal(eight[i]), "index %d differs between 1 and 8 threads", i)
	}
}

func TestEngine_InitialGuessUntouched(t *testing.T) {
	eng := NewEngine(WithThreads(2))
	defer eng.Shutdown()

	l := local(1, 1, decayCurve(2, 1000, 2))
	l.Fitted = make([]float64, len(l.Curve))
	guess := slices.Clone(l.Params)
	curve := slices.Clone(l.Curve)

	res, err := eng.Fit(context.Background(), singleGlobal(), l)
	require.NoError(t, err)
	shared := l
	shared.Fitted = nil
	_, err = eng.FitBatch(context.Background(), singleGlobal(), []LocalParams{shared, shared})
	require.NoError(t, err)

	for i := range guess {
		assert.Equal(t, math.Float64bits(guess[i]), math.Float64bits(l.Params[i]), "guess[%d]", i)
	}
	assert.Equal(t, curve, l.Curve)
	assert.Equal(t, res.Fitted, l.Fitted, "caller buffer should receive the fitted curve")

	res.Params[3] = -1
	assert.NotEqual(t, -1.0, l.Params[3], "result must not alias the guess")
}

func TestEngine_InvalidPixelIsolated(t *testing.T) {
	eng := NewEngine(WithThreads(4))
	defer eng.Shutdown()

	locals := variedBatch(6)
	locals[2].Window = curvefit.Window{Start: 40, Stop: 400}
	locals[4].Params = []float64{0, 0, 1}

	results, err := eng.FitBatch(context.Background(), singleGlobal(), locals)
	require.NoError(t, err)

	for i, r := range results {
		require.NotNil(t, r)
		if i == 2 || i == 4 {
			assert.Equal(t, curvefit.Invalid, r.Status)
			assert.ErrorIs(t, r.Err, curvefit.ErrInvalidInput)
			var pe *PixelError
			require.ErrorAs(t, r.Err, &pe)
			assert.Equal(t, locals[i].Pixel, pe.Pixel)
			continue
		}
		assert.NoError(t, r.Err)
		assert.True(t, r.Converged(), "pixel %d status %v", i, r.Status)
	}
}

func TestEngine_CurveLengthMismatchRejected(t *testing.T) {
	eng := NewEngine(WithThreads(2))
	defer eng.Shutdown()

	locals := variedBatch(3)
	locals[1].Curve = locals[1].Curve[:200]

	results, err := eng.FitBatch(context.Background(), singleGlobal(), locals)
	require.NoError(t, err)
	assert.ErrorIs(t, results[1].Err, curvefit.ErrInvalidInput)
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[2].Err)
}

func TestEngine_AlgorithmSelector(t *testing.T) {
	eng := NewEngine()
	defer eng.Shutdown()

	g := singleGlobal()
	g.Algorithm = curvefit.AlgorithmRLD
	res, err := eng.Fit(context.Background(), g, local(0, 0, decayCurve(2, 1000, 2)))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Iterations)
	assert.InDelta(t, 2.0, res.Params[3], 1e-6)

	g.Algorithm = "simplex"
	res, err = eng.Fit(context.Background(), g, local(0, 0, decayCurve(2, 1000, 2)))
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, curvefit.ErrUnknownAlgorithm)
	assert.Equal(t, curvefit.Invalid, res.Status)
}

func TestEngine_SetCurveFitter(t *testing.T) {
	eng := NewEngine()
	defer eng.Shutdown()

	assert.ErrorIs(t, eng.SetCurveFitter(nil), ErrNilFitter)
	require.NoError(t, eng.SetCurveFitter(curvefit.RLDLMA{}))
	assert.Equal(t, curvefit.AlgorithmRLDLMA, eng.CurveFitter().Name())

	require.NoError(t, eng.SetThreads(6))
	assert.Equal(t, 6, eng.Threads())
	assert.Error(t, eng.SetThreads(0))
}

func TestEngine_PanickingTaskLeavesNil(t *testing.T) {
	fitter := funcFitter{fn: func(_ context.Context, d *curvefit.Datum) {
		if d.Curve[0] < 0 {
			panic("corrupt curve")
		}
		d.Status = curvefit.Converged
	}}
	eng := NewEngine(WithThreads(3), WithCurveFitter(fitter))
	defer eng.Shutdown()

	locals := variedBatch(9)
	locals[5].Curve = slices.Clone(locals[5].Curve)
	locals[5].Curve[0] = -1

	results, err := eng.FitBatch(context.Background(), singleGlobal(), locals)
	require.NoError(t, err)
	require.Len(t, results, 9)
	for i, r := range results {
		if i == 5 {
			assert.Nil(t, r)
			continue
		}
		require.NotNil(t, r, "result %d", i)
		assert.Equal(t, locals[i].Pixel, r.Pixel)
	}
}

func TestEngine_StateWhileFitting(t *testing.T) {
	var eng *Engine
	var seen State
	fitter := funcFitter{fn: func(_ context.Context, d *curvefit.Datum) {
		seen = eng.State()
		d.Status = curvefit.Converged
	}}
	eng = NewEngine(WithCurveFitter(fitter))
	defer eng.Shutdown()

	_, err := eng.Fit(context.Background(), singleGlobal(), local(0, 0, decayCurve(0, 10, 1)))
	require.NoError(t, err)
	assert.Equal(t, Fitting, seen)
	assert.Equal(t, Idle, eng.State())
}

func TestEngine_Shutdown(t *testing.T) {
	eng := NewEngine()
	eng.Shutdown()
	eng.Shutdown()

	assert.Equal(t, Shutdown, eng.State())

	_, err := eng.Fit(context.Background(), singleGlobal(), local(0, 0, decayCurve(2, 1000, 2)))
	assert.ErrorIs(t, err, ErrShutdown)
	_, err = eng.FitBatch(context.Background(), singleGlobal(), variedBatch(2))
	assert.ErrorIs(t, err, ErrShutdown)
	assert.ErrorIs(t, eng.SetThreads(2), ErrShutdown)
	assert.ErrorIs(t, eng.SetCurveFitter(curvefit.LMA{}), ErrShutdown)
}

func TestEngine_ShutdownInterruptsBatch(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	fitter := funcFitter{fn: func(ctx context.Context, d *curvefit.Datum) {
		once.Do(func() { close(started) })
		<-ctx.Done()
	}}
	eng := NewEngine(WithThreads(2), WithCurveFitter(fitter))

	errc := make(chan error, 1)
	go func() {
		_, err := eng.FitBatch(context.Background(), singleGlobal(), variedBatch(8))
		errc <- err
	}()

	<-started
	eng.Shutdown()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrShutdown)
	case <-time.After(5 * time.Second):
		t.Fatal("batch not interrupted by Shutdown")
	}
	assert.Equal(t, Shutdown, eng.State())
}

func TestEngine_ContextCancel(t *testing.T) {
	eng := NewEngine(WithThreads(2))
	defer eng.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := eng.FitBatch(ctx, singleGlobal(), variedBatch(4))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrShutdown))
	assert.Equal(t, Idle, eng.State())
}

func TestResult_Lifetime(t *testing.T) {
	r := &Result{Model: curvefit.DoubleExp, Params: []float64{0, 0, 3, 1, 1, 5}}
	assert.InDelta(t, 2.0, r.Lifetime(), 1e-12)

	r = &Result{Model: curvefit.StretchedExp, Params: []float64{0, 0, 3, 1.7, 1}}
	assert.Equal(t, 1.7, r.Lifetime())

	var nilResult *Result
	assert.Zero(t, nilResult.Lifetime())
	assert.False(t, nilResult.Converged())
}
