package flim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gogpu/flim/curvefit"
	"github.com/gogpu/flim/internal/parallel"
)

// State is the lifecycle state of an Engine.
type State int

const (
	// Idle means no fit call is running.
	Idle State = iota

	// Fitting means at least one fit call is running.
	Fitting

	// ShuttingDown means Shutdown is cancelling outstanding work.
	ShuttingDown

	// Shutdown means the engine has released its workers.
	Shutdown
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fitting:
		return "fitting"
	case ShuttingDown:
		return "shutting-down"
	case Shutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Engine fits pixels one at a time or in parallel batches.
//
// An Engine is created explicitly and handed to whatever needs it; there is
// no package-level instance. Batch results are index-aligned with the
// submitted pixels and do not depend on the thread count.
//
// Thread safety: Engine is safe for concurrent use. Batches run one after
// another; SetThreads waits for a running batch to complete.
type Engine struct {
	mu     sync.Mutex
	state  State
	active int
	fitter curvefit.Fitter

	exec   *parallel.Executor[*Result]
	logger *slog.Logger

	// done is cancelled by Shutdown to interrupt outstanding fits.
	done   context.Context
	cancel context.CancelFunc
}

// NewEngine creates an idle engine.
func NewEngine(opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = Logger()
	}

	done, cancel := context.WithCancel(context.Background())
	return &Engine{
		fitter: o.fitter,
		exec:   parallel.NewExecutor[*Result](o.threads, o.logger),
		logger: o.logger,
		done:   done,
		cancel: cancel,
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Threads returns the configured thread count.
func (e *Engine) Threads() int {
	return e.exec.Threads()
}

// SetThreads changes the thread count for the next batch.
func (e *Engine) SetThreads(n int) error {
	if e.closing() {
		return ErrShutdown
	}
	if err := e.exec.Resize(n); err != nil {
		if errors.Is(err, parallel.ErrClosed) {
			return ErrShutdown
		}
		return err
	}
	return nil
}

// CurveFitter returns the current fitter.
func (e *Engine) CurveFitter() curvefit.Fitter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fitter
}

// SetCurveFitter replaces the fitter used by subsequent fit calls.
func (e *Engine) SetCurveFitter(f curvefit.Fitter) error {
	if f == nil {
		return ErrNilFitter
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state >= ShuttingDown {
		return ErrShutdown
	}
	e.fitter = f
	return nil
}

// Fit fits a single pixel synchronously on the caller's goroutine.
//
// Per-pixel problems are reported in Result.Err. The error return is
// ErrShutdown or a context error.
func (e *Engine) Fit(ctx context.Context, global GlobalParams, local LocalParams) (*Result, error) {
	fitter, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer e.end()

	ctx, stop := e.bind(ctx)
	defer stop()

	res, err := NewTask(fitter, &global, local).Run(ctx)
	if err != nil {
		return nil, e.interrupted(err)
	}
	if res.Err != nil {
		e.logger.Debug("flim: pixel rejected", "pixel", local.Pixel.String(), "err", res.Err)
	}
	return res, nil
}

// FitBatch fits every pixel and returns the results in the same order.
//
// A nil entry marks a pixel whose task failed unexpectedly (the failure is
// logged). Pixels whose curve length differs from the first pixel's are
// rejected with curvefit.ErrInvalidInput. The error return is ErrShutdown
// or a context error, in which case no results are returned.
func (e *Engine) FitBatch(ctx context.Context, global GlobalParams, locals []LocalParams) ([]*Result, error) {
	fitter, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer e.end()

	ctx, stop := e.bind(ctx)
	defer stop()

	batch := uuid.NewString()
	log := e.logger.With("batch", batch)
	start := time.Now()
	log.Debug("flim: batch started",
		"pixels", len(locals),
		"threads", e.exec.Threads(),
		"fitter", fitter.Name(),
		"model", global.Model.String())

	tasks := make([]parallel.Task[*Result], len(locals))
	for i := range locals {
		t := NewTask(fitter, &global, locals[i])
		if i > 0 && len(locals[i].Curve) != len(locals[0].Curve) {
			err := fmt.Errorf("%w: curve has %d bins, batch has %d",
				curvefit.ErrInvalidInput, len(locals[i].Curve), len(locals[0].Curve))
			tasks[i] = func(context.Context) *Result { return t.reject(err) }
			continue
		}
		tasks[i] = func(ctx context.Context) *Result {
			res, err := t.Run(ctx)
			if err != nil {
				// Cancelled; Executor reports the context error.
				return nil
			}
			return res
		}
	}

	results, err := e.exec.Run(ctx, tasks)
	if err != nil {
		log.Debug("flim: batch aborted", "err", err)
		return nil, e.interrupted(err)
	}

	var converged, rejected, missing int
	for _, r := range results {
		switch {
		case r == nil:
			missing++
		case r.Err != nil:
			rejected++
		case r.Converged():
			converged++
		}
	}
	if missing > 0 {
		log.Warn("flim: batch has missing results", "missing", missing)
	}
	log.Debug("flim: batch finished",
		"converged", converged,
		"rejected", rejected,
		"elapsed", time.Since(start))
	return results, nil
}

// Shutdown cancels outstanding fits and releases the workers.
// Subsequent fit calls fail with ErrShutdown. Shutdown is idempotent.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.state >= ShuttingDown {
		e.mu.Unlock()
		return
	}
	e.state = ShuttingDown
	e.mu.Unlock()

	e.cancel()
	e.exec.Close()

	e.mu.Lock()
	e.state = Shutdown
	e.mu.Unlock()
	e.logger.Info("flim: engine shut down")
}

// begin moves the engine to Fitting and returns the fitter to use.
func (e *Engine) begin() (curvefit.Fitter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state >= ShuttingDown {
		return nil, ErrShutdown
	}
	e.active++
	e.state = Fitting
	return e.fitter, nil
}

// end returns the engine to Idle when the last fit call completes.
func (e *Engine) end() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active--
	if e.active == 0 && e.state == Fitting {
		e.state = Idle
	}
}

// closing reports whether Shutdown has started.
func (e *Engine) closing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state >= ShuttingDown
}

// bind derives a context cancelled by either ctx or Shutdown.
func (e *Engine) bind(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stopAfter := context.AfterFunc(e.done, cancel)
	return ctx, func() {
		stopAfter()
		cancel()
	}
}

// interrupted maps an error from an aborted fit to ErrShutdown when
// Shutdown caused it.
func (e *Engine) interrupted(err error) error {
	if e.done.Err() != nil || errors.Is(err, parallel.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrShutdown, err)
	}
	return err
}
