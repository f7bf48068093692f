package main

import (
	"io"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/flim"
	"github.com/gogpu/flim/curvefit"
	"github.com/gogpu/flim/cursor"
	"github.com/gogpu/flim/stack"
)

// report summarizes a batch for the terminal.
type report struct {
	Pixels   int
	Fitted   int
	Missing  int
	Statuses map[curvefit.Status]int
	Mean     float64
	Elapsed  time.Duration
	Cursor   cursor.Cursor
	Threads  int
}

func summarize(results []*flim.Result, pixels int, lm *stack.LifetimeMap, elapsed time.Duration) report {
	r := report{
		Pixels:   pixels,
		Fitted:   len(results),
		Statuses: make(map[curvefit.Status]int),
		Elapsed:  elapsed,
	}
	for _, res := range results {
		if res == nil {
			r.Missing++
			continue
		}
		r.Statuses[res.Status]++
	}
	r.Mean, _ = lm.Mean()
	return r
}

// Write prints the report with locale digit grouping.
func (r report) Write(w io.Writer) {
	p := message.NewPrinter(language.English)

	p.Fprintf(w, "pixels:    %d (%d fitted)\n", r.Pixels, r.Fitted)
	p.Fprintf(w, "window:    [%d, %d]\n", r.Cursor.DecayStart, r.Cursor.DecayStop)
	if r.Cursor.HasPrompt() {
		p.Fprintf(w, "prompt:    [%d, %d]\n", r.Cursor.PromptStart, r.Cursor.PromptStop)
	}
	for s := curvefit.Pending; s <= curvefit.Invalid; s++ {
		if n := r.Statuses[s]; n > 0 {
			p.Fprintf(w, "%-10s %d\n", s.String()+":", n)
		}
	}
	if r.Missing > 0 {
		p.Fprintf(w, "missing:   %d\n", r.Missing)
	}
	p.Fprintf(w, "lifetime:  %.3f ns mean\n", r.Mean)
	p.Fprintf(w, "elapsed:   %v on %d threads\n", r.Elapsed.Round(time.Millisecond), r.Threads)
}
