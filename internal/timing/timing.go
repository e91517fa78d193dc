// Package timing measures how long each phase of a transfer takes.
package timing

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/javanstorm/vmxfer/internal/transfer"
)

// Timer tracks durations of named phases.
type Timer struct {
	mu     sync.Mutex
	now    func() time.Time
	start  time.Time
	phases []Phase
	last   transfer.State
}

// Phase represents a timed phase with name and duration.
type Phase struct {
	Name     string
	Duration time.Duration
}

// New creates a new Timer starting from now.
func New() *Timer {
	return newWithClock(time.Now)
}

func newWithClock(now func() time.Time) *Timer {
	return &Timer{now: now, start: now()}
}

// Mark records a named phase ending now.
// Duration is time since last mark (or since start if first mark).
func (t *Timer) Mark(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mark(name)
}

func (t *Timer) mark(name string) {
	elapsed := t.now().Sub(t.start)
	t.phases = append(t.phases, Phase{Name: name, Duration: elapsed - t.totalDuration()})
}

// Record implements transfer.Recorder. Leaving preflight closes the
// "preflight" phase, reaching Terminating closes "transfer", and a terminal
// state closes whichever phase was open.
func (t *Timer) Record(s transfer.Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.last
	t.last = s.State
	if prev == s.State {
		return nil
	}

	switch {
	case prev == transfer.StatePreflight && s.State != transfer.StatePreflight:
		t.mark("preflight")
		if s.State.IsTerminal() {
			return nil
		}
	case s.State == transfer.StateTerminating:
		t.mark("transfer")
		return nil
	}

	if s.State.IsTerminal() {
		if prev == transfer.StateTerminating {
			t.mark("finalize")
		} else {
			t.mark("transfer")
		}
	}
	return nil
}

// Total returns the total elapsed time since timer creation.
func (t *Timer) Total() time.Duration {
	return t.now().Sub(t.start)
}

// Phases returns all recorded phases.
func (t *Timer) Phases() []Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Phase(nil), t.phases...)
}

// Report prints a timing report to the given writer.
func (t *Timer) Report(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "=== Transfer Timing ===")
	for _, p := range t.Phases() {
		fmt.Fprintf(w, "  %-20s %s\n", p.Name+":", formatDuration(p.Duration))
	}
	fmt.Fprintf(w, "  %-20s %s\n", "TOTAL:", formatDuration(t.Total()))
	fmt.Fprintln(w, "=======================")
}

// totalDuration returns the sum of all phase durations.
func (t *Timer) totalDuration() time.Duration {
	var total time.Duration
	for _, p := range t.phases {
		total += p.Duration
	}
	return total
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}
