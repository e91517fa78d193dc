package timing

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/javanstorm/vmxfer/internal/transfer"
)

// steppedClock returns a clock that advances by the given steps, one per call.
func steppedClock(steps ...time.Duration) func() time.Time {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	i := 0
	return func() time.Time {
		if i < len(steps) {
			now = now.Add(steps[i])
			i++
		}
		return now
	}
}

func TestTimerMark(t *testing.T) {
	timer := newWithClock(steppedClock(0, 10*time.Millisecond, 15*time.Millisecond))

	timer.Mark("phase1")
	timer.Mark("phase2")

	phases := timer.Phases()
	if len(phases) != 2 {
		t.Fatalf("expected 2 phases, got %d", len(phases))
	}
	if phases[0].Name != "phase1" || phases[0].Duration != 10*time.Millisecond {
		t.Errorf("phase1 = %+v", phases[0])
	}
	if phases[1].Name != "phase2" || phases[1].Duration != 15*time.Millisecond {
		t.Errorf("phase2 = %+v", phases[1])
	}
}

func TestTimerRecordPhases(t *testing.T) {
	tests := []struct {
		name   string
		states []transfer.State
		want   []string
	}{
		{
			name: "success",
			states: []transfer.State{
				transfer.StatePreflight, transfer.StateStarting, transfer.StateRunningJobUnknown,
				transfer.StateRunningJobTracked, transfer.StateTerminating, transfer.StateSucceeded,
			},
			want: []string{"preflight", "transfer", "finalize"},
		},
		{
			name:   "preflight failure",
			states: []transfer.State{transfer.StatePreflight, transfer.StateFailed},
			want:   []string{"preflight"},
		},
		{
			name: "job failure",
			states: []transfer.State{
				transfer.StatePreflight, transfer.StateStarting, transfer.StateRunningHeuristic,
				transfer.StateTerminating, transfer.StateFailed,
			},
			want: []string{"preflight", "transfer", "finalize"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			timer := newWithClock(steppedClock())
			for _, s := range tt.states {
				if err := timer.Record(transfer.Status{State: s}); err != nil {
					t.Fatalf("Record(%s): %v", s, err)
				}
			}

			var got []string
			for _, p := range timer.Phases() {
				got = append(got, p.Name)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("phases = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTimerRecordRepeatedState(t *testing.T) {
	timer := newWithClock(steppedClock())
	for i := 0; i < 3; i++ {
		timer.Record(transfer.Status{State: transfer.StateStarting})
	}
	if n := len(timer.Phases()); n != 1 {
		t.Errorf("expected 1 phase, got %d", n)
	}
}

func TestTimerReport(t *testing.T) {
	timer := newWithClock(steppedClock(0, 10*time.Millisecond, 2*time.Second, 0))
	timer.Mark("preflight")
	timer.Mark("transfer")

	var buf bytes.Buffer
	timer.Report(&buf)
	output := buf.String()

	for _, want := range []string{"Transfer Timing", "preflight:", "10ms", "transfer:", "2.00s", "TOTAL:"} {
		if !strings.Contains(output, want) {
			t.Errorf("report missing %q:\n%s", want, output)
		}
	}
}

func TestTimerEmpty(t *testing.T) {
	timer := New()

	if phases := timer.Phases(); len(phases) != 0 {
		t.Errorf("expected 0 phases, got %d", len(phases))
	}
	if timer.Total() < 0 {
		t.Error("total should not be negative")
	}

	var buf bytes.Buffer
	timer.Report(&buf)
	if !strings.Contains(buf.String(), "TOTAL:") {
		t.Error("empty report should still have total")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected string
	}{
		{500 * time.Microsecond, "500µs"},
		{50 * time.Millisecond, "50ms"},
		{1500 * time.Millisecond, "1.50s"},
		{2 * time.Second, "2.00s"},
		{95 * time.Second, "1m35s"},
	}

	for _, tt := range tests {
		result := formatDuration(tt.d)
		if result != tt.expected {
			t.Errorf("formatDuration(%v) = %s, expected %s", tt.d, result, tt.expected)
		}
	}
}
