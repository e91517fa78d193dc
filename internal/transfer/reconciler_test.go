package transfer

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/javanstorm/vmxfer/pkg/hypervisor"
	"github.com/rs/zerolog"
)

func TestHeuristicPercent(t *testing.T) {
	launched := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		direction Direction
		estimated int64
		written   int64
		elapsed   time.Duration
		want      int
	}{
		{"export half written", DirectionExport, 10 * gb, 5 * gb, 0, 50},
		{"export overshoot clamps", DirectionExport, 10 * gb, 12 * gb, 0, 99},
		{"export fully written clamps", DirectionExport, 10 * gb, 10 * gb, 0, 99},
		{"export unknown size", DirectionExport, 0, 5 * gb, 0, 0},
		{"import halfway", DirectionImport, 100 << 20, 0, 500 * time.Millisecond, 50},
		{"import overdue clamps", DirectionImport, 100 << 20, 0, time.Hour, 95},
		{"import unknown size", DirectionImport, 0, 0, time.Hour, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFakeFS(0)
			if tt.written > 0 {
				fs.addFile("/exports/web/Virtual Hard Disks/disk.vhdx", tt.written)
			}
			r := &reconciler{
				plan: &Plan{
					Request:     Request{Direction: tt.direction},
					PayloadPath: "/exports/web",
					Space:       SpaceRequirement{EstimatedBytes: tt.estimated},
				},
				fs:       fs,
				settings: Settings{ImportThroughput: 100 << 20},
				log:      zerolog.Nop(),
				launched: launched,
			}

			got, _, ok := r.heuristicPercent(context.Background(), launched.Add(tt.elapsed))
			if !ok {
				t.Fatal("heuristicPercent() not ok")
			}
			if got != tt.want {
				t.Errorf("heuristicPercent() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestTrackerReport(t *testing.T) {
	sink := &eventSink{}
	tr := &tracker{clock: newFakeClock(time.Second), emitter: sink, log: zerolog.Nop()}

	tr.report(0, PhasePreflight, SourceHeuristic, "")
	tr.report(0, "export", SourceHeuristic, "") // duplicate
	tr.report(12, "export", SourceHeuristic, "")
	tr.report(10, "export", SourceTracked, "") // first tracked value is taken as is
	tr.report(50, "export", SourceTracked, "")
	tr.report(40, "export", SourceTracked, "") // tracked never goes back
	tr.report(50, "export", SourceTracked, "") // duplicate
	tr.report(150, "export", SourceTracked, "")

	if got, want := sink.percents(), []int{0, 12, 10, 50, 100}; !reflect.DeepEqual(got, want) {
		t.Errorf("percents = %v, want %v", got, want)
	}
}

func TestTrackerRecordsTransitions(t *testing.T) {
	rec := &stateRecorder{}
	tr := &tracker{clock: newFakeClock(time.Second), emitter: discardEmitter{}, recorder: rec, log: zerolog.Nop()}

	tr.transition(StateStarting)
	tr.transition(StateStarting)
	tr.track(TrackingTracked{JobID: "job-1"})
	tr.transition(StateRunningJobTracked)
	tr.transition(StateFailed)

	want := []State{StateStarting, StateRunningJobTracked, StateFailed}
	if !reflect.DeepEqual(rec.states, want) {
		t.Errorf("states = %v, want %v", rec.states, want)
	}
	if rec.last.JobID != "job-1" || rec.last.FinishedAt.IsZero() {
		t.Errorf("last status = %+v", rec.last)
	}
}

func TestStateStringRoundTrip(t *testing.T) {
	for s := StatePreflight; s <= StateFailed; s++ {
		got, err := ParseState(s.String())
		if err != nil || got != s {
			t.Errorf("ParseState(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseState("Sideways"); err == nil {
		t.Error("ParseState accepted an unknown label")
	}
}

func TestWorkerStates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want WorkerState
	}{
		{"success", nil, WorkerSucceeded},
		{"failure", errPlatform, WorkerFailed},
		{"cancelled", context.Canceled, WorkerCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			release := make(chan struct{})
			w := StartWorker(context.Background(), func(ctx context.Context) (*hypervisor.Entity, error) {
				<-release
				return nil, tt.err
			})
			if w.State() != WorkerRunning {
				t.Fatalf("State() = %v before completion", w.State())
			}
			close(release)
			<-w.Done()
			if w.State() != tt.want {
				t.Errorf("State() = %v, want %v", w.State(), tt.want)
			}
		})
	}
}

func TestWorkerCancel(t *testing.T) {
	w := StartWorker(context.Background(), func(ctx context.Context) (*hypervisor.Entity, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	w.Cancel()
	<-w.Done()
	if w.State() != WorkerCancelled {
		t.Errorf("State() = %v, want Cancelled", w.State())
	}
}

func TestSamePath(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{`C:\VMs\web`, `c:\vms\web\`, true},
		{`C:\VMs\web`, `C:/VMs/web`, true},
		{"/vms/web", "/vms/web", true},
		{"/vms/web", "/vms/db", false},
	}
	for _, tt := range tests {
		if got := samePath(tt.a, tt.b); got != tt.want {
			t.Errorf("samePath(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
