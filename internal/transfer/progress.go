package transfer

import (
	"github.com/rs/zerolog"
)

// tracker owns a transfer's status and progress stream. It is only used from
// the goroutine running Execute, which keeps emissions ordered.
type tracker struct {
	clock    Clock
	emitter  Emitter
	recorder Recorder
	log      zerolog.Logger

	status Status

	emitted     bool
	lastPercent int
	lastSource  Source
}

func (t *tracker) transition(state State) {
	if t.status.State == state {
		return
	}
	t.log.Debug().Str("from", t.status.State.String()).Str("to", state.String()).Msg("Transfer state changed")
	t.status.State = state
	if state.IsTerminal() {
		t.status.FinishedAt = t.clock.Now()
	}
	t.record()
}

func (t *tracker) track(tr Tracking) {
	t.status.Tracking = TrackingLabel(tr)
	if pinned, ok := tr.(TrackingTracked); ok {
		t.status.JobID = pinned.JobID
	}
}

func (t *tracker) record() {
	if t.recorder == nil {
		return
	}
	if err := t.recorder.Record(t.status); err != nil {
		t.log.Warn().Err(err).Msg("Failed to record transfer status")
	}
}

// report emits a progress event when the percent changed. Percent read from
// the job never moves backwards.
func (t *tracker) report(percent int, phase string, src Source, msg string) {
	percent = clamp(percent, 0, 100)
	if t.emitted && percent == t.lastPercent {
		return
	}
	if t.emitted && src == SourceTracked && t.lastSource == SourceTracked && percent < t.lastPercent {
		return
	}

	t.emitted = true
	t.lastPercent = percent
	t.lastSource = src
	t.status.Percent = percent

	t.emitter.Emit(ProgressEvent{
		TransferID: t.status.ID,
		Percent:    percent,
		Phase:      phase,
		Source:     src,
		Message:    msg,
		Time:       t.clock.Now(),
	})
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
