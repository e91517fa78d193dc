package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/javanstorm/vmxfer/internal/transfer"
	"github.com/javanstorm/vmxfer/pkg/hypervisor"
	"github.com/schollz/progressbar/v3"
)

// renderer shows a transfer's progress stream and its outcome.
type renderer interface {
	transfer.Emitter
	Finish(out transfer.Outcome)
}

// newRenderer draws a progress bar on a terminal and falls back to
// newline-delimited JSON when asked to or when stderr is not a terminal.
func (a *app) newRenderer(req *transfer.Request) renderer {
	if a.jsonOut || !a.isTerminal() {
		return &jsonRenderer{enc: json.NewEncoder(a.stdout)}
	}
	return newBarRenderer(a.stderr, string(req.Direction)+" "+req.Source)
}

// barRenderer draws a single 0-100 bar.
type barRenderer struct {
	bar   *progressbar.ProgressBar
	label string
}

func newBarRenderer(w io.Writer, label string) *barRenderer {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription(label),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
	return &barRenderer{bar: bar, label: label}
}

func (r *barRenderer) Emit(ev transfer.ProgressEvent) {
	desc := r.label
	switch {
	case ev.Phase == transfer.PhasePreflight:
		desc += " (checking)"
	case ev.Source == transfer.SourceHeuristic:
		desc += " (estimated)"
	}
	r.bar.Describe(desc)
	_ = r.bar.Set(ev.Percent)
}

func (r *barRenderer) Finish(out transfer.Outcome) {
	if out.Succeeded() {
		_ = r.bar.Finish()
		return
	}
	_ = r.bar.Exit()
}

// jsonRenderer writes one JSON object per event, then a result object.
type jsonRenderer struct {
	enc *json.Encoder
}

// resultLine is the last line of the JSON stream.
type resultLine struct {
	TransferID string             `json:"transfer_id"`
	Succeeded  bool               `json:"succeeded"`
	Kind       string             `json:"kind,omitempty"`
	Detail     string             `json:"detail,omitempty"`
	VM         *hypervisor.Entity `json:"vm,omitempty"`
}

func (r *jsonRenderer) Emit(ev transfer.ProgressEvent) {
	_ = r.enc.Encode(ev)
}

func (r *jsonRenderer) Finish(out transfer.Outcome) {
	line := resultLine{TransferID: out.TransferID, Succeeded: out.Succeeded(), VM: out.Entity}
	if err := out.Err(); err != nil {
		line.Kind = err.Kind.String()
		line.Detail = err.Detail
	}
	_ = r.enc.Encode(line)
}
