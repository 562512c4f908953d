package cycle

import (
	"context"
	"errors"

	"github.com/looplab/fsm"

	"github.com/autopeer-io/videoupload/pkg/log"
)

// Phases of a single cycle.
const (
	PhaseIdle      = "idle"
	PhaseSkipped   = "skipped"
	PhaseSaving    = "saving"
	PhaseSettling  = "settling"
	PhaseUploading = "uploading"
	PhaseCompleted = "completed"
	PhaseFailed    = "failed"
)

const (
	EventSkip     = "event_skip"
	EventSave     = "event_save"
	EventSettle   = "event_settle"
	EventUpload   = "event_upload"
	EventComplete = "event_complete"
	EventFail     = "event_fail"
)

// phases tracks where a cycle is. One instance per cycle.
type phases struct {
	*fsm.FSM

	log log.Logger
}

func newPhases(l log.Logger) *phases {
	p := &phases{log: l}

	events := fsm.Events{
		{Name: EventSkip, Src: []string{PhaseIdle}, Dst: PhaseSkipped},
		{Name: EventSave, Src: []string{PhaseIdle}, Dst: PhaseSaving},
		{Name: EventSettle, Src: []string{PhaseSaving}, Dst: PhaseSettling},
		{Name: EventUpload, Src: []string{PhaseSettling}, Dst: PhaseUploading},

		// Save-only cycles complete straight from saving.
		{Name: EventComplete, Src: []string{PhaseSaving, PhaseUploading}, Dst: PhaseCompleted},
		{Name: EventFail, Src: []string{PhaseSaving, PhaseSettling, PhaseUploading}, Dst: PhaseFailed},
	}

	callbacks := fsm.Callbacks{
		"enter_state":          p.onEnterState,
		"enter_" + PhaseFailed: p.onEnterFailed,
	}

	p.FSM = fsm.NewFSM(PhaseIdle, events, callbacks)
	return p
}

// fire moves to the next phase. An invalid transition is a programming
// error and is only logged.
func (p *phases) fire(ctx context.Context, event string, args ...any) {
	if err := p.Event(ctx, event, args...); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			p.log.Error(err, "Invalid cycle transition", "event", event, "phase", p.Current())
		}
	}
}

func (p *phases) onEnterState(_ context.Context, e *fsm.Event) {
	p.log.Debug("Cycle phase changed", "from", e.Src, "to", e.Dst)
}

// onEnterFailed expects the cause as the first event argument.
func (p *phases) onEnterFailed(_ context.Context, e *fsm.Event) {
	if len(e.Args) == 0 {
		return
	}
	if err, ok := e.Args[0].(error); ok {
		p.log.Debug("Cycle failed", "phase", e.Src, "cause", err)
	}
}
