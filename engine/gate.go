package engine

import (
	"fmt"
	"time"

	"cadencer/models"
)

// GateOutcome is what the pause/limit gate decided for a due step.
type GateOutcome int

const (
	// GateProceed lets the step dispatch.
	GateProceed GateOutcome = iota
	// GatePause stops the enrollment until an external actor resumes it.
	GatePause
	// GateDefer pushes the step to the next day without pausing; the
	// enrollment stays active.
	GateDefer
)

// GateDecision carries the outcome plus its context.
type GateDecision struct {
	Outcome  GateOutcome
	Reason   string    // pause reason, empty otherwise
	ResumeAt time.Time // when Outcome is GateDefer
}

// Gate evaluates exit conditions and the daily volume cap before a step may
// run.
type Gate struct {
	store Store
	clock Clock
}

func NewGate(store Store, clock Clock) *Gate {
	return &Gate{store: store, clock: clock}
}

// deferHour is the local hour a daily-limited step gets pushed to.
const deferHour = 9

// ShouldPause applies the checks in order, first match wins: exit-on-reply,
// exit-on-meeting, then the daily limit. The daily limit is not a pause; it
// defers the step to tomorrow morning and leaves the enrollment active.
func (g *Gate) ShouldPause(enrollment *models.SequenceEnrollment, step *models.SequenceStep) (GateDecision, error) {
	seq := &enrollment.Sequence

	if seq.ExitOnReply && enrollment.RepliesReceived > 0 {
		return GateDecision{Outcome: GatePause, Reason: "lead replied"}, nil
	}
	if seq.ExitOnMeeting && enrollment.MeetingsBooked > 0 {
		return GateDecision{Outcome: GatePause, Reason: "meeting booked"}, nil
	}

	if seq.DailyLimit != nil {
		loc := stepLocation(step)
		now := g.clock.Now().In(loc)
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

		count, err := g.store.CountSuccessfulExecutions(enrollment.ID, step.ID, midnight)
		if err != nil {
			return GateDecision{}, fmt.Errorf("counting executions for enrollment %d: %w", enrollment.ID, err)
		}
		if count >= int64(*seq.DailyLimit) {
			resume := time.Date(now.Year(), now.Month(), now.Day()+1, deferHour, 0, 0, 0, loc)
			return GateDecision{Outcome: GateDefer, ResumeAt: resume}, nil
		}
	}

	return GateDecision{Outcome: GateProceed}, nil
}
