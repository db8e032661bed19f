package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"cadencer/models"
)

const (
	// batchSize caps how many enrollments one cycle handles, bounding cycle
	// latency.
	batchSize = 50

	// leaseDuration is how long a claimed enrollment stays leased; a crashed
	// worker's claim expires after this.
	leaseDuration = 5 * time.Minute
)

// CycleSummary is what one scanner pass reports back.
type CycleSummary struct {
	Processed int      `json:"processed"`
	Errors    []string `json:"errors"`
}

// Scanner finds due enrollments and drives each one through the gate, the
// dispatcher and the scheduler. Failures are isolated per enrollment: one
// lead's failing webhook never stops another lead's email.
type Scanner struct {
	store      Store
	clock      Clock
	gate       *Gate
	dispatcher *Dispatcher
	logger     *log.Logger
	workerID   string
}

func NewScanner(store Store, clock Clock, gate *Gate, dispatcher *Dispatcher, logger *log.Logger) *Scanner {
	return &Scanner{
		store:      store,
		clock:      clock,
		gate:       gate,
		dispatcher: dispatcher,
		logger:     logger,
		workerID:   uuid.New().String(),
	}
}

// RunCycle processes one batch of due enrollments. Safe to invoke repeatedly
// and concurrently with itself: each enrollment is claimed with an exclusive
// lease before anything is dispatched for it.
func (s *Scanner) RunCycle(ctx context.Context) (CycleSummary, error) {
	summary := CycleSummary{Errors: []string{}}
	now := s.clock.Now()

	due, err := s.store.ListDueEnrollments(now, batchSize)
	if err != nil {
		return summary, &FetchError{Err: err}
	}

	for i := range due {
		if ctx.Err() != nil {
			break
		}
		enrollment := &due[i]

		claimed, err := s.store.ClaimEnrollment(enrollment.ID, s.workerID, now.Add(leaseDuration))
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("enrollment %d: claim: %v", enrollment.ID, err))
			continue
		}
		if !claimed {
			// Another worker owns this enrollment right now.
			continue
		}

		if err := s.processEnrollment(enrollment); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("enrollment %d: %v", enrollment.ID, err))
		} else {
			summary.Processed++
		}

		if err := s.store.ReleaseEnrollment(enrollment.ID, s.workerID); err != nil {
			s.logger.Printf("Failed to release enrollment %d: %v", enrollment.ID, err)
		}

		if throttle := enrollment.Sequence.ThrottleSeconds; throttle > 0 && i < len(due)-1 {
			time.Sleep(time.Duration(throttle) * time.Second)
		}
	}

	return summary, nil
}

func (s *Scanner) processEnrollment(enrollment *models.SequenceEnrollment) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during dispatch: %v", r)
		}
	}()

	step := StepByNumber(&enrollment.Sequence, enrollment.CurrentStep+1)
	if step == nil {
		// Already past the last step; nothing left to run.
		return s.store.UpdateEnrollment(enrollment.ID, s.completionPatch(enrollment.CurrentStep))
	}

	decision, err := s.gate.ShouldPause(enrollment, step)
	if err != nil {
		return err
	}
	switch decision.Outcome {
	case GatePause:
		return s.store.UpdateEnrollment(enrollment.ID, map[string]interface{}{
			"status":        models.EnrollmentPaused,
			"paused_reason": decision.Reason,
		})
	case GateDefer:
		return s.store.UpdateEnrollment(enrollment.ID, map[string]interface{}{
			"next_step_scheduled_at": decision.ResumeAt,
		})
	}

	result, err := s.dispatcher.Execute(enrollment, step)
	if err != nil {
		// Position unchanged: the enrollment comes due again next cycle.
		return err
	}

	return s.advance(enrollment, step, result)
}

// advance applies the post-dispatch state transition: conditional branching,
// then either scheduling the next step or completing the enrollment.
func (s *Scanner) advance(enrollment *models.SequenceEnrollment, step *models.SequenceStep, result *StepResult) error {
	completed := step.StepNumber

	if step.StepType == models.StepTypeConditional && result.ConditionMet != nil {
		met := *result.ConditionMet
		if met && step.GotoStep != nil {
			// Rewind so the next scheduled step is GotoStep. The one case
			// where an enrollment's position moves backwards.
			completed = *step.GotoStep - 1
		}
		if !met && step.SkipToEnd {
			return s.store.UpdateEnrollment(enrollment.ID, s.completionPatch(step.StepNumber))
		}
	}

	next := ComputeNext(s.clock.Now(), completed, &enrollment.Sequence)
	if next == nil {
		return s.store.UpdateEnrollment(enrollment.ID, s.completionPatch(completed))
	}

	return s.store.UpdateEnrollment(enrollment.ID, map[string]interface{}{
		"current_step":           completed,
		"next_step_scheduled_at": *next,
	})
}

func (s *Scanner) completionPatch(currentStep int) map[string]interface{} {
	return map[string]interface{}{
		"current_step":           currentStep,
		"status":                 models.EnrollmentCompleted,
		"next_step_scheduled_at": nil,
		"completed_at":           s.clock.Now(),
	}
}
