package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cadencer/models"
)

func newTestScanner(store *fakeStore, mailer EmailSender) *Scanner {
	clock := FixedClock{T: time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)}
	gate := NewGate(store, clock)
	dispatcher := NewDispatcher(store, clock, mailer, &fakeTasks{}, &fakeWebhook{}, quietLogger())
	return NewScanner(store, clock, gate, dispatcher, quietLogger())
}

func TestRunCycleProcessesDueEnrollments(t *testing.T) {
	store := newFakeStore()
	store.due = []models.SequenceEnrollment{
		testEnrollment(1, 0, emailStep(1, 0, models.DelayUnitDays), emailStep(2, 2, models.DelayUnitDays)),
		testEnrollment(2, 0, emailStep(1, 0, models.DelayUnitDays), emailStep(2, 2, models.DelayUnitDays)),
	}
	mailer := &fakeMailer{}
	scanner := newTestScanner(store, mailer)

	summary, err := scanner.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Empty(t, summary.Errors)

	assert.Len(t, mailer.sent, 2)
	assert.Equal(t, []uint{1, 2}, store.claims)
	assert.Equal(t, []uint{1, 2}, store.releases)

	// Both advanced to step 1 complete with step 2 scheduled two days out.
	for _, id := range []uint{1, 2} {
		patch := store.lastPatch(id)
		require.NotNil(t, patch)
		assert.Equal(t, 1, patch["current_step"])
		next := patch["next_step_scheduled_at"].(time.Time)
		assert.Equal(t, time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC), next.UTC())
	}
}

func TestRunCycleFetchErrorAbortsCycle(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("db down")
	scanner := newTestScanner(store, &fakeMailer{})

	_, err := scanner.RunCycle(context.Background())
	require.Error(t, err)

	var fetchErr *FetchError
	assert.ErrorAs(t, err, &fetchErr)
}

func TestRunCycleIsolatesFailures(t *testing.T) {
	broken := models.SequenceStep{StepNumber: 1, StepType: "carrier_pigeon"}
	broken.ID = 101
	wait := models.SequenceStep{StepNumber: 1, StepType: models.StepTypeWait}
	wait.ID = 102

	store := newFakeStore()
	store.due = []models.SequenceEnrollment{
		testEnrollment(1, 0, broken),
		testEnrollment(2, 0, wait),
	}
	scanner := newTestScanner(store, &fakeMailer{})

	summary, err := scanner.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "enrollment 1")

	// Both were claimed and released; the failure did not stop the batch.
	assert.Equal(t, []uint{1, 2}, store.claims)
	assert.Equal(t, []uint{1, 2}, store.releases)
}

func TestRunCycleRecoversFromPanic(t *testing.T) {
	store := newFakeStore()
	store.due = []models.SequenceEnrollment{
		testEnrollment(1, 0, emailStep(1, 0, models.DelayUnitDays)),
	}
	scanner := newTestScanner(store, panickingMailer{})

	summary, err := scanner.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "panic")

	// The enrollment was still released so the next cycle can retry it.
	assert.Equal(t, []uint{1}, store.releases)
}

func TestRunCycleFailedStepKeepsPosition(t *testing.T) {
	broken := models.SequenceStep{StepNumber: 2, StepType: "carrier_pigeon"}
	broken.ID = 102

	store := newFakeStore()
	store.due = []models.SequenceEnrollment{
		testEnrollment(1, 1, emailStep(1, 0, models.DelayUnitDays), broken),
	}
	scanner := newTestScanner(store, &fakeMailer{})

	summary, err := scanner.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, summary.Errors, 1)

	// No enrollment patch: position and schedule untouched, due again next cycle.
	assert.Nil(t, store.lastPatch(1))
}

func TestRunCycleCompletesAfterLastStep(t *testing.T) {
	store := newFakeStore()
	store.due = []models.SequenceEnrollment{
		testEnrollment(1, 0, emailStep(1, 0, models.DelayUnitDays)),
	}
	scanner := newTestScanner(store, &fakeMailer{})

	summary, err := scanner.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)

	patch := store.lastPatch(1)
	require.NotNil(t, patch)
	assert.Equal(t, models.EnrollmentCompleted, patch["status"])
	assert.Equal(t, 1, patch["current_step"])
	assert.Nil(t, patch["next_step_scheduled_at"])
	assert.NotNil(t, patch["completed_at"])
}

func TestRunCycleCompletesWhenNoStepLeft(t *testing.T) {
	// Position already past the last configured step; nothing to dispatch.
	store := newFakeStore()
	store.due = []models.SequenceEnrollment{
		testEnrollment(1, 3, emailStep(1, 0, models.DelayUnitDays)),
	}
	scanner := newTestScanner(store, &fakeMailer{})

	_, err := scanner.RunCycle(context.Background())
	require.NoError(t, err)

	patch := store.lastPatch(1)
	require.NotNil(t, patch)
	assert.Equal(t, models.EnrollmentCompleted, patch["status"])
	assert.Equal(t, 3, patch["current_step"])
	assert.Empty(t, store.executions)
}

func TestRunCyclePausesOnReplyWithoutDispatching(t *testing.T) {
	store := newFakeStore()
	enrollment := testEnrollment(1, 0, emailStep(1, 0, models.DelayUnitDays))
	enrollment.Sequence.ExitOnReply = true
	enrollment.RepliesReceived = 1
	store.due = []models.SequenceEnrollment{enrollment}
	mailer := &fakeMailer{}
	scanner := newTestScanner(store, mailer)

	summary, err := scanner.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)

	patch := store.lastPatch(1)
	require.NotNil(t, patch)
	assert.Equal(t, models.EnrollmentPaused, patch["status"])
	assert.Equal(t, "lead replied", patch["paused_reason"])

	// Pausing must leave no execution record and send nothing.
	assert.Empty(t, store.executions)
	assert.Empty(t, mailer.sent)
}

func TestRunCycleDefersAtDailyLimit(t *testing.T) {
	store := newFakeStore()
	store.executionsToday = 2
	enrollment := testEnrollment(1, 0, emailStep(1, 0, models.DelayUnitDays))
	enrollment.Sequence.DailyLimit = intPtr(2)
	store.due = []models.SequenceEnrollment{enrollment}
	mailer := &fakeMailer{}
	scanner := newTestScanner(store, mailer)

	_, err := scanner.RunCycle(context.Background())
	require.NoError(t, err)

	patch := store.lastPatch(1)
	require.NotNil(t, patch)
	// Only the schedule moves; the enrollment stays active.
	_, statusTouched := patch["status"]
	assert.False(t, statusTouched)
	resume := patch["next_step_scheduled_at"].(time.Time)
	assert.Equal(t, time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC), resume.UTC())
	assert.Empty(t, mailer.sent)
	assert.Empty(t, store.executions)
}

func TestRunCycleConditionalSkipToEnd(t *testing.T) {
	conditional := models.SequenceStep{
		StepNumber:    2,
		StepType:      models.StepTypeConditional,
		ConditionType: models.ConditionOpened,
		SkipToEnd:     true,
	}
	conditional.ID = 102

	store := newFakeStore()
	enrollment := testEnrollment(1, 1,
		emailStep(1, 0, models.DelayUnitDays),
		conditional,
		emailStep(3, 1, models.DelayUnitDays),
	)
	// No opens: condition not met, skip_to_end completes the enrollment.
	store.due = []models.SequenceEnrollment{enrollment}
	scanner := newTestScanner(store, &fakeMailer{})

	_, err := scanner.RunCycle(context.Background())
	require.NoError(t, err)

	patch := store.lastPatch(1)
	require.NotNil(t, patch)
	assert.Equal(t, models.EnrollmentCompleted, patch["status"])
	assert.Equal(t, 2, patch["current_step"])
}

func TestRunCycleConditionalGotoRewind(t *testing.T) {
	conditional := models.SequenceStep{
		StepNumber:    2,
		StepType:      models.StepTypeConditional,
		ConditionType: models.ConditionOpened,
		GotoStep:      intPtr(1),
	}
	conditional.ID = 102

	store := newFakeStore()
	enrollment := testEnrollment(1, 1,
		emailStep(1, 0, models.DelayUnitDays),
		conditional,
	)
	enrollment.EmailsOpened = 1
	store.due = []models.SequenceEnrollment{enrollment}
	scanner := newTestScanner(store, &fakeMailer{})

	_, err := scanner.RunCycle(context.Background())
	require.NoError(t, err)

	patch := store.lastPatch(1)
	require.NotNil(t, patch)
	// Rewound so step 1 runs again next cycle.
	assert.Equal(t, 0, patch["current_step"])
	next := patch["next_step_scheduled_at"].(time.Time)
	assert.Equal(t, time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC), next.UTC())
}

func TestRunCycleConditionalNotMetContinues(t *testing.T) {
	conditional := models.SequenceStep{
		StepNumber:    2,
		StepType:      models.StepTypeConditional,
		ConditionType: models.ConditionOpened,
		GotoStep:      intPtr(1),
	}
	conditional.ID = 102

	store := newFakeStore()
	enrollment := testEnrollment(1, 1,
		emailStep(1, 0, models.DelayUnitDays),
		conditional,
		emailStep(3, 1, models.DelayUnitDays),
	)
	// Not met and no skip_to_end: falls through to step 3.
	store.due = []models.SequenceEnrollment{enrollment}
	scanner := newTestScanner(store, &fakeMailer{})

	_, err := scanner.RunCycle(context.Background())
	require.NoError(t, err)

	patch := store.lastPatch(1)
	require.NotNil(t, patch)
	assert.Equal(t, 2, patch["current_step"])
	next := patch["next_step_scheduled_at"].(time.Time)
	assert.Equal(t, time.Date(2026, 1, 6, 12, 0, 0, 0, time.UTC), next.UTC())
}

func TestRunCycleSkipsLeasedEnrollments(t *testing.T) {
	store := newFakeStore()
	store.due = []models.SequenceEnrollment{
		testEnrollment(1, 0, emailStep(1, 0, models.DelayUnitDays)),
		testEnrollment(2, 0, emailStep(1, 0, models.DelayUnitDays)),
	}
	store.claimDenied[1] = true
	mailer := &fakeMailer{}
	scanner := newTestScanner(store, mailer)

	summary, err := scanner.RunCycle(context.Background())
	require.NoError(t, err)
	// The leased enrollment is neither processed nor an error.
	assert.Equal(t, 1, summary.Processed)
	assert.Empty(t, summary.Errors)
	assert.Len(t, mailer.sent, 1)
	assert.Equal(t, uint(2), mailer.sent[0].EnrollmentID)
	assert.Equal(t, []uint{2}, store.releases)
}

func TestRunCycleHonorsCancelledContext(t *testing.T) {
	store := newFakeStore()
	store.due = []models.SequenceEnrollment{
		testEnrollment(1, 0, emailStep(1, 0, models.DelayUnitDays)),
	}
	scanner := newTestScanner(store, &fakeMailer{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := scanner.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
	assert.Empty(t, store.claims)
}
