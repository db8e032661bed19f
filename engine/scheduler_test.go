package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cadencer/models"
)

func TestComputeNextDelayUnits(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) // Thursday

	tests := []struct {
		name  string
		value int
		unit  string
		want  time.Time
	}{
		{"hours", 4, models.DelayUnitHours, now.Add(4 * time.Hour)},
		{"days", 3, models.DelayUnitDays, now.AddDate(0, 0, 3)},
		{"weeks", 2, models.DelayUnitWeeks, now.AddDate(0, 0, 14)},
		{"unknown unit treated as days", 1, "fortnights", now.AddDate(0, 0, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := &models.Sequence{Steps: []models.SequenceStep{
				emailStep(1, 0, models.DelayUnitDays),
				emailStep(2, tt.value, tt.unit),
			}}
			next := ComputeNext(now, 1, seq)
			require.NotNil(t, next)
			assert.True(t, next.Equal(tt.want), "got %v want %v", next, tt.want)
		})
	}
}

func TestComputeNextNilAfterLastStep(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	seq := &models.Sequence{Steps: []models.SequenceStep{
		emailStep(1, 0, models.DelayUnitDays),
		emailStep(2, 2, models.DelayUnitDays),
	}}

	assert.Nil(t, ComputeNext(now, 2, seq))
}

func TestComputeNextSnapsBeforeWindowToStart(t *testing.T) {
	// Lands at 07:00, window opens 09:00; same day 09:00.
	now := time.Date(2026, 1, 5, 7, 0, 0, 0, time.UTC) // Monday
	step := emailStep(2, 0, models.DelayUnitHours)
	step.SendWindowStart = "09:00"
	step.SendWindowEnd = "17:00"
	seq := &models.Sequence{Steps: []models.SequenceStep{emailStep(1, 0, models.DelayUnitDays), step}}

	next := ComputeNext(now, 1, seq)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC), next.UTC())
}

func TestComputeNextRollsPastWindowToNextDay(t *testing.T) {
	// Lands at 21:00, window already closed; next day 09:00.
	now := time.Date(2026, 1, 5, 21, 0, 0, 0, time.UTC) // Monday
	step := emailStep(2, 0, models.DelayUnitHours)
	step.SendWindowStart = "09:00"
	step.SendWindowEnd = "17:00"
	seq := &models.Sequence{Steps: []models.SequenceStep{emailStep(1, 0, models.DelayUnitDays), step}}

	next := ComputeNext(now, 1, seq)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC), next.UTC())
}

func TestComputeNextInsideWindowUnchanged(t *testing.T) {
	now := time.Date(2026, 1, 5, 10, 30, 0, 0, time.UTC)
	step := emailStep(2, 0, models.DelayUnitHours)
	step.SendWindowStart = "09:00"
	step.SendWindowEnd = "17:00"
	seq := &models.Sequence{Steps: []models.SequenceStep{emailStep(1, 0, models.DelayUnitDays), step}}

	next := ComputeNext(now, 1, seq)
	require.NotNil(t, next)
	assert.True(t, next.Equal(now))
}

func TestComputeNextWindowInStepTimezone(t *testing.T) {
	// 14:00 UTC is 09:00 in New York; inside the window, no snap.
	now := time.Date(2026, 1, 5, 14, 0, 0, 0, time.UTC)
	step := emailStep(2, 0, models.DelayUnitHours)
	step.SendWindowStart = "09:00"
	step.SendWindowEnd = "17:00"
	step.Timezone = "America/New_York"
	seq := &models.Sequence{Steps: []models.SequenceStep{emailStep(1, 0, models.DelayUnitDays), step}}

	next := ComputeNext(now, 1, seq)
	require.NotNil(t, next)
	assert.True(t, next.Equal(now))
}

func TestComputeNextSkipWeekends(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) // Thursday
	seq := &models.Sequence{
		SkipWeekends: true,
		Steps: []models.SequenceStep{
			emailStep(1, 0, models.DelayUnitDays),
			emailStep(2, 2, models.DelayUnitDays), // Saturday Jan 3
		},
	}

	next := ComputeNext(now, 1, seq)
	require.NotNil(t, next)
	// Saturday moves two days to Monday Jan 5.
	assert.Equal(t, time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC), next.UTC())

	seq.Steps[1].DelayValue = 3 // Sunday Jan 4
	next = ComputeNext(now, 1, seq)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC), next.UTC())
}

func TestComputeNextWeekdayNotShifted(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) // Thursday
	seq := &models.Sequence{
		SkipWeekends: true,
		Steps: []models.SequenceStep{
			emailStep(1, 0, models.DelayUnitDays),
			emailStep(2, 1, models.DelayUnitDays), // Friday
		},
	}

	next := ComputeNext(now, 1, seq)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC), next.UTC())
}

func TestComputeNextInvalidWindowIgnored(t *testing.T) {
	now := time.Date(2026, 1, 5, 21, 0, 0, 0, time.UTC)
	step := emailStep(2, 0, models.DelayUnitHours)
	step.SendWindowStart = "not-a-time"
	step.SendWindowEnd = "17:00"
	seq := &models.Sequence{Steps: []models.SequenceStep{emailStep(1, 0, models.DelayUnitDays), step}}

	next := ComputeNext(now, 1, seq)
	require.NotNil(t, next)
	assert.True(t, next.Equal(now))
}

func TestStepByNumber(t *testing.T) {
	seq := &models.Sequence{Steps: []models.SequenceStep{
		emailStep(2, 1, models.DelayUnitDays),
		emailStep(1, 0, models.DelayUnitDays),
	}}

	step := StepByNumber(seq, 2)
	require.NotNil(t, step)
	assert.Equal(t, 2, step.StepNumber)
	assert.Nil(t, StepByNumber(seq, 3))
}

func TestStepByNumberGotoTarget(t *testing.T) {
	seq := &models.Sequence{Steps: []models.SequenceStep{
		emailStep(1, 0, models.DelayUnitDays),
		{StepNumber: 2, StepType: models.StepTypeConditional, ConditionType: models.ConditionOpened, GotoStep: intPtr(1)},
	}}

	step := StepByNumber(seq, *seq.Steps[1].GotoStep)
	require.NotNil(t, step)
	assert.Equal(t, models.StepTypeEmail, step.StepType)
}
