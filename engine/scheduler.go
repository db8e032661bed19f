package engine

import (
	"fmt"
	"time"

	"cadencer/models"
)

// StepByNumber returns the step with the given 1-based number, or nil.
func StepByNumber(seq *models.Sequence, number int) *models.SequenceStep {
	for i := range seq.Steps {
		if seq.Steps[i].StepNumber == number {
			return &seq.Steps[i]
		}
	}
	return nil
}

// ComputeNext returns when the step after completedStepNumber should run, or
// nil when the sequence has no more steps (the caller marks the enrollment
// completed). Pure given (now, sequence) so it can be tested without a store.
func ComputeNext(now time.Time, completedStepNumber int, seq *models.Sequence) *time.Time {
	step := StepByNumber(seq, completedStepNumber+1)
	if step == nil {
		return nil
	}

	t := now.Add(stepDelay(step))

	if step.SendWindowStart != "" && step.SendWindowEnd != "" {
		t = snapToWindow(t, step)
	}

	if seq.SkipWeekends {
		switch t.In(stepLocation(step)).Weekday() {
		case time.Saturday:
			t = t.AddDate(0, 0, 2)
		case time.Sunday:
			t = t.AddDate(0, 0, 1)
		}
	}

	return &t
}

func stepDelay(step *models.SequenceStep) time.Duration {
	value := time.Duration(step.DelayValue)
	switch step.DelayUnit {
	case models.DelayUnitHours:
		return value * time.Hour
	case models.DelayUnitWeeks:
		return value * 7 * 24 * time.Hour
	default: // days
		return value * 24 * time.Hour
	}
}

// snapToWindow moves t forward into the step's send window. A time already
// inside [start,end) is left alone; anything else lands on the window start,
// rolling to the next day when that start has already gone by.
func snapToWindow(t time.Time, step *models.SequenceStep) time.Time {
	startHour, startMin, err := parseClockTime(step.SendWindowStart)
	if err != nil {
		return t
	}
	endHour, endMin, err := parseClockTime(step.SendWindowEnd)
	if err != nil {
		return t
	}

	loc := stepLocation(step)
	local := t.In(loc)

	minutes := local.Hour()*60 + local.Minute()
	if minutes >= startHour*60+startMin && minutes < endHour*60+endMin {
		return t
	}

	snapped := time.Date(local.Year(), local.Month(), local.Day(), startHour, startMin, 0, 0, loc)
	if !snapped.After(local) {
		snapped = snapped.AddDate(0, 0, 1)
	}
	return snapped
}

func parseClockTime(value string) (hour, minute int, err error) {
	if _, err = fmt.Sscanf(value, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid clock time %q: %w", value, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid clock time %q", value)
	}
	return hour, minute, nil
}

func stepLocation(step *models.SequenceStep) *time.Location {
	if step.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(step.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
