package engine

import "fmt"

// FetchError means the store could not supply due enrollments. The whole
// cycle is aborted because there is nothing safe to process.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching due enrollments: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StepExecutionError marks a failed dispatch for a single enrollment. The
// enrollment keeps its position and comes due again on the next cycle.
type StepExecutionError struct {
	EnrollmentID uint
	StepNumber   int
	Err          error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %d for enrollment %d: %v", e.StepNumber, e.EnrollmentID, e.Err)
}

func (e *StepExecutionError) Unwrap() error { return e.Err }
