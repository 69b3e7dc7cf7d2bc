package verifier

import "time"

// Status is the tag of an Outcome
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Outcome is the result of one verification run.
// A Success carries the title and screenshot path; a Failure carries the error.
type Outcome struct {
	Status         Status
	URL            string
	Title          string
	ScreenshotPath string
	Err            error
	StartedAt      time.Time
	Duration       time.Duration
}

// OK reports whether the run succeeded
func (o Outcome) OK() bool {
	return o.Status == StatusSuccess
}

// Message is the error text of a failed run, empty on success
func (o Outcome) Message() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}
