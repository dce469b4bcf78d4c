package scenario

import (
	"time"

	"github.com/kuitang/blogcheck/internal/errs"
)

// Status is the outcome of one case.
type Status string

const (
	Passed  Status = "passed"
	Failed  Status = "failed" // an assertion did not hold or an element never appeared
	Errored Status = "error"  // setup, browser or server trouble
	Skipped Status = "skipped"
)

// StatusOf maps a step error to a case status.
func StatusOf(err error) Status {
	if err == nil {
		return Passed
	}
	switch errs.CodeOf(err) {
	case errs.AssertionFailed, errs.NotFound:
		return Failed
	default:
		return Errored
	}
}

// Result is the outcome of one case.
type Result struct {
	Name       string
	Status     Status
	Duration   time.Duration
	Step       string // step that failed, if any
	Err        error
	Screenshot string // path of the failure screenshot, if one was taken
}

// Message returns the error text, or "".
func (r Result) Message() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Counts tallies results by status.
type Counts struct {
	Total   int
	Passed  int
	Failed  int
	Errored int
	Skipped int
}

// Report is the outcome of one run.
type Report struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Results  []Result
}

// Counts tallies the report's results.
func (r *Report) Counts() Counts {
	c := Counts{Total: len(r.Results)}
	for _, res := range r.Results {
		switch res.Status {
		case Passed:
			c.Passed++
		case Failed:
			c.Failed++
		case Errored:
			c.Errored++
		case Skipped:
			c.Skipped++
		}
	}
	return c
}

// Passed reports whether every case passed.
func (r *Report) Passed() bool {
	c := r.Counts()
	return c.Passed == c.Total
}
