package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status represents the terminal outcome of testing one gremlin.
type Status int

const (
	// StatusSurvived indicates no selected test failed against the mutant.
	StatusSurvived Status = iota
	// StatusZapped indicates a test detected the mutant by failing.
	StatusZapped
	// StatusTimeout indicates the mutant's test run exceeded the per-mutant deadline.
	StatusTimeout
	// StatusError indicates an infrastructure failure while testing the mutant.
	StatusError
)

var statusNames = map[Status]string{
	StatusSurvived: "survived",
	StatusZapped:   "zapped",
	StatusTimeout:  "timeout",
	StatusError:    "error",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus converts the wire form back into a Status.
func ParseStatus(name string) (Status, error) {
	for status, n := range statusNames {
		if n == name {
			return status, nil
		}
	}
	return StatusError, fmt.Errorf("unknown status %q", name)
}

// WorkerResult is the outcome of testing one gremlin. KillingTest is empty
// when no single test can be named; Duration is zero when unknown. Cached
// marks results served from the incremental cache instead of a worker.
type WorkerResult struct {
	GremlinID   string
	Status      Status
	KillingTest string
	Duration    time.Duration
	Cached      bool
}

type workerResultJSON struct {
	GremlinID   string  `json:"gremlin_id"`
	Status      string  `json:"status"`
	KillingTest string  `json:"killing_test,omitempty"`
	DurationMS  float64 `json:"duration_ms,omitempty"`
	Cached      bool    `json:"cached,omitempty"`
}

// MarshalJSON encodes the result in the wire form shared by the worker
// protocol and the cache blob: status as a string, duration in milliseconds.
func (r WorkerResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(workerResultJSON{
		GremlinID:   r.GremlinID,
		Status:      r.Status.String(),
		KillingTest: r.KillingTest,
		DurationMS:  float64(r.Duration) / float64(time.Millisecond),
		Cached:      r.Cached,
	})
}

func (r *WorkerResult) UnmarshalJSON(data []byte) error {
	var w workerResultJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	status, err := ParseStatus(w.Status)
	if err != nil {
		return err
	}
	r.GremlinID = w.GremlinID
	r.Status = status
	r.KillingTest = w.KillingTest
	r.Duration = time.Duration(w.DurationMS * float64(time.Millisecond))
	r.Cached = w.Cached
	return nil
}

// Summary aggregates a whole run for reporting.
type Summary struct {
	Total    int
	Zapped   int
	Survived int
	Timeout  int
	Errors   int
	Cached   int
	Score    float64
	Elapsed  time.Duration
}
