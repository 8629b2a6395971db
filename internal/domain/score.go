package domain

import (
	"github.com/mikelane/gremlins/internal/model"
)

// MutationScore is the percentage of testable gremlins that were caught.
// Timed-out gremlins count against the suite (the mutant changed
// observable behavior yet no test failed in time); errored gremlins are
// excluded from the denominator since they say nothing about the tests.
// No testable gremlins at all scores 100.
func MutationScore(results []model.WorkerResult) float64 {
	zapped := 0
	total := 0

	for _, res := range results {
		switch res.Status {
		case model.StatusZapped:
			zapped++
			total++
		case model.StatusSurvived, model.StatusTimeout:
			total++
		case model.StatusError:
		}
	}

	if total == 0 {
		return 100.0
	}

	return 100.0 * float64(zapped) / float64(total)
}
