package tracker

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// NewTag returns a unique correlation tag carrying the test run id as a
// prefix, so runs from one test can be found later by prefix alone.
func NewTag(runID string) string {
	id := strings.ToLower(ulid.Make().String())
	if runID == "" {
		return id
	}
	return runID + "-" + id
}
