// Package guard enforces the simulated-clock boundary: a caller replaying
// history declares a "current" timestamp, and no request it makes may read
// data from after that instant.
package guard

import (
	"fmt"
	"time"
)

// TimeTravelViolation is returned when a requested timestamp lies after the
// caller's declared current timestamp. The HTTP layer maps it to 403.
type TimeTravelViolation struct {
	Current   time.Time
	Requested time.Time
}

func (e *TimeTravelViolation) Error() string {
	return fmt.Sprintf("cannot access data at %s: data must not be after current execution timestamp (%s)",
		e.Requested.UTC().Format(time.RFC3339), e.Current.UTC().Format(time.RFC3339))
}

// Validate checks every requested timestamp against the declared current
// timestamp. Comparison is UTC-normalized. It fails on the first timestamp
// strictly after current and has no side effects; equal timestamps pass.
func Validate(current time.Time, requested ...time.Time) error {
	cur := current.UTC()
	for _, ts := range requested {
		if ts.UTC().After(cur) {
			return &TimeTravelViolation{Current: current, Requested: ts}
		}
	}
	return nil
}
