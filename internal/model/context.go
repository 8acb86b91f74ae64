package model

import (
	"time"
)

// ExecutionContext carries the simulated "current" timestamp declared by an
// algorithmic caller, plus the timezone its dates are expressed in. It lives
// for one request or one scheduled run.
type ExecutionContext struct {
	CurrentTimestamp time.Time
	Location         *time.Location
}
