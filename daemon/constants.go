package daemon

import "time"

const (
	// MinIntervalLoopTime is the continuous loop's target minimum cycle time.
	MinIntervalLoopTime = 5 * time.Second

	// MaxTimeToResumeTick bounds how old an interrupted STARTED tick may be
	// before it is abandoned (moved to SKIPPED) rather than resumed.
	MaxTimeToResumeTick = 86400 * time.Second

	// MaxFailureResubmissionRetries bounds how many times a FAILURE tick
	// with unsubmitted reservations is resubmitted as a new STARTED tick.
	MaxFailureResubmissionRetries = 1
)
