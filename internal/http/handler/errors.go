package handler

const (
	errInternalServer = "Internal server error"
	errJobNotFound    = "Job not found"
	errDuplicateJob   = "Job with this idempotency key already exists"
	errTokenInvalid   = "Token is invalid or expired"
	errInvalidStatus     = "Invalid status value"
	errJobNotCancellable = "Job cannot be cancelled in its current state"
	errJobTimedOut       = "Timed out waiting for the job to finish"

	errScheduleNotFound      = "Schedule not found"
	errInvalidTrigger        = "Invalid trigger"
	errScheduleAlreadyPaused = "Schedule is already paused"
	errScheduleNotPaused     = "Schedule is not paused"
)
