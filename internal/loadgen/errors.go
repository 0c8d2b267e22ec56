package loadgen

import "errors"

// Error constants.
var (
	ErrInvalidConfig = errors.New("invalid load config")
	ErrUnhealthy     = errors.New("service unhealthy")
	ErrSubmit        = errors.New("submit batch failed")
	ErrLowRecall     = errors.New("duplicate recall below threshold")
)
