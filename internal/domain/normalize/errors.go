package normalize

import "errors"

// Sentinel error kinds for this package.
var (
	ErrInvalidPayload   = errors.New("invalid payload")
	ErrUnresolvableTime = errors.New("unresolvable start time")
	ErrUnknownSource    = errors.New("unknown source")
)

// Reason maps a normalization error to a short label for reports and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnresolvableTime):
		return "unresolvable_time"
	case errors.Is(err, ErrUnknownSource):
		return "unknown_source"
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	default:
		return "other"
	}
}
