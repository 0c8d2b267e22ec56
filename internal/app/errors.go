package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrRunInProgress = errors.New("ingestion run already in progress")
	ErrNotStarted    = errors.New("service not started")
	ErrNoPayloads    = errors.New("no payloads")
)
