package domain

import "errors"

var (
	// ErrDispatchFailure is returned when a launch or deferred registration
	// could not be completed after retries.
	ErrDispatchFailure = errors.New("dispatch failure")

	ErrAdmissionTimeout = errors.New("admission timeout")
	ErrNotAdmitted      = errors.New("not admitted to meeting")
	ErrAdapterFailure   = errors.New("platform adapter failure")

	// ErrRecognitionStream marks a broken recognition stream. It ends input
	// for the session but never the session itself.
	ErrRecognitionStream = errors.New("recognition stream failure")

	ErrPersistenceFailure  = errors.New("persistence failure")
	ErrAtCapacity          = errors.New("session capacity reached")
	ErrNotFound            = errors.New("not found")
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)
