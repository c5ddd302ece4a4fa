package playback

import "errors"

var (
	// ErrAssetValidationFailed wraps the cause of a failed playability check.
	ErrAssetValidationFailed = errors.New("asset validation failed")

	// ErrAssetValidationCancelled marks a validation superseded by a newer
	// load. It is never surfaced to subscribers.
	ErrAssetValidationCancelled = errors.New("asset validation cancelled")

	// ErrTransportFailure wraps the cause reported by a failed item.
	ErrTransportFailure = errors.New("transport failure")

	// ErrLoadTimeout is reported when an item does not become ready in time.
	ErrLoadTimeout = errors.New("load timed out")

	// ErrTransportUnavailable is returned when no transport could be created.
	ErrTransportUnavailable = errors.New("transport unavailable")
)
