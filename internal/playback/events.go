package playback

import (
	"time"

	"github.com/llehouerou/wavestream/internal/engine"
	"github.com/llehouerou/wavestream/internal/errmsg"
)

// StateChange is emitted when the derived state changes.
type StateChange struct {
	Previous State
	Current  State
}

// SeekCompleted is emitted when a seek issued to the transport completes.
// Finished is false when a later seek superseded it.
type SeekCompleted struct {
	Offset   time.Duration
	Finished bool
}

// Elapsed is emitted on every time event tick while an item is attached.
type Elapsed struct {
	Position time.Duration
}

// DurationUpdated is emitted when the known duration changes.
type DurationUpdated struct {
	Duration time.Duration
}

// MetadataReceived carries chapter or metadata groups of the asset, or
// timed metadata from the item.
type MetadataReceived struct {
	Groups []engine.MetadataGroup
}

// ItemEnded is emitted when the attached item plays to its end.
type ItemEnded struct {
	URL string
}

// ErrorEvent is emitted when a load fails or the transport reports a failure.
type ErrorEvent struct {
	Operation errmsg.Op
	URL       string
	Err       error
}

// TransportRecreated is emitted after the transport was replaced with a new
// instance.
type TransportRecreated struct{}

// BoundaryCrossed is emitted when playback passes a configured boundary time.
type BoundaryCrossed struct {
	Time time.Duration
}
