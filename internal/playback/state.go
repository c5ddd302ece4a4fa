// internal/playback/state.go
package playback

import "github.com/llehouerou/wavestream/internal/engine"

// State is the observable playback state. It is derived from transport
// signals and never set by callers.
//
// Transitions driven by the transport's time-control status:
//
//	paused,   no asset          -> Idle
//	paused,   asset, user pause -> Paused
//	paused,   paused for load   -> (unchanged, wait for Ready)
//	waiting,  asset             -> Buffering
//	playing                     -> Playing
//
// Transitions driven by the controller itself:
//
//	Load                        -> Loading
//	item ready                  -> Ready
//	Stop, failed validation     -> Idle
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateBuffering
	StatePlaying
	StatePaused
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateLoading:
		return "Loading"
	case StateReady:
		return "Ready"
	case StateBuffering:
		return "Buffering"
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// stateForTimeControl maps a time-control status to a state. It returns
// false when the signal must not cause a transition.
func stateForTimeControl(status engine.TimeControlStatus, hasAsset, pausedForLoad bool) (State, bool) {
	switch status {
	case engine.Paused:
		if !hasAsset {
			return StateIdle, true
		}
		if pausedForLoad {
			return 0, false
		}
		return StatePaused, true
	case engine.WaitingToPlay:
		if !hasAsset {
			return 0, false
		}
		return StateBuffering, true
	case engine.Playing:
		return StatePlaying, true
	default:
		return 0, false
	}
}

// applyTransition reports whether moving from old to next is a change worth
// notifying.
func applyTransition(old, next State) bool {
	return old != next
}
