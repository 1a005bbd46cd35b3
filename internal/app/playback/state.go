// Package playback provides the per-user playback orchestrator.
package playback

import "github.com/osa030/voicetube/internal/domain/session"

// State represents the logical playback state of a session.
// It is derived from session fields, never stored.
type State int

const (
	StateIdle                 State = iota // No asset
	StateAwaitingConfirmation              // Search result waiting for yes/no
	StateDownloading                       // Confirmed, waiting for the backend
	StatePlaying                           // Stream token held
	StatePaused                            // Asset held, stream stopped by a pause
	StateFinished                          // Asset held, stream ended naturally
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	case StateDownloading:
		return "downloading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// DeriveState computes the logical state from a session snapshot.
func DeriveState(snap session.Snapshot) State {
	switch {
	case snap.Fetching:
		return StateDownloading
	case snap.Candidate != nil:
		return StateAwaitingConfirmation
	case snap.ActiveAsset == "":
		return StateIdle
	case snap.StreamToken != "":
		return StatePlaying
	}

	if snap.Timing != nil {
		if _, ok := snap.Timing.Offset(); ok {
			return StatePaused
		}
	}
	return StateFinished
}
