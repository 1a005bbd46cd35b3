package playback

import "time"

// EventType represents a playback event type.
type EventType int

const (
	EventCandidateFound    EventType = iota // Search stored a new candidate
	EventCandidateDeclined                  // User said no
	EventStreamStarted                      // A stream replaced the queue (play, restart, resume)
	EventStreamEnqueued                     // A repeat was enqueued after the current stream
	EventStreamPaused                       // Playback paused
	EventStreamStopped                      // Playback stopped and asset dropped
	EventStreamFinished                     // Stream ended naturally without repeat
	EventPlaybackFailed                     // Platform reported a playback error
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventCandidateFound:
		return "candidate_found"
	case EventCandidateDeclined:
		return "candidate_declined"
	case EventStreamStarted:
		return "stream_started"
	case EventStreamEnqueued:
		return "stream_enqueued"
	case EventStreamPaused:
		return "stream_paused"
	case EventStreamStopped:
		return "stream_stopped"
	case EventStreamFinished:
		return "stream_finished"
	case EventPlaybackFailed:
		return "playback_failed"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	Type       EventType
	UserID     string
	State      State         // State after the transition
	Token      string        // Stream token involved, if any
	Offset     time.Duration // Start offset for stream events
	Detail     string        // Title, asset URL or error text
	OccurredAt time.Time
}

// EventSink receives playback events.
type EventSink interface {
	Publish(Event)
}
