// Package session provides the per-user playback Session domain entity.
package session

import (
	"sync"
	"time"

	"github.com/osa030/voicetube/internal/domain/media"
)

// Timing records when playback last started and when it was last paused.
type Timing struct {
	StartedAt time.Time
	StoppedAt time.Time
}

// Offset returns the resume offset (StoppedAt - StartedAt).
// ok is false when no pause was recorded after the last start.
func (t Timing) Offset() (time.Duration, bool) {
	if t.StartedAt.IsZero() || t.StoppedAt.IsZero() {
		return 0, false
	}
	if !t.StoppedAt.After(t.StartedAt) {
		return 0, false
	}
	return t.StoppedAt.Sub(t.StartedAt), true
}

// Session represents a user's playback session.
// Individual accessors are safe for concurrent use; sequences of calls are not
// atomic, so overlapping requests for the same user resolve last-write-wins.
type Session struct {
	mu sync.RWMutex

	userID        string
	candidate     *media.Candidate
	activeAsset   string
	streamToken   string
	timing        *Timing
	repeatOnce    bool
	repeatForever bool
	fetching      bool
	lastActivity  time.Time
}

// New creates an empty session for userID.
func New(userID string) *Session {
	return &Session{
		userID:       userID,
		lastActivity: time.Now(),
	}
}

// UserID returns the owning user identifier.
func (s *Session) UserID() string {
	return s.userID
}

// Candidate returns the pending search result, or nil.
func (s *Session) Candidate() *media.Candidate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.candidate == nil {
		return nil
	}
	c := *s.candidate
	return &c
}

// SetCandidate replaces the pending search result.
func (s *Session) SetCandidate(c media.Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidate = &c
}

// ClearCandidate drops the pending search result.
func (s *Session) ClearCandidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidate = nil
}

// HasVideo reports whether an asset has been confirmed and resolved.
func (s *Session) HasVideo() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeAsset != ""
}

// ActiveAsset returns the playable URL of the current asset.
func (s *Session) ActiveAsset() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeAsset
}

// SetActiveAsset sets the playable URL of the current asset.
func (s *Session) SetActiveAsset(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeAsset = url
}

// ClearAsset drops the current asset. The stream token goes with it.
func (s *Session) ClearAsset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeAsset = ""
	s.streamToken = ""
}

// IsStreaming reports whether a stream token is held.
func (s *Session) IsStreaming() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamToken != ""
}

// StreamToken returns the token of the current stream, or "".
func (s *Session) StreamToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamToken
}

// SetStreamToken records the token of the current stream.
// It returns false and leaves the session untouched when there is no asset.
func (s *Session) SetStreamToken(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeAsset == "" {
		return false
	}
	s.streamToken = token
	return true
}

// ClearStreamToken drops the current stream token.
func (s *Session) ClearStreamToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamToken = ""
}

// Timing returns a copy of the playback timing, or nil if none was recorded.
func (s *Session) Timing() *Timing {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.timing == nil {
		return nil
	}
	t := *s.timing
	return &t
}

// MarkStarted records the moment playback (re)started and forgets any
// earlier pause.
func (s *Session) MarkStarted(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timing = &Timing{StartedAt: at}
}

// MarkStopped records the moment playback was paused.
func (s *Session) MarkStopped(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timing == nil {
		s.timing = &Timing{}
	}
	s.timing.StoppedAt = at
}

// IsPaused reports whether the asset is held without a stream and a pause
// was recorded after the last start.
func (s *Session) IsPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeAsset == "" || s.streamToken != "" || s.timing == nil {
		return false
	}
	_, ok := s.timing.Offset()
	return ok
}

// RepeatOnce reports whether the next natural end should repeat.
func (s *Session) RepeatOnce() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repeatOnce
}

// SetRepeatOnce sets the one-shot repeat flag.
func (s *Session) SetRepeatOnce(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repeatOnce = v
}

// RepeatForever reports whether looping is on.
func (s *Session) RepeatForever() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repeatForever
}

// SetRepeatForever turns looping on or off.
func (s *Session) SetRepeatForever(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repeatForever = v
}

// ShouldRepeat reports whether a natural end should restart the asset.
// Repeat flags are inert without an asset.
func (s *Session) ShouldRepeat() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeAsset != "" && (s.repeatOnce || s.repeatForever)
}

// IsFetching reports whether a confirmed download is being awaited.
func (s *Session) IsFetching() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetching
}

// SetFetching marks a confirmed download as in flight or done.
func (s *Session) SetFetching(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetching = v
}

// Touch records activity on the session.
func (s *Session) Touch(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = at
}

// LastActivity returns the time of the last recorded activity.
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Snapshot is a point-in-time copy of a session for inspection.
type Snapshot struct {
	UserID        string
	Candidate     *media.Candidate
	ActiveAsset   string
	StreamToken   string
	Timing        *Timing
	RepeatOnce    bool
	RepeatForever bool
	Fetching      bool
	LastActivity  time.Time
}

// Snapshot returns a consistent copy of all fields.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		UserID:        s.userID,
		ActiveAsset:   s.activeAsset,
		StreamToken:   s.streamToken,
		RepeatOnce:    s.repeatOnce,
		RepeatForever: s.repeatForever,
		Fetching:      s.fetching,
		LastActivity:  s.lastActivity,
	}
	if s.candidate != nil {
		c := *s.candidate
		snap.Candidate = &c
	}
	if s.timing != nil {
		t := *s.timing
		snap.Timing = &t
	}
	return snap
}
