// Package media provides the media domain entities returned by the backend.
package media

import "strings"

// Candidate represents a search result that has not been confirmed yet.
type Candidate struct {
	RemoteID string // Backend video ID
	Title    string // Video title
	Link     string // Playable link as reported by search (may not be ready)
}

// IsValid reports whether the candidate carries enough to be downloaded.
func (c *Candidate) IsValid() bool {
	return c != nil && strings.TrimSpace(c.RemoteID) != ""
}

// StreamDirectiveType represents the kind of audio directive sent to the platform.
type StreamDirectiveType string

const (
	DirectiveReplaceAll StreamDirectiveType = "REPLACE_ALL" // Start a stream, replacing the queue
	DirectiveEnqueue    StreamDirectiveType = "ENQUEUE"     // Append a stream after the current one
	DirectiveStop       StreamDirectiveType = "STOP"        // Stop the current stream
	DirectiveClearQueue StreamDirectiveType = "CLEAR_QUEUE" // Drop everything queued
)

// StreamDirective is an audio instruction returned to the voice platform.
type StreamDirective struct {
	Type                  StreamDirectiveType
	URL                   string
	Token                 string
	ExpectedPreviousToken string // Only set for DirectiveEnqueue
	OffsetMs              int64
}

// ReplaceAll builds a directive that starts url at offset, replacing any queue.
func ReplaceAll(url, token string, offsetMs int64) *StreamDirective {
	return &StreamDirective{
		Type:     DirectiveReplaceAll,
		URL:      url,
		Token:    token,
		OffsetMs: offsetMs,
	}
}

// Enqueue builds a directive that plays url after the stream identified by previousToken.
func Enqueue(url, token, previousToken string, offsetMs int64) *StreamDirective {
	return &StreamDirective{
		Type:                  DirectiveEnqueue,
		URL:                   url,
		Token:                 token,
		ExpectedPreviousToken: previousToken,
		OffsetMs:              offsetMs,
	}
}

// Stop builds a stop directive.
func Stop() *StreamDirective {
	return &StreamDirective{Type: DirectiveStop}
}

// ClearQueue builds a clear-queue directive.
func ClearQueue() *StreamDirective {
	return &StreamDirective{Type: DirectiveClearQueue}
}
