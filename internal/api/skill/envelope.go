// Package skill provides the HTTP endpoint the voice platform posts requests to.
package skill

import "time"

// Request types sent by the platform.
const (
	RequestTypeLaunch       = "LaunchRequest"
	RequestTypeIntent       = "IntentRequest"
	RequestTypeSessionEnded = "SessionEndedRequest"

	RequestTypePlaybackStarted        = "AudioPlayer.PlaybackStarted"
	RequestTypePlaybackStopped        = "AudioPlayer.PlaybackStopped"
	RequestTypePlaybackFinished       = "AudioPlayer.PlaybackFinished"
	RequestTypePlaybackNearlyFinished = "AudioPlayer.PlaybackNearlyFinished"
	RequestTypePlaybackFailed         = "AudioPlayer.PlaybackFailed"
)

// QuerySlot is the slot carrying the search phrase.
const QuerySlot = "VideoQuery"

// RequestEnvelope is the JSON body of a platform request.
type RequestEnvelope struct {
	Version string   `json:"version"`
	Session *Session `json:"session,omitempty"`
	Context *Context `json:"context,omitempty"`
	Request Request  `json:"request"`
}

// Application identifies the skill a request is addressed to.
type Application struct {
	ApplicationID string `json:"applicationId"`
}

// User identifies the platform account.
type User struct {
	UserID string `json:"userId"`
}

// Session is present on requests made inside a voice session.
type Session struct {
	New         bool        `json:"new"`
	SessionID   string      `json:"sessionId"`
	Application Application `json:"application"`
	User        User        `json:"user"`
}

// Context carries device state. Audio player events only have this.
type Context struct {
	System System `json:"System"`
}

// System is the system part of the context.
type System struct {
	Application Application `json:"application"`
	User        User        `json:"user"`
}

// Request is the request body proper.
type Request struct {
	Type                 string         `json:"type" validate:"required"`
	RequestID            string         `json:"requestId"`
	Timestamp            time.Time      `json:"timestamp"`
	Locale               string         `json:"locale" validate:"omitempty,bcp47_language_tag"`
	Intent               *Intent        `json:"intent,omitempty"`
	Token                string         `json:"token,omitempty"`
	OffsetInMilliseconds int64          `json:"offsetInMilliseconds,omitempty"`
	Reason               string         `json:"reason,omitempty"`
	Error                *PlaybackError `json:"error,omitempty"`
}

// Intent is the matched intent of an IntentRequest.
type Intent struct {
	Name  string          `json:"name" validate:"required"`
	Slots map[string]Slot `json:"slots,omitempty"`
}

// Slot is a filled intent slot.
type Slot struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

// PlaybackError describes a failed playback.
type PlaybackError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// UserID returns the user id from the context, falling back to the session.
func (e *RequestEnvelope) UserID() string {
	if e.Context != nil && e.Context.System.User.UserID != "" {
		return e.Context.System.User.UserID
	}
	if e.Session != nil {
		return e.Session.User.UserID
	}
	return ""
}

// ApplicationID returns the application id from the context, falling back to
// the session.
func (e *RequestEnvelope) ApplicationID() string {
	if e.Context != nil && e.Context.System.Application.ApplicationID != "" {
		return e.Context.System.Application.ApplicationID
	}
	if e.Session != nil {
		return e.Session.Application.ApplicationID
	}
	return ""
}

// SlotValue returns the value of the named slot, or "".
func (e *RequestEnvelope) SlotValue(name string) string {
	if e.Request.Intent == nil {
		return ""
	}
	return e.Request.Intent.Slots[name].Value
}

// ResponseEnvelope is the JSON body returned to the platform.
type ResponseEnvelope struct {
	Version  string       `json:"version"`
	Response ResponseBody `json:"response"`
}

// ResponseBody is the response proper.
type ResponseBody struct {
	OutputSpeech     *OutputSpeech `json:"outputSpeech,omitempty"`
	Card             *Card         `json:"card,omitempty"`
	Reprompt         *Reprompt     `json:"reprompt,omitempty"`
	Directives       []Directive   `json:"directives,omitempty"`
	ShouldEndSession *bool         `json:"shouldEndSession,omitempty"`
}

// OutputSpeech is SSML rendered by the platform.
type OutputSpeech struct {
	Type string `json:"type"`
	SSML string `json:"ssml"`
}

// Card is a companion card.
type Card struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Reprompt is spoken if the user stays silent.
type Reprompt struct {
	OutputSpeech OutputSpeech `json:"outputSpeech"`
}

// Directive is an audio player directive.
type Directive struct {
	Type          string     `json:"type"`
	PlayBehavior  string     `json:"playBehavior,omitempty"`
	ClearBehavior string     `json:"clearBehavior,omitempty"`
	AudioItem     *AudioItem `json:"audioItem,omitempty"`
}

// AudioItem wraps the stream to play.
type AudioItem struct {
	Stream Stream `json:"stream"`
}

// Stream describes a playable stream.
type Stream struct {
	URL                   string `json:"url"`
	Token                 string `json:"token"`
	ExpectedPreviousToken string `json:"expectedPreviousToken,omitempty"`
	OffsetInMilliseconds  int64  `json:"offsetInMilliseconds"`
}
