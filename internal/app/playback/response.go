package playback

import "github.com/osa030/voicetube/internal/domain/media"

// Card is a simple companion card shown by the platform.
type Card struct {
	Title   string
	Content string
}

// Response is what the orchestrator hands back to the dispatcher.
type Response struct {
	Speech          string // Plain text; the dispatcher wraps it in SSML
	Reprompt        string
	Card            *Card
	Directives      []*media.StreamDirective
	KeepSessionOpen bool
}

// HasDirective reports whether a directive of type t is present.
func (r *Response) HasDirective(t media.StreamDirectiveType) bool {
	return r.Directive(t) != nil
}

// Directive returns the first directive of type t, or nil.
func (r *Response) Directive(t media.StreamDirectiveType) *media.StreamDirective {
	if r == nil {
		return nil
	}
	for _, d := range r.Directives {
		if d.Type == t {
			return d
		}
	}
	return nil
}

func speak(text string) *Response {
	return &Response{Speech: text}
}

func ask(text, reprompt string) *Response {
	return &Response{
		Speech:          text,
		Reprompt:        reprompt,
		KeepSessionOpen: true,
	}
}
