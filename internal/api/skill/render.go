package skill

import (
	"html"

	"github.com/osa030/voicetube/internal/app/playback"
	"github.com/osa030/voicetube/internal/domain/media"
)

const envelopeVersion = "1.0"

// render converts an orchestrator response into the platform envelope.
// Audio player and session-ended requests only accept directives.
func render(resp *playback.Response, directivesOnly bool) *ResponseEnvelope {
	env := &ResponseEnvelope{Version: envelopeVersion}
	if resp == nil {
		return env
	}

	for _, d := range resp.Directives {
		env.Response.Directives = append(env.Response.Directives, renderDirective(d))
	}
	if directivesOnly {
		return env
	}

	if resp.Speech != "" {
		env.Response.OutputSpeech = ssml(resp.Speech)
	}
	if resp.Reprompt != "" {
		env.Response.Reprompt = &Reprompt{OutputSpeech: *ssml(resp.Reprompt)}
	}
	if resp.Card != nil {
		env.Response.Card = &Card{
			Type:    "Simple",
			Title:   resp.Card.Title,
			Content: resp.Card.Content,
		}
	}
	end := !resp.KeepSessionOpen
	env.Response.ShouldEndSession = &end
	return env
}

func renderDirective(d *media.StreamDirective) Directive {
	switch d.Type {
	case media.DirectiveReplaceAll, media.DirectiveEnqueue:
		return Directive{
			Type:         "AudioPlayer.Play",
			PlayBehavior: string(d.Type),
			AudioItem: &AudioItem{
				Stream: Stream{
					URL:                   d.URL,
					Token:                 d.Token,
					ExpectedPreviousToken: d.ExpectedPreviousToken,
					OffsetInMilliseconds:  d.OffsetMs,
				},
			},
		}
	case media.DirectiveStop:
		return Directive{Type: "AudioPlayer.Stop"}
	default:
		return Directive{Type: "AudioPlayer.ClearQueue", ClearBehavior: "CLEAR_ALL"}
	}
}

func ssml(text string) *OutputSpeech {
	return &OutputSpeech{
		Type: "SSML",
		SSML: "<speak>" + html.EscapeString(text) + "</speak>",
	}
}
