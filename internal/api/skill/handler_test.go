package skill

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/voicetube/internal/app/catalog"
	"github.com/osa030/voicetube/internal/app/filter"
	"github.com/osa030/voicetube/internal/app/playback"
	"github.com/osa030/voicetube/internal/domain/media"
)

const (
	testAppID  = "amzn1.ask.skill.0000"
	testUserID = "amzn1.ask.account.TEST"
)

type call struct {
	intent playback.Intent
	req    playback.Request
}

type fakeOrchestrator struct {
	calls []call
	resp  *playback.Response
	err   error
}

func (o *fakeOrchestrator) Handle(_ context.Context, intent playback.Intent, req playback.Request) (*playback.Response, error) {
	o.calls = append(o.calls, call{intent: intent, req: req})
	if o.err != nil {
		return nil, o.err
	}
	if o.resp == nil {
		return &playback.Response{}, nil
	}
	return o.resp, nil
}

func newTestHandler(t *testing.T, orch Orchestrator, extra ...filter.Filter) *Handler {
	t.Helper()
	msgs, err := catalog.New("")
	require.NoError(t, err)

	chain := filter.NewChain()
	chain.Add(filter.NewApplicationIDFilter(testAppID))
	for _, f := range extra {
		chain.Add(f)
	}
	return NewHandler(orch, chain, msgs)
}

func intentEnvelope(name string, slots map[string]Slot) RequestEnvelope {
	return RequestEnvelope{
		Version: "1.0",
		Session: &Session{
			SessionID:   "session-1",
			Application: Application{ApplicationID: testAppID},
			User:        User{UserID: testUserID},
		},
		Context: &Context{System: System{
			Application: Application{ApplicationID: testAppID},
			User:        User{UserID: testUserID},
		}},
		Request: Request{
			Type:      RequestTypeIntent,
			RequestID: "req-1",
			Timestamp: time.Now().UTC(),
			Locale:    "en-US",
			Intent:    &Intent{Name: name, Slots: slots},
		},
	}
}

func bareEnvelope(requestType string) RequestEnvelope {
	env := intentEnvelope("", nil)
	env.Request.Type = requestType
	env.Request.Intent = nil
	return env
}

func eventEnvelope(requestType, token string) RequestEnvelope {
	return RequestEnvelope{
		Version: "1.0",
		Context: &Context{System: System{
			Application: Application{ApplicationID: testAppID},
			User:        User{UserID: testUserID},
		}},
		Request: Request{
			Type:      requestType,
			RequestID: "req-2",
			Timestamp: time.Now().UTC(),
			Locale:    "en-US",
			Token:     token,
		},
	}
}

func post(t *testing.T, h http.Handler, body any) (*httptest.ResponseRecorder, *ResponseEnvelope) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/skill", bytes.NewReader(data)))

	var env ResponseEnvelope
	if rec.Code == http.StatusOK || rec.Code == http.StatusForbidden {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, &env
}

func TestHandler_Routing(t *testing.T) {
	tests := []struct {
		name       string
		envelope   RequestEnvelope
		wantIntent playback.Intent
		wantQuery  string
		wantToken  string
	}{
		{
			name:       "launch",
			envelope:   bareEnvelope(RequestTypeLaunch),
			wantIntent: playback.IntentLaunch,
		},
		{
			name:       "search",
			envelope:   intentEnvelope("SearchIntent", map[string]Slot{QuerySlot: {Name: QuerySlot, Value: "lofi hip hop"}}),
			wantIntent: playback.IntentSearch,
			wantQuery:  "lofi hip hop",
		},
		{
			name:       "german search alias",
			envelope:   intentEnvelope("SucheIntent", map[string]Slot{QuerySlot: {Name: QuerySlot, Value: "entspannungsmusik"}}),
			wantIntent: playback.IntentSearch,
			wantQuery:  "entspannungsmusik",
		},
		{
			name:       "yes",
			envelope:   intentEnvelope("AMAZON.YesIntent", nil),
			wantIntent: playback.IntentConfirmYes,
		},
		{
			name:       "pause",
			envelope:   intentEnvelope("AMAZON.PauseIntent", nil),
			wantIntent: playback.IntentPause,
		},
		{
			name:       "repeat",
			envelope:   intentEnvelope("AMAZON.RepeatIntent", nil),
			wantIntent: playback.IntentRepeatOnce,
		},
		{
			name:       "loop on",
			envelope:   intentEnvelope("AMAZON.LoopOnIntent", nil),
			wantIntent: playback.IntentLoopOn,
		},
		{
			name:       "unknown intent falls back",
			envelope:   intentEnvelope("SomethingElseIntent", nil),
			wantIntent: playback.IntentFallback,
		},
		{
			name:       "nearly finished",
			envelope:   eventEnvelope(RequestTypePlaybackNearlyFinished, "token-1"),
			wantIntent: playback.IntentNearlyFinished,
			wantToken:  "token-1",
		},
		{
			name:       "session ended",
			envelope:   bareEnvelope(RequestTypeSessionEnded),
			wantIntent: playback.IntentSessionEnded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch := &fakeOrchestrator{}
			rec, _ := post(t, newTestHandler(t, orch), tt.envelope)

			assert.Equal(t, http.StatusOK, rec.Code)
			require.Len(t, orch.calls, 1)
			got := orch.calls[0]
			assert.Equal(t, tt.wantIntent, got.intent)
			assert.Equal(t, testUserID, got.req.UserID)
			assert.Equal(t, "en-US", got.req.Locale)
			assert.Equal(t, tt.wantQuery, got.req.Query)
			assert.Equal(t, tt.wantToken, got.req.Token)
		})
	}
}

func TestHandler_PlaybackFailedCarriesError(t *testing.T) {
	orch := &fakeOrchestrator{}
	env := eventEnvelope(RequestTypePlaybackFailed, "token-1")
	env.Request.Error = &PlaybackError{Type: "MEDIA_ERROR_UNKNOWN", Message: "decoder failed"}

	post(t, newTestHandler(t, orch), env)

	require.Len(t, orch.calls, 1)
	assert.Equal(t, "MEDIA_ERROR_UNKNOWN: decoder failed", orch.calls[0].req.Error)
}

func TestHandler_UserIDFallsBackToSession(t *testing.T) {
	orch := &fakeOrchestrator{}
	env := intentEnvelope("AMAZON.HelpIntent", nil)
	env.Context = nil

	rec, _ := post(t, newTestHandler(t, orch), env)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, orch.calls, 1)
	assert.Equal(t, testUserID, orch.calls[0].req.UserID)
}

func TestHandler_IdentityMismatch(t *testing.T) {
	orch := &fakeOrchestrator{}
	env := intentEnvelope("AMAZON.PauseIntent", nil)
	env.Context.System.Application.ApplicationID = "amzn1.ask.skill.9999"

	rec, resp := post(t, newTestHandler(t, orch), env)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, orch.calls)
	require.NotNil(t, resp.Response.OutputSpeech)
	assert.Equal(t, "<speak>Sorry, I can&#39;t help with that request.</speak>", resp.Response.OutputSpeech.SSML)
	assert.Empty(t, resp.Response.Directives)
}

func TestHandler_RateLimited(t *testing.T) {
	orch := &fakeOrchestrator{}
	limiter := filter.NewRateLimitFilter(time.Now)
	require.NoError(t, limiter.ValidateConfig(map[string]any{"requests": 1, "window_sec": 3600, "burst": 1}))
	h := newTestHandler(t, orch, limiter)

	rec, _ := post(t, h, intentEnvelope("AMAZON.HelpIntent", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, resp := post(t, h, intentEnvelope("AMAZON.HelpIntent", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.Response.OutputSpeech)
	assert.Contains(t, resp.Response.OutputSpeech.SSML, "Sorry")
	assert.Len(t, orch.calls, 1)

	// Playback events bypass the limit
	rec, _ = post(t, h, eventEnvelope(RequestTypePlaybackStarted, "token-1"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, orch.calls, 2)
}

func TestHandler_BadRequests(t *testing.T) {
	noUser := intentEnvelope("AMAZON.HelpIntent", nil)
	noUser.Context = nil
	noUser.Session.User.UserID = ""

	badLocale := intentEnvelope("AMAZON.HelpIntent", nil)
	badLocale.Request.Locale = "not a locale"

	tests := []struct {
		name string
		body any
	}{
		{name: "missing user", body: noUser},
		{name: "invalid locale", body: badLocale},
		{name: "missing type", body: map[string]any{"request": map[string]any{"locale": "en-US"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch := &fakeOrchestrator{}
			rec, _ := post(t, newTestHandler(t, orch), tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, orch.calls)
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestHandler(t, &fakeOrchestrator{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/skill", bytes.NewBufferString("{")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newTestHandler(t, &fakeOrchestrator{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/skill", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestHandler_DefaultLocale(t *testing.T) {
	orch := &fakeOrchestrator{}
	msgs, err := catalog.New("")
	require.NoError(t, err)
	h := NewHandler(orch, nil, msgs, WithDefaultLocale("de-DE"))

	env := intentEnvelope("AMAZON.HelpIntent", nil)
	env.Request.Locale = ""
	rec, _ := post(t, h, env)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, orch.calls, 1)
	assert.Equal(t, "de-DE", orch.calls[0].req.Locale)
}

func TestHandler_OrchestratorError(t *testing.T) {
	orch := &fakeOrchestrator{err: errors.New("boom")}
	rec, resp := post(t, newTestHandler(t, orch), intentEnvelope("AMAZON.PauseIntent", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, resp.Response.OutputSpeech)
	assert.Contains(t, resp.Response.OutputSpeech.SSML, "Sorry")
}

func TestHandler_RendersSearchPrompt(t *testing.T) {
	orch := &fakeOrchestrator{resp: &playback.Response{
		Speech:          "I found a video called Tom & Jerry. Would you like me to play it?",
		Reprompt:        "Should I play Tom & Jerry? Say yes or no.",
		Card:            &playback.Card{Title: "Search Result", Content: "Tom & Jerry"},
		KeepSessionOpen: true,
	}}

	_, resp := post(t, newTestHandler(t, orch), intentEnvelope("SearchIntent", nil))

	body := resp.Response
	require.NotNil(t, body.OutputSpeech)
	assert.Equal(t, "SSML", body.OutputSpeech.Type)
	assert.Equal(t, "<speak>I found a video called Tom &amp; Jerry. Would you like me to play it?</speak>", body.OutputSpeech.SSML)
	require.NotNil(t, body.Reprompt)
	assert.Contains(t, body.Reprompt.OutputSpeech.SSML, "Tom &amp; Jerry")
	require.NotNil(t, body.Card)
	assert.Equal(t, "Simple", body.Card.Type)
	assert.Equal(t, "Tom & Jerry", body.Card.Content)
	require.NotNil(t, body.ShouldEndSession)
	assert.False(t, *body.ShouldEndSession)
}

func TestHandler_RendersDirectives(t *testing.T) {
	orch := &fakeOrchestrator{resp: &playback.Response{
		Speech: "Now playing Song.",
		Directives: []*media.StreamDirective{
			media.ReplaceAll("https://media.example.com/a", "token-2", 95000),
		},
	}}

	_, resp := post(t, newTestHandler(t, orch), intentEnvelope("AMAZON.YesIntent", nil))

	body := resp.Response
	require.Len(t, body.Directives, 1)
	d := body.Directives[0]
	assert.Equal(t, "AudioPlayer.Play", d.Type)
	assert.Equal(t, "REPLACE_ALL", d.PlayBehavior)
	require.NotNil(t, d.AudioItem)
	assert.Equal(t, "https://media.example.com/a", d.AudioItem.Stream.URL)
	assert.Equal(t, "token-2", d.AudioItem.Stream.Token)
	assert.Equal(t, int64(95000), d.AudioItem.Stream.OffsetInMilliseconds)
	require.NotNil(t, body.ShouldEndSession)
	assert.True(t, *body.ShouldEndSession)
}

func TestHandler_EventResponsesCarryDirectivesOnly(t *testing.T) {
	orch := &fakeOrchestrator{resp: &playback.Response{
		Speech: "ignored",
		Directives: []*media.StreamDirective{
			media.Enqueue("https://media.example.com/a", "token-3", "token-2", 0),
		},
	}}

	_, resp := post(t, newTestHandler(t, orch), eventEnvelope(RequestTypePlaybackNearlyFinished, "token-2"))

	body := resp.Response
	assert.Nil(t, body.OutputSpeech)
	assert.Nil(t, body.ShouldEndSession)
	require.Len(t, body.Directives, 1)
	assert.Equal(t, "ENQUEUE", body.Directives[0].PlayBehavior)
	assert.Equal(t, "token-2", body.Directives[0].AudioItem.Stream.ExpectedPreviousToken)
	assert.Equal(t, "token-3", body.Directives[0].AudioItem.Stream.Token)
}

func TestRenderDirective_StopAndClear(t *testing.T) {
	stop := renderDirective(media.Stop())
	assert.Equal(t, Directive{Type: "AudioPlayer.Stop"}, stop)

	clearQueue := renderDirective(media.ClearQueue())
	assert.Equal(t, Directive{Type: "AudioPlayer.ClearQueue", ClearBehavior: "CLEAR_ALL"}, clearQueue)
}
