package playback

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicetube/internal/app/catalog"
	"github.com/osa030/voicetube/internal/app/poller"
	"github.com/osa030/voicetube/internal/domain/media"
	"github.com/osa030/voicetube/internal/domain/session"
	"github.com/osa030/voicetube/internal/infra/mediagw"
)

// Intent is a logical request handled by the orchestrator.
type Intent string

const (
	IntentLaunch           Intent = "Launch"
	IntentSearch           Intent = "Search"
	IntentConfirmYes       Intent = "ConfirmYes"
	IntentConfirmNo        Intent = "ConfirmNo"
	IntentStartOver        Intent = "StartOver"
	IntentStop             Intent = "Stop"
	IntentCancel           Intent = "Cancel"
	IntentResume           Intent = "Resume"
	IntentPause            Intent = "Pause"
	IntentRepeatOnce       Intent = "RepeatOnce"
	IntentLoopOn           Intent = "LoopOn"
	IntentLoopOff          Intent = "LoopOff"
	IntentHelp             Intent = "Help"
	IntentFallback         Intent = "Fallback"
	IntentSessionEnded     Intent = "SessionEnded"
	IntentPlaybackStarted  Intent = "PlaybackStarted"
	IntentPlaybackStopped  Intent = "PlaybackStopped"
	IntentPlaybackFinished Intent = "PlaybackFinished"
	IntentNearlyFinished   Intent = "PlaybackNearlyFinished"
	IntentPlaybackFailed   Intent = "PlaybackFailed"
)

// Request carries the per-request inputs the orchestrator needs.
type Request struct {
	UserID string
	Locale string
	Query  string // Search only
	Token  string // Token reported by platform playback events
	Error  string // PlaybackFailed only
}

// Gateway is the subset of the media backend the orchestrator uses.
type Gateway interface {
	Search(ctx context.Context, query, languageTag string) (*media.Candidate, error)
	Download(ctx context.Context, remoteID string) (string, error)
}

// ReadyWaiter blocks until a downloaded asset is playable.
type ReadyWaiter interface {
	AwaitReady(ctx context.Context, remoteID string) error
}

// SessionStore returns the session for a user, creating it if needed.
type SessionStore interface {
	Get(userID string) (*session.Session, error)
}

// Messages renders localized response text.
type Messages interface {
	Get(locale, key string, args map[string]string) string
}

// Orchestrator drives the per-user playback state machine.
type Orchestrator struct {
	store    SessionStore
	gateway  Gateway
	waiter   ReadyWaiter
	messages Messages
	sink     EventSink

	now      func() time.Time
	newToken func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithTokenFunc replaces the stream token generator.
func WithTokenFunc(f func() string) Option {
	return func(o *Orchestrator) {
		o.newToken = f
	}
}

// WithEventSink registers a receiver for playback events.
func WithEventSink(sink EventSink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

// NewOrchestrator creates a new playback orchestrator.
func NewOrchestrator(store SessionStore, gateway Gateway, waiter ReadyWaiter, messages Messages, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		gateway:  gateway,
		waiter:   waiter,
		messages: messages,
		now:      time.Now,
		newToken: uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handle routes intent to its operation.
func (o *Orchestrator) Handle(ctx context.Context, intent Intent, req Request) (*Response, error) {
	switch intent {
	case IntentLaunch:
		return o.Launch(ctx, req)
	case IntentSearch:
		return o.Search(ctx, req)
	case IntentConfirmYes:
		return o.ConfirmYes(ctx, req)
	case IntentConfirmNo:
		return o.ConfirmNo(ctx, req)
	case IntentStartOver:
		return o.StartOver(ctx, req)
	case IntentStop, IntentCancel:
		return o.Stop(ctx, req)
	case IntentResume:
		return o.Resume(ctx, req)
	case IntentPause:
		return o.Pause(ctx, req)
	case IntentRepeatOnce:
		return o.RepeatOnce(ctx, req)
	case IntentLoopOn:
		return o.LoopOn(ctx, req)
	case IntentLoopOff:
		return o.LoopOff(ctx, req)
	case IntentHelp:
		return o.Help(ctx, req)
	case IntentNearlyFinished:
		return o.NearlyFinished(ctx, req)
	case IntentPlaybackFailed:
		return o.PlaybackFailed(ctx, req)
	case IntentSessionEnded, IntentPlaybackStarted, IntentPlaybackStopped, IntentPlaybackFinished:
		zlog.Debug().Msgf("playback: acknowledged %s: user=%s token=%s", intent, req.UserID, req.Token)
		return &Response{}, nil
	case IntentFallback:
		return o.Fallback(ctx, req)
	default:
		return nil, errors.Newf("unknown intent %q", intent)
	}
}

// State returns the derived playback state of a user.
func (o *Orchestrator) State(userID string) (State, error) {
	sess, err := o.store.Get(userID)
	if err != nil {
		return StateIdle, err
	}
	return DeriveState(sess.Snapshot()), nil
}

// Launch greets the user and waits for a command.
func (o *Orchestrator) Launch(_ context.Context, req Request) (*Response, error) {
	return ask(o.msg(req, catalog.KeyWelcome, nil), o.msg(req, catalog.KeyReprompt, nil)), nil
}

// Help explains the available commands.
func (o *Orchestrator) Help(_ context.Context, req Request) (*Response, error) {
	return ask(o.msg(req, catalog.KeyHelp, nil), o.msg(req, catalog.KeyReprompt, nil)), nil
}

// Fallback handles utterances that matched no intent.
func (o *Orchestrator) Fallback(_ context.Context, req Request) (*Response, error) {
	return ask(o.msg(req, catalog.KeyFallback, nil), o.msg(req, catalog.KeyReprompt, nil)), nil
}

// Search looks up a video and asks the user to confirm it.
// The active asset and stream are untouched until confirmation.
func (o *Orchestrator) Search(ctx context.Context, req Request) (*Response, error) {
	sess, err := o.session(req)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.Query) == "" {
		return ask(o.msg(req, catalog.KeyReprompt, nil), o.msg(req, catalog.KeyReprompt, nil)), nil
	}

	candidate, err := o.gateway.Search(ctx, req.Query, req.Locale)
	if errors.Is(err, mediagw.ErrNotFound) {
		return speak(o.msg(req, catalog.KeyNoResults, map[string]string{"query": req.Query})), nil
	}
	if err != nil {
		return o.failure(req, "search", err), nil
	}

	sess.SetCandidate(*candidate)
	o.publish(sess, EventCandidateFound, "", 0, candidate.Title)

	args := map[string]string{"title": candidate.Title}
	resp := ask(o.msg(req, catalog.KeyAskToPlay, args), o.msg(req, catalog.KeyAskToPlayReprompt, args))
	resp.Card = &Card{
		Title:   o.msg(req, catalog.KeyCardSearchTitle, nil),
		Content: candidate.Title,
	}
	return resp, nil
}

// ConfirmYes downloads the pending candidate, waits until it is playable and
// starts it. Without a pending candidate it is a no-op.
func (o *Orchestrator) ConfirmYes(ctx context.Context, req Request) (*Response, error) {
	sess, err := o.session(req)
	if err != nil {
		return nil, err
	}

	candidate := sess.Candidate()
	if candidate == nil {
		zlog.Debug().Msgf("playback: confirmation without candidate ignored: user=%s", req.UserID)
		return &Response{}, nil
	}

	sess.SetFetching(true)
	defer sess.SetFetching(false)

	link, err := o.gateway.Download(ctx, candidate.RemoteID)
	if err != nil {
		return o.failure(req, "download", err), nil
	}
	if err := o.waiter.AwaitReady(ctx, candidate.RemoteID); err != nil {
		return o.failure(req, "await ready", err), nil
	}

	sess.SetFetching(false)
	sess.SetActiveAsset(link)
	sess.ClearCandidate()

	// The platform sends an errant nearly-finished event right after a
	// replace-all; arming a one-shot repeat absorbs it. Looping is reset.
	sess.SetRepeatOnce(true)
	sess.SetRepeatForever(false)

	resp := speak(o.msg(req, catalog.KeyNowPlaying, map[string]string{"title": candidate.Title}))
	resp.Directives = append(resp.Directives, o.start(sess, 0))
	return resp, nil
}

// ConfirmNo drops the pending candidate.
func (o *Orchestrator) ConfirmNo(_ context.Context, req Request) (*Response, error) {
	sess, err := o.session(req)
	if err != nil {
		return nil, err
	}

	hadCandidate := sess.Candidate() != nil
	sess.ClearCandidate()
	if hadCandidate {
		o.publish(sess, EventCandidateDeclined, "", 0, "")
	}
	return speak(o.msg(req, catalog.KeyDeclined, nil)), nil
}

// StartOver restarts the active asset from the beginning.
func (o *Orchestrator) StartOver(_ context.Context, req Request) (*Response, error) {
	sess, err := o.session(req)
	if err != nil {
		return nil, err
	}

	if !sess.HasVideo() {
		return speak(o.msg(req, catalog.KeyNothingToRepeat, nil)), nil
	}
	return &Response{Directives: []*media.StreamDirective{o.start(sess, 0)}}, nil
}

// Stop ends playback and forgets the active asset.
func (o *Orchestrator) Stop(_ context.Context, req Request) (*Response, error) {
	sess, err := o.session(req)
	if err != nil {
		return nil, err
	}

	if !sess.HasVideo() {
		return speak(o.msg(req, catalog.KeyNothingToRepeat, nil)), nil
	}

	resp := &Response{}
	if sess.IsStreaming() {
		sess.ClearStreamToken()
		resp.Directives = append(resp.Directives, media.Stop())
	}
	sess.ClearAsset()
	resp.Directives = append(resp.Directives, media.ClearQueue())

	o.publish(sess, EventStreamStopped, "", 0, "")
	return resp, nil
}

// Pause stops the stream and remembers when, so Resume can seek back.
func (o *Orchestrator) Pause(_ context.Context, req Request) (*Response, error) {
	sess, err := o.session(req)
	if err != nil {
		return nil, err
	}

	if !sess.IsStreaming() {
		return speak(o.msg(req, catalog.KeyNothingToResume, nil)), nil
	}

	token := sess.StreamToken()
	sess.MarkStopped(o.now())
	sess.ClearStreamToken()

	o.publish(sess, EventStreamPaused, token, 0, "")
	return &Response{Directives: []*media.StreamDirective{media.Stop()}}, nil
}

// Resume restarts a paused asset at the offset it was paused at.
func (o *Orchestrator) Resume(_ context.Context, req Request) (*Response, error) {
	sess, err := o.session(req)
	if err != nil {
		return nil, err
	}

	if sess.IsStreaming() || !sess.IsPaused() {
		return speak(o.msg(req, catalog.KeyNothingToResume, nil)), nil
	}

	offset, ok := sess.Timing().Offset()
	if !ok {
		return speak(o.msg(req, catalog.KeyNothingToResume, nil)), nil
	}
	return &Response{Directives: []*media.StreamDirective{o.start(sess, offset)}}, nil
}

// RepeatOnce repeats a finished asset now, or arms a one-shot repeat for the
// next natural end.
func (o *Orchestrator) RepeatOnce(_ context.Context, req Request) (*Response, error) {
	sess, err := o.session(req)
	if err != nil {
		return nil, err
	}

	streaming := sess.IsStreaming()
	if sess.HasVideo() && !streaming {
		resp := speak(o.msg(req, catalog.KeyRepeatingNow, nil))
		resp.Directives = append(resp.Directives, o.start(sess, 0))
		return resp, nil
	}

	key := catalog.KeyRepeatNext
	if streaming {
		key = catalog.KeyRepeatCurrent
	}
	sess.SetRepeatOnce(true)
	return speak(o.msg(req, key, nil)), nil
}

// LoopOn turns looping on, restarting a finished asset immediately.
func (o *Orchestrator) LoopOn(_ context.Context, req Request) (*Response, error) {
	sess, err := o.session(req)
	if err != nil {
		return nil, err
	}

	sess.SetRepeatForever(true)

	key := catalog.KeyLoopOnNext
	if sess.HasVideo() {
		key = catalog.KeyLoopOnCurrent
	}
	resp := speak(o.msg(req, key, nil))
	if sess.HasVideo() && !sess.IsStreaming() {
		resp.Directives = append(resp.Directives, o.start(sess, 0))
	}
	return resp, nil
}

// LoopOff turns looping off.
func (o *Orchestrator) LoopOff(_ context.Context, req Request) (*Response, error) {
	sess, err := o.session(req)
	if err != nil {
		return nil, err
	}

	sess.SetRepeatForever(false)
	return speak(o.msg(req, catalog.KeyLoopOff, nil)), nil
}

// NearlyFinished handles the platform's nearly-finished event: it enqueues a
// repeat when a repeat flag is set, otherwise it lets the stream finish.
func (o *Orchestrator) NearlyFinished(_ context.Context, req Request) (*Response, error) {
	sess, err := o.session(req)
	if err != nil {
		return nil, err
	}

	if !sess.ShouldRepeat() {
		token := sess.StreamToken()
		sess.ClearStreamToken()
		o.publish(sess, EventStreamFinished, token, 0, "")
		return &Response{}, nil
	}

	previous := sess.StreamToken()
	if previous == "" {
		previous = req.Token
	}
	token := o.newToken()
	if !sess.SetStreamToken(token) {
		return &Response{}, nil
	}
	sess.MarkStarted(o.now())
	sess.SetRepeatOnce(false)

	asset := sess.ActiveAsset()
	o.publish(sess, EventStreamEnqueued, token, 0, asset)
	return &Response{
		Directives: []*media.StreamDirective{media.Enqueue(asset, token, previous, 0)},
	}, nil
}

// PlaybackFailed logs a platform playback error. No recovery is attempted.
func (o *Orchestrator) PlaybackFailed(_ context.Context, req Request) (*Response, error) {
	zlog.Error().Msgf("playback: platform reported failure: user=%s token=%s error=%s", req.UserID, req.Token, req.Error)
	if sess, err := o.store.Get(req.UserID); err == nil {
		o.publish(sess, EventPlaybackFailed, req.Token, 0, req.Error)
	}
	return &Response{}, nil
}

// start mints a fresh token and builds a replace-all directive at offset.
// The start time is backdated by offset so that a later pause yields the
// absolute stream position.
func (o *Orchestrator) start(sess *session.Session, offset time.Duration) *media.StreamDirective {
	if offset < 0 {
		offset = 0
	}
	token := o.newToken()
	sess.SetStreamToken(token)
	sess.MarkStarted(o.now().Add(-offset))

	asset := sess.ActiveAsset()
	o.publish(sess, EventStreamStarted, token, offset, asset)
	return media.ReplaceAll(asset, token, offset.Milliseconds())
}

func (o *Orchestrator) session(req Request) (*session.Session, error) {
	sess, err := o.store.Get(req.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load session")
	}
	sess.Touch(o.now())
	return sess, nil
}

// failure turns a backend error into spoken guidance. Session state is left
// as it was so the user can retry.
func (o *Orchestrator) failure(req Request, op string, err error) *Response {
	zlog.Error().Err(err).Msgf("playback: %s failed: user=%s", op, req.UserID)
	if errors.Is(err, poller.ErrTimeout) {
		return speak(o.msg(req, catalog.KeyDownloadTimeout, nil))
	}
	return speak(o.msg(req, catalog.KeyError, nil))
}

func (o *Orchestrator) msg(req Request, key string, args map[string]string) string {
	return o.messages.Get(req.Locale, key, args)
}

func (o *Orchestrator) publish(sess *session.Session, t EventType, token string, offset time.Duration, detail string) {
	if o.sink == nil {
		return
	}
	o.sink.Publish(Event{
		Type:       t,
		UserID:     sess.UserID(),
		State:      DeriveState(sess.Snapshot()),
		Token:      token,
		Offset:     offset,
		Detail:     detail,
		OccurredAt: o.now(),
	})
}
