package skill

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicetube/internal/app/catalog"
	"github.com/osa030/voicetube/internal/app/filter"
	"github.com/osa030/voicetube/internal/app/playback"
)

const maxBodyBytes = 1 << 20

// intentRoutes maps platform intent names to orchestrator intents.
var intentRoutes = map[string]playback.Intent{
	"SearchIntent":    playback.IntentSearch,
	"SearchIntentDE":  playback.IntentSearch,
	"SucheIntent":     playback.IntentSearch,
	"SearchIntentFR":  playback.IntentSearch,
	"RechercheIntent": playback.IntentSearch,
	"SearchIntentIT":  playback.IntentSearch,
	"CercaIntent":     playback.IntentSearch,
	"SearchIntentES":  playback.IntentSearch,
	"BuscarIntent":    playback.IntentSearch,
	"SearchIntentJA":  playback.IntentSearch,

	"AMAZON.YesIntent":       playback.IntentConfirmYes,
	"AMAZON.NoIntent":        playback.IntentConfirmNo,
	"AMAZON.StartOverIntent": playback.IntentStartOver,
	"AMAZON.StopIntent":      playback.IntentStop,
	"AMAZON.CancelIntent":    playback.IntentCancel,
	"AMAZON.ResumeIntent":    playback.IntentResume,
	"AMAZON.PauseIntent":     playback.IntentPause,
	"AMAZON.RepeatIntent":    playback.IntentRepeatOnce,
	"AMAZON.LoopOnIntent":    playback.IntentLoopOn,
	"AMAZON.LoopOffIntent":   playback.IntentLoopOff,
	"AMAZON.HelpIntent":      playback.IntentHelp,
	"AMAZON.FallbackIntent":  playback.IntentFallback,
}

// requestRoutes maps non-intent request types to orchestrator intents.
var requestRoutes = map[string]playback.Intent{
	RequestTypeLaunch:                 playback.IntentLaunch,
	RequestTypeSessionEnded:           playback.IntentSessionEnded,
	RequestTypePlaybackStarted:        playback.IntentPlaybackStarted,
	RequestTypePlaybackStopped:        playback.IntentPlaybackStopped,
	RequestTypePlaybackFinished:       playback.IntentPlaybackFinished,
	RequestTypePlaybackNearlyFinished: playback.IntentNearlyFinished,
	RequestTypePlaybackFailed:         playback.IntentPlaybackFailed,
}

// Orchestrator handles a routed intent.
type Orchestrator interface {
	Handle(ctx context.Context, intent playback.Intent, req playback.Request) (*playback.Response, error)
}

// Messages renders localized response text.
type Messages interface {
	Get(locale, key string, args map[string]string) string
}

// Handler is the platform request endpoint.
type Handler struct {
	orchestrator  Orchestrator
	filters       *filter.Chain
	messages      Messages
	validate      *validator.Validate
	defaultLocale string
}

// Option configures a Handler.
type Option func(*Handler)

// WithDefaultLocale sets the locale used when a request carries none.
func WithDefaultLocale(locale string) Option {
	return func(h *Handler) {
		h.defaultLocale = locale
	}
}

// NewHandler creates a new skill handler.
func NewHandler(orchestrator Orchestrator, filters *filter.Chain, messages Messages, opts ...Option) *Handler {
	if filters == nil {
		filters = filter.NewChain()
	}
	h := &Handler{
		orchestrator:  orchestrator,
		filters:       filters,
		messages:      messages,
		validate:      validator.New(),
		defaultLocale: "en-US",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var env RequestEnvelope
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&env); err != nil {
		zlog.Warn().Err(err).Msg("skill: failed to decode request")
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&env); err != nil {
		zlog.Warn().Err(err).Msg("skill: invalid request")
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if env.Request.Locale == "" {
		env.Request.Locale = h.defaultLocale
	}
	userID := env.UserID()
	if userID == "" {
		zlog.Warn().Msgf("skill: request without user: type=%s", env.Request.Type)
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	requestID := env.Request.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	freq := filter.Request{
		ApplicationID: env.ApplicationID(),
		UserID:        userID,
		RequestID:     requestID,
		RequestType:   env.Request.Type,
		Timestamp:     env.Request.Timestamp,
	}
	directivesOnly := !freq.IsUserInitiated()

	if result := h.filters.Execute(r.Context(), freq); !result.Accepted {
		zlog.Info().Msgf("skill: request rejected: request_id=%s code=%s", requestID, result.Code)
		status := http.StatusOK
		if result.Code == filter.CodeIdentityMismatch {
			status = http.StatusForbidden
		}
		h.respond(w, status, h.failure(env.Request.Locale, directivesOnly))
		return
	}

	intent, ok := route(&env)
	if !ok {
		zlog.Warn().Msgf("skill: unrouted request: request_id=%s type=%s", requestID, env.Request.Type)
		h.respond(w, http.StatusOK, render(nil, directivesOnly))
		return
	}

	req := playback.Request{
		UserID: userID,
		Locale: env.Request.Locale,
		Query:  env.SlotValue(QuerySlot),
		Token:  env.Request.Token,
	}
	if env.Request.Error != nil {
		req.Error = env.Request.Error.Type + ": " + env.Request.Error.Message
	}

	zlog.Debug().Msgf("skill: handling %s: request_id=%s user=%s locale=%s", intent, requestID, userID, req.Locale)
	resp, err := h.orchestrator.Handle(r.Context(), intent, req)
	if err != nil {
		zlog.Error().Err(err).Msgf("skill: %s failed: request_id=%s", intent, requestID)
		h.respond(w, http.StatusOK, h.failure(env.Request.Locale, directivesOnly))
		return
	}
	h.respond(w, http.StatusOK, render(resp, directivesOnly))
}

// route resolves the orchestrator intent for an envelope. Unknown intent
// names fall back to the fallback intent.
func route(env *RequestEnvelope) (playback.Intent, bool) {
	if env.Request.Type == RequestTypeIntent {
		if env.Request.Intent == nil {
			return "", false
		}
		if intent, ok := intentRoutes[env.Request.Intent.Name]; ok {
			return intent, true
		}
		return playback.IntentFallback, true
	}
	intent, ok := requestRoutes[env.Request.Type]
	return intent, ok
}

func (h *Handler) failure(locale string, directivesOnly bool) *ResponseEnvelope {
	if directivesOnly {
		return render(nil, true)
	}
	return render(&playback.Response{Speech: h.messages.Get(locale, catalog.KeyGenericFailure, nil)}, false)
}

func (h *Handler) respond(w http.ResponseWriter, status int, payload *ResponseEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zlog.Error().Err(err).Msg("skill: failed to encode response")
	}
}
