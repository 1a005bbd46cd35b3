package connect

import (
	"context"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/voicetube/internal/app/notification"
	"github.com/osa030/voicetube/internal/app/playback"
	"github.com/osa030/voicetube/internal/app/session/store"
	"github.com/osa030/voicetube/internal/domain/session"
)

const (
	// AdminServiceName is the fully-qualified name of the admin service.
	AdminServiceName = "voicetube.admin.v1.AdminService"

	ListSessionsProcedure = "/" + AdminServiceName + "/ListSessions"
	GetSessionProcedure   = "/" + AdminServiceName + "/GetSession"
	WatchEventsProcedure  = "/" + AdminServiceName + "/WatchEvents"

	// EventTypeSubscribed is the type of the first message on a watch stream.
	EventTypeSubscribed = "subscribed"
)

// SessionReader is the read side of the session store.
type SessionReader interface {
	All() []*session.Session
	Lookup(userID string) (*session.Session, error)
}

// EventSource hands out playback event subscriptions.
type EventSource interface {
	Subscribe(userID string, stream notification.Stream) string
	Unsubscribe(subscriptionID string)
}

// AdminService implements the AdminService RPC.
type AdminService struct {
	sessions SessionReader
	events   EventSource
	done     <-chan struct{}
}

// NewAdminService creates a new AdminService. Watch streams end when done is
// closed.
func NewAdminService(sessions SessionReader, events EventSource, done <-chan struct{}) *AdminService {
	return &AdminService{
		sessions: sessions,
		events:   events,
		done:     done,
	}
}

// NewAdminServiceHandler builds an HTTP handler serving every AdminService
// procedure and returns the path to mount it on.
func NewAdminServiceHandler(svc *AdminService, opts ...connect.HandlerOption) (string, http.Handler) {
	list := connect.NewUnaryHandler(ListSessionsProcedure, svc.ListSessions, opts...)
	get := connect.NewUnaryHandler(GetSessionProcedure, svc.GetSession, opts...)
	watch := connect.NewServerStreamHandler(WatchEventsProcedure, svc.WatchEvents, opts...)

	return "/" + AdminServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case ListSessionsProcedure:
			list.ServeHTTP(w, r)
		case GetSessionProcedure:
			get.ServeHTTP(w, r)
		case WatchEventsProcedure:
			watch.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// ListSessions returns a snapshot of every session.
func (s *AdminService) ListSessions(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	all := s.sessions.All()
	items := make([]any, 0, len(all))
	for _, sess := range all {
		items = append(items, snapshotFields(sess.Snapshot()))
	}

	resp, err := structpb.NewStruct(map[string]any{
		"sessions": items,
		"count":    len(items),
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, errors.Wrap(err, "failed to encode sessions"))
	}
	return connect.NewResponse(resp), nil
}

// GetSession returns one session by user_id.
func (s *AdminService) GetSession(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	userID := req.Msg.GetFields()["user_id"].GetStringValue()
	if userID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("user_id is required"))
	}

	sess, err := s.sessions.Lookup(userID)
	if errors.Is(err, store.ErrSessionNotFound) {
		return nil, connect.NewError(connect.CodeNotFound, err)
	}
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	resp, err := structpb.NewStruct(snapshotFields(sess.Snapshot()))
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, errors.Wrap(err, "failed to encode session"))
	}
	return connect.NewResponse(resp), nil
}

// WatchEvents streams playback events until the client goes away.
// An optional user_id limits the stream to one user.
func (s *AdminService) WatchEvents(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
	stream *connect.ServerStream[structpb.Struct],
) error {
	userID := req.Msg.GetFields()["user_id"].GetStringValue()

	// The initial message flushes the response headers, so the client's call
	// returns before the first playback event.
	initial, err := structpb.NewStruct(s.subscribedFields(userID))
	if err != nil {
		return connect.NewError(connect.CodeInternal, errors.Wrap(err, "failed to encode initial state"))
	}
	if err := stream.Send(initial); err != nil {
		return err
	}

	adapter := &notificationStreamAdapter{stream: stream}
	subscriptionID := s.events.Subscribe(userID, adapter)
	defer s.events.Unsubscribe(subscriptionID)
	zlog.Info().Msgf("admin: event watcher subscribed: subscription=%s user=%s", subscriptionID, userID)

	select {
	case <-ctx.Done():
	case <-s.done:
	}
	zlog.Info().Msgf("admin: event watcher left: subscription=%s", subscriptionID)
	return nil
}

// subscribedFields describes the start of a watch, with the watched user's
// session when there is one.
func (s *AdminService) subscribedFields(userID string) map[string]any {
	fields := map[string]any{
		"sequence_no": 0,
		"type":        EventTypeSubscribed,
		"user_id":     userID,
		"occurred_at": formatTime(time.Now()),
	}
	if userID == "" {
		return fields
	}
	if sess, err := s.sessions.Lookup(userID); err == nil {
		snap := sess.Snapshot()
		fields["state"] = playback.DeriveState(snap).String()
		fields["session"] = snapshotFields(snap)
	}
	return fields
}

// notificationStreamAdapter adapts connect.ServerStream to notification.Stream.
type notificationStreamAdapter struct {
	stream *connect.ServerStream[structpb.Struct]
}

func (a *notificationStreamAdapter) Send(n *notification.Notification) error {
	msg, err := structpb.NewStruct(eventFields(n))
	if err != nil {
		return errors.Wrap(err, "failed to encode event")
	}
	return a.stream.Send(msg)
}

func snapshotFields(snap session.Snapshot) map[string]any {
	fields := map[string]any{
		"user_id":        snap.UserID,
		"state":          playback.DeriveState(snap).String(),
		"active_asset":   snap.ActiveAsset,
		"stream_token":   snap.StreamToken,
		"repeat_once":    snap.RepeatOnce,
		"repeat_forever": snap.RepeatForever,
		"fetching":       snap.Fetching,
		"last_activity":  formatTime(snap.LastActivity),
	}
	if snap.Candidate != nil {
		fields["candidate"] = map[string]any{
			"remote_id": snap.Candidate.RemoteID,
			"title":     snap.Candidate.Title,
			"link":      snap.Candidate.Link,
		}
	}
	if snap.Timing != nil {
		fields["started_at"] = formatTime(snap.Timing.StartedAt)
		fields["stopped_at"] = formatTime(snap.Timing.StoppedAt)
	}
	return fields
}

func eventFields(n *notification.Notification) map[string]any {
	e := n.Event
	return map[string]any{
		"sequence_no": n.SequenceNo,
		"type":        e.Type.String(),
		"user_id":     e.UserID,
		"state":       e.State.String(),
		"token":       e.Token,
		"offset_ms":   e.Offset.Milliseconds(),
		"detail":      e.Detail,
		"occurred_at": formatTime(e.OccurredAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
