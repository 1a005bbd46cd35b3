package connect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/voicetube/internal/app/notification"
	"github.com/osa030/voicetube/internal/app/playback"
	"github.com/osa030/voicetube/internal/app/session/store"
	"github.com/osa030/voicetube/internal/domain/media"
)

const testToken = "secret-admin-token"

type adminFixture struct {
	server *httptest.Server
	store  *store.Store
	events *notification.Manager
	done   chan struct{}
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	f := &adminFixture{
		store:  store.New(),
		events: notification.NewManager(),
		done:   make(chan struct{}),
	}

	svc := NewAdminService(f.store, f.events, f.done)
	path, handler := NewAdminServiceHandler(svc, connect.WithInterceptors(NewAdminAuthInterceptor(testToken)))
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	f.server = httptest.NewServer(mux)

	t.Cleanup(func() {
		close(f.done)
		f.server.Close()
	})
	return f
}

func (f *adminFixture) client(procedure string) *connect.Client[structpb.Struct, structpb.Struct] {
	return connect.NewClient[structpb.Struct, structpb.Struct](f.server.Client(), f.server.URL+procedure)
}

func authed(msg *structpb.Struct, token string) *connect.Request[structpb.Struct] {
	req := connect.NewRequest(msg)
	if token != "" {
		req.Header().Set(AdminTokenHeader, token)
	}
	return req
}

func TestAdminAuth(t *testing.T) {
	f := newAdminFixture(t)

	tests := []struct {
		name     string
		token    string
		wantCode connect.Code
	}{
		{name: "missing token", token: "", wantCode: connect.CodeUnauthenticated},
		{name: "wrong token", token: "nope", wantCode: connect.CodeUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.client(ListSessionsProcedure).CallUnary(context.Background(), authed(&structpb.Struct{}, tt.token))
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, connect.CodeOf(err))

			stream, err := f.client(WatchEventsProcedure).CallServerStream(context.Background(), authed(&structpb.Struct{}, tt.token))
			if err != nil {
				assert.Equal(t, tt.wantCode, connect.CodeOf(err))
				return
			}
			defer stream.Close()
			assert.False(t, stream.Receive())
			assert.Equal(t, tt.wantCode, connect.CodeOf(stream.Err()))
			assert.Equal(t, 0, f.events.SubscriberCount())
		})
	}
}

func TestAdminService_ListSessions(t *testing.T) {
	f := newAdminFixture(t)

	a, err := f.store.Get("user-a")
	require.NoError(t, err)
	a.SetActiveAsset("https://media.example.com/a")
	a.SetStreamToken("token-1")
	a.MarkStarted(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))

	b, err := f.store.Get("user-b")
	require.NoError(t, err)
	b.SetCandidate(media.Candidate{RemoteID: "abc123", Title: "Song"})

	resp, err := f.client(ListSessionsProcedure).CallUnary(context.Background(), authed(&structpb.Struct{}, testToken))
	require.NoError(t, err)

	fields := resp.Msg.AsMap()
	assert.Equal(t, float64(2), fields["count"])
	sessions, ok := fields["sessions"].([]any)
	require.True(t, ok)
	require.Len(t, sessions, 2)

	first := sessions[0].(map[string]any)
	assert.Equal(t, "user-a", first["user_id"])
	assert.Equal(t, "playing", first["state"])
	assert.Equal(t, "token-1", first["stream_token"])
	assert.Equal(t, "2024-01-01T12:00:00Z", first["started_at"])

	second := sessions[1].(map[string]any)
	assert.Equal(t, "awaiting_confirmation", second["state"])
	candidate := second["candidate"].(map[string]any)
	assert.Equal(t, "Song", candidate["title"])
}

func TestAdminService_GetSession(t *testing.T) {
	f := newAdminFixture(t)
	sess, err := f.store.Get("user-a")
	require.NoError(t, err)
	sess.SetRepeatForever(true)

	t.Run("found", func(t *testing.T) {
		msg, err := structpb.NewStruct(map[string]any{"user_id": "user-a"})
		require.NoError(t, err)

		resp, err := f.client(GetSessionProcedure).CallUnary(context.Background(), authed(msg, testToken))
		require.NoError(t, err)

		fields := resp.Msg.AsMap()
		assert.Equal(t, "user-a", fields["user_id"])
		assert.Equal(t, "idle", fields["state"])
		assert.Equal(t, true, fields["repeat_forever"])
		assert.NotContains(t, fields, "candidate")
	})

	t.Run("not found", func(t *testing.T) {
		msg, err := structpb.NewStruct(map[string]any{"user_id": "ghost"})
		require.NoError(t, err)

		_, err = f.client(GetSessionProcedure).CallUnary(context.Background(), authed(msg, testToken))
		assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
		assert.Equal(t, 1, f.store.Count(), "lookups never create sessions")
	})

	t.Run("missing user id", func(t *testing.T) {
		_, err := f.client(GetSessionProcedure).CallUnary(context.Background(), authed(&structpb.Struct{}, testToken))
		assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
	})
}

func TestAdminService_WatchEvents(t *testing.T) {
	f := newAdminFixture(t)

	msg, err := structpb.NewStruct(map[string]any{"user_id": "user-a"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := f.client(WatchEventsProcedure).CallServerStream(ctx, authed(msg, testToken))
	require.NoError(t, err)
	defer stream.Close()

	require.True(t, stream.Receive(), "stream error: %v", stream.Err())
	initial := stream.Msg().AsMap()
	assert.Equal(t, EventTypeSubscribed, initial["type"])
	assert.Equal(t, float64(0), initial["sequence_no"])
	assert.Equal(t, "user-a", initial["user_id"])
	assert.NotContains(t, initial, "session", "user-a has no session yet")

	require.Eventually(t, func() bool {
		return f.events.SubscriberCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	f.events.Publish(playback.Event{Type: playback.EventStreamPaused, UserID: "user-b"})
	f.events.Publish(playback.Event{
		Type:       playback.EventStreamStarted,
		UserID:     "user-a",
		State:      playback.StatePlaying,
		Token:      "token-7",
		Offset:     95 * time.Second,
		OccurredAt: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	})

	require.True(t, stream.Receive(), "stream error: %v", stream.Err())
	fields := stream.Msg().AsMap()
	assert.Equal(t, float64(2), fields["sequence_no"])
	assert.Equal(t, "stream_started", fields["type"])
	assert.Equal(t, "user-a", fields["user_id"])
	assert.Equal(t, "playing", fields["state"])
	assert.Equal(t, "token-7", fields["token"])
	assert.Equal(t, float64(95000), fields["offset_ms"])
	assert.Equal(t, "2024-01-01T12:00:00Z", fields["occurred_at"])

	cancel()
	require.Eventually(t, func() bool {
		return f.events.SubscriberCount() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAdminService_WatchEvents_StartsWithoutEvents(t *testing.T) {
	f := newAdminFixture(t)
	sess, err := f.store.Get("user-a")
	require.NoError(t, err)
	sess.SetActiveAsset("https://cdn.example.com/a.mp4")

	tests := []struct {
		name        string
		userID      string
		wantSession bool
	}{
		{name: "all users", userID: "", wantSession: false},
		{name: "user with session", userID: "user-a", wantSession: true},
		{name: "user without session", userID: "user-b", wantSession: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := map[string]any{}
			if tt.userID != "" {
				fields["user_id"] = tt.userID
			}
			msg, err := structpb.NewStruct(fields)
			require.NoError(t, err)

			// Nothing is ever published: the call must still return.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			stream, err := f.client(WatchEventsProcedure).CallServerStream(ctx, authed(msg, testToken))
			require.NoError(t, err)
			defer stream.Close()

			require.True(t, stream.Receive(), "stream error: %v", stream.Err())
			initial := stream.Msg().AsMap()
			assert.Equal(t, EventTypeSubscribed, initial["type"])
			assert.Equal(t, tt.userID, initial["user_id"])
			if tt.wantSession {
				require.Contains(t, initial, "session")
				snap, ok := initial["session"].(map[string]any)
				require.True(t, ok)
				assert.Equal(t, "https://cdn.example.com/a.mp4", snap["active_asset"])
				assert.Equal(t, initial["state"], snap["state"])
			} else {
				assert.NotContains(t, initial, "session")
			}
		})
	}
}
