// Package main provides a CLI that drives the server the way the voice
// platform does, plus the admin commands.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"google.golang.org/protobuf/types/known/structpb"

	apiconnect "github.com/osa030/voicetube/internal/api/connect"
	"github.com/osa030/voicetube/internal/api/skill"
)

var (
	app       = kingpin.New("voicetube-cli", "voicetube platform simulator and admin client")
	server    = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	skillPath = app.Flag("skill-path", "Platform endpoint path").Default("/skill").String()
	appID     = app.Flag("app-id", "Skill application ID (or set SKILL_APPLICATION_ID env)").Envar("SKILL_APPLICATION_ID").String()
	userID    = app.Flag("user", "Platform user ID").Default("cli-user").String()
	locale    = app.Flag("locale", "Request locale").Default("en-US").String()
	token     = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()

	// voice commands
	launchCmd   = app.Command("launch", "Open the skill")
	searchCmd   = app.Command("search", "Search for a video")
	searchQuery = searchCmd.Arg("query", "Search phrase").Required().Strings()
	yesCmd      = app.Command("yes", "Confirm the proposed video")
	noCmd       = app.Command("no", "Reject the proposed video")
	pauseCmd    = app.Command("pause", "Pause playback")
	resumeCmd   = app.Command("resume", "Resume playback")
	stopCmd     = app.Command("stop", "Stop playback")
	startOver   = app.Command("start-over", "Restart the current video")
	repeatCmd   = app.Command("repeat", "Play the current video once more")
	loopCmd     = app.Command("loop", "Turn looping on or off")
	loopMode    = loopCmd.Arg("mode", "on or off").Required().Enum("on", "off")
	helpCmd     = app.Command("help-intent", "Ask for help")

	// audio player events
	eventCmd    = app.Command("event", "Send an audio player event")
	eventType   = eventCmd.Arg("type", "Event type").Required().Enum("started", "stopped", "finished", "nearly-finished", "failed")
	eventToken  = eventCmd.Flag("stream-token", "Stream token the event refers to").String()
	eventOffset = eventCmd.Flag("offset", "Playback offset").Duration()

	// admin commands
	sessionsCmd = app.Command("sessions", "List sessions")
	sessionCmd  = app.Command("session", "Show one session")
	sessionUser = sessionCmd.Arg("user-id", "Platform user ID").Required().String()
	watchCmd    = app.Command("watch", "Stream playback events")
	watchUser   = watchCmd.Flag("for", "Only events for this user").String()
)

var eventTypes = map[string]string{
	"started":         skill.RequestTypePlaybackStarted,
	"stopped":         skill.RequestTypePlaybackStopped,
	"finished":        skill.RequestTypePlaybackFinished,
	"nearly-finished": skill.RequestTypePlaybackNearlyFinished,
	"failed":          skill.RequestTypePlaybackFailed,
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	ctx := context.Background()

	switch command {
	case sessionsCmd.FullCommand(), sessionCmd.FullCommand(), watchCmd.FullCommand():
		runAdmin(ctx, command)
		return
	}

	var env *skill.RequestEnvelope
	switch command {
	case launchCmd.FullCommand():
		env = newEnvelope(skill.RequestTypeLaunch)
	case searchCmd.FullCommand():
		env = newIntent("SearchIntent", strings.Join(*searchQuery, " "))
	case yesCmd.FullCommand():
		env = newIntent("AMAZON.YesIntent", "")
	case noCmd.FullCommand():
		env = newIntent("AMAZON.NoIntent", "")
	case pauseCmd.FullCommand():
		env = newIntent("AMAZON.PauseIntent", "")
	case resumeCmd.FullCommand():
		env = newIntent("AMAZON.ResumeIntent", "")
	case stopCmd.FullCommand():
		env = newIntent("AMAZON.StopIntent", "")
	case startOver.FullCommand():
		env = newIntent("AMAZON.StartOverIntent", "")
	case repeatCmd.FullCommand():
		env = newIntent("AMAZON.RepeatIntent", "")
	case loopCmd.FullCommand():
		if *loopMode == "on" {
			env = newIntent("AMAZON.LoopOnIntent", "")
		} else {
			env = newIntent("AMAZON.LoopOffIntent", "")
		}
	case helpCmd.FullCommand():
		env = newIntent("AMAZON.HelpIntent", "")
	case eventCmd.FullCommand():
		env = newEvent(eventTypes[*eventType], *eventToken, *eventOffset)
	}

	resp, status, err := post(ctx, env)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	printResponse(status, resp)
}

// newEnvelope builds a request made inside a voice session.
func newEnvelope(requestType string) *skill.RequestEnvelope {
	return &skill.RequestEnvelope{
		Version: "1.0",
		Session: &skill.Session{
			SessionID:   "cli." + uuid.NewString(),
			Application: skill.Application{ApplicationID: *appID},
			User:        skill.User{UserID: *userID},
		},
		Request: skill.Request{
			Type:      requestType,
			RequestID: "cli." + uuid.NewString(),
			Timestamp: time.Now().UTC(),
			Locale:    *locale,
		},
	}
}

func newIntent(name, query string) *skill.RequestEnvelope {
	env := newEnvelope(skill.RequestTypeIntent)
	env.Request.Intent = &skill.Intent{Name: name}
	if query != "" {
		env.Request.Intent.Slots = map[string]skill.Slot{
			skill.QuerySlot: {Name: skill.QuerySlot, Value: query},
		}
	}
	return env
}

// newEvent builds an audio player event, which carries only the context.
func newEvent(requestType, streamToken string, offset time.Duration) *skill.RequestEnvelope {
	env := &skill.RequestEnvelope{
		Version: "1.0",
		Context: &skill.Context{System: skill.System{
			Application: skill.Application{ApplicationID: *appID},
			User:        skill.User{UserID: *userID},
		}},
		Request: skill.Request{
			Type:                 requestType,
			RequestID:            "cli." + uuid.NewString(),
			Timestamp:            time.Now().UTC(),
			Locale:               *locale,
			Token:                streamToken,
			OffsetInMilliseconds: offset.Milliseconds(),
		},
	}
	if requestType == skill.RequestTypePlaybackFailed {
		env.Request.Error = &skill.PlaybackError{
			Type:    "MEDIA_ERROR_UNKNOWN",
			Message: "reported from cli",
		}
	}
	return env
}

func post(ctx context.Context, env *skill.RequestEnvelope) (*skill.ResponseEnvelope, int, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(*server, "/")+*skillPath, bytes.NewReader(body))
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.Header.Get("Content-Type") != "application/json" {
		return nil, resp.StatusCode, errors.Newf("unexpected response: %s", resp.Status)
	}
	var out skill.ResponseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, resp.StatusCode, errors.Wrap(err, "failed to decode response")
	}
	return &out, resp.StatusCode, nil
}

func printResponse(status int, resp *skill.ResponseEnvelope) {
	fmt.Printf("HTTP %d\n", status)
	body := resp.Response
	if body.OutputSpeech != nil {
		fmt.Printf("Speech: %s\n", body.OutputSpeech.SSML)
	}
	if body.Reprompt != nil {
		fmt.Printf("Reprompt: %s\n", body.Reprompt.OutputSpeech.SSML)
	}
	if body.Card != nil {
		fmt.Printf("Card: %s - %s\n", body.Card.Title, body.Card.Content)
	}
	for _, d := range body.Directives {
		fmt.Printf("Directive: %s", d.Type)
		if d.PlayBehavior != "" {
			fmt.Printf(" behavior=%s", d.PlayBehavior)
		}
		if d.ClearBehavior != "" {
			fmt.Printf(" clear=%s", d.ClearBehavior)
		}
		if d.AudioItem != nil {
			s := d.AudioItem.Stream
			fmt.Printf(" url=%s token=%s offset=%dms", s.URL, s.Token, s.OffsetInMilliseconds)
			if s.ExpectedPreviousToken != "" {
				fmt.Printf(" previous=%s", s.ExpectedPreviousToken)
			}
		}
		fmt.Println()
	}
	if body.ShouldEndSession != nil {
		fmt.Printf("End session: %v\n", *body.ShouldEndSession)
	}
}

func runAdmin(ctx context.Context, command string) {
	// Check admin token
	if *token == "" {
		fmt.Println("Error: admin token is required (use --token or ADMIN_TOKEN env)")
		os.Exit(1)
	}

	base := strings.TrimRight(*server, "/")
	switch command {
	case sessionsCmd.FullCommand():
		listSessions(ctx, base)
	case sessionCmd.FullCommand():
		getSession(ctx, base, *sessionUser)
	case watchCmd.FullCommand():
		watch(ctx, base, *watchUser)
	}
}

func newAdminRequest(fields map[string]any) *connect.Request[structpb.Struct] {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	req := connect.NewRequest(msg)
	req.Header().Set(apiconnect.AdminTokenHeader, *token)
	return req
}

func listSessions(ctx context.Context, base string) {
	client := connect.NewClient[structpb.Struct, structpb.Struct](http.DefaultClient, base+apiconnect.ListSessionsProcedure)
	resp, err := client.CallUnary(ctx, newAdminRequest(nil))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	out := resp.Msg.AsMap()
	fmt.Printf("\n=== SESSIONS (%v) ===\n", out["count"])
	items, _ := out["sessions"].([]any)
	for _, item := range items {
		if fields, ok := item.(map[string]any); ok {
			fmt.Printf("  %-30v %-10v asset=%v\n", fields["user_id"], fields["state"], fields["active_asset"])
		}
	}
	fmt.Println()
}

func getSession(ctx context.Context, base, user string) {
	client := connect.NewClient[structpb.Struct, structpb.Struct](http.DefaultClient, base+apiconnect.GetSessionProcedure)
	resp, err := client.CallUnary(ctx, newAdminRequest(map[string]any{"user_id": user}))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fields := resp.Msg.AsMap()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Println("\n=== SESSION ===")
	for _, k := range keys {
		fmt.Printf("  %-15s %v\n", k+":", fields[k])
	}
	fmt.Println()
}

func watch(ctx context.Context, base, user string) {
	fields := map[string]any{}
	if user != "" {
		fields["user_id"] = user
	}
	client := connect.NewClient[structpb.Struct, structpb.Struct](http.DefaultClient, base+apiconnect.WatchEventsProcedure)
	stream, err := client.CallServerStream(ctx, newAdminRequest(fields))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer stream.Close()

	fmt.Println("Watching playback events (Ctrl+C to stop)...")
	for stream.Receive() {
		e := stream.Msg().AsMap()
		if e["type"] == apiconnect.EventTypeSubscribed {
			fmt.Printf("[%v] subscribed: user=%v state=%v\n", e["occurred_at"], e["user_id"], e["state"])
			continue
		}
		fmt.Printf("[%v] #%v %-18v user=%v state=%v token=%v offset=%vms %v\n",
			e["occurred_at"], e["sequence_no"], e["type"], e["user_id"], e["state"], e["token"], e["offset_ms"], e["detail"])
	}
	if err := stream.Err(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
