package app_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/app"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/pkg/provider/classify"
	classifymock "github.com/parleyhq/parley/pkg/provider/classify/mock"
	convomock "github.com/parleyhq/parley/pkg/provider/convo/mock"
	"github.com/parleyhq/parley/pkg/speech/push"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{LogLevel: config.LogInfo},
		Channel: config.ChannelConfig{URL: "wss://example.invalid/v1"},
		Session: config.SessionConfig{SendGraceMS: 500},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *app.App, *convomock.Channel) {
	t.Helper()
	ch := convomock.New()
	a, err := app.New(testConfig(), app.Deps{
		Source:  push.New(0),
		Channel: ch,
		Remote:  &classifymock.Provider{ClassifyResult: classify.VerdictConversation},
		Store:   store.NewMemoryStore(),
	})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return srv, a, ch
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestApp_New_RequiresDeps(t *testing.T) {
	t.Parallel()
	_, err := app.New(testConfig(), app.Deps{})
	if err == nil {
		t.Fatal("app.New with empty deps should fail")
	}
}

func TestApp_HealthAndMetrics(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestApp_SessionLifecycleOverHTTP(t *testing.T) {
	t.Parallel()
	srv, _, ch := newTestServer(t)

	// No session yet: session-scoped calls 404.
	if resp := postJSON(t, srv.URL+"/v1/session/listen", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("listen without session = %d, want 404", resp.StatusCode)
	}

	if resp := postJSON(t, srv.URL+"/v1/session/start", nil); resp.StatusCode != http.StatusCreated {
		t.Fatalf("start = %d, want 201", resp.StatusCode)
	}
	if resp := postJSON(t, srv.URL+"/v1/session/start", nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("second start = %d, want 409", resp.StatusCode)
	}

	var info app.SessionInfo
	if resp := getJSON(t, srv.URL+"/v1/session", &info); resp.StatusCode != http.StatusOK {
		t.Fatalf("session info status %d", resp.StatusCode)
	}
	if info.State != session.StateIdle {
		t.Errorf("state = %q, want idle", info.State)
	}

	if resp := postJSON(t, srv.URL+"/v1/session/listen", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("listen = %d, want 200", resp.StatusCode)
	}

	// Speech arrives over the ingest endpoints and drives a full command
	// cycle.
	if resp := postJSON(t, srv.URL+"/v1/speech/transcript", map[string]string{"text": "remind me to buy milk"}); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("transcript = %d, want 202", resp.StatusCode)
	}
	if resp := postJSON(t, srv.URL+"/v1/speech/end", nil); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("end = %d, want 202", resp.StatusCode)
	}

	waitForState(t, srv.URL, session.StateIdle)

	notes := collectNotifications(t, srv.URL, 1)
	if notes[0].Kind != string(session.NoteCommandResult) {
		t.Errorf("notification kind = %q, want command_result", notes[0].Kind)
	}

	// The cycle's speculative warmup hit the channel.
	if ch.ConnectCount() == 0 {
		t.Error("channel warmup never ran")
	}

	if resp := postJSON(t, srv.URL+"/v1/session/stop", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("stop = %d, want 200", resp.StatusCode)
	}
}

func TestApp_ConversationOverHTTP(t *testing.T) {
	t.Parallel()
	srv, _, ch := newTestServer(t)

	postJSON(t, srv.URL+"/v1/session/start", nil)
	postJSON(t, srv.URL+"/v1/session/listen", nil)
	postJSON(t, srv.URL+"/v1/speech/transcript", map[string]string{"text": "how do I roast a chicken"})
	postJSON(t, srv.URL+"/v1/speech/end", nil)

	waitForState(t, srv.URL, session.StateConversing)

	if resp := postJSON(t, srv.URL+"/v1/session/message", map[string]string{"text": "at what temperature"}); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("message = %d, want 202", resp.StatusCode)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(ch.SentTexts()) < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := ch.SentTexts(); len(got) != 2 {
		t.Fatalf("SentTexts = %q, want transcript plus follow-up", got)
	}

	if resp := postJSON(t, srv.URL+"/v1/session/exit", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("exit = %d, want 200", resp.StatusCode)
	}
	waitForState(t, srv.URL, session.StateIdle)

	postJSON(t, srv.URL+"/v1/session/stop", nil)
}

func TestApp_MessageValidation(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer(t)

	postJSON(t, srv.URL+"/v1/session/start", nil)

	if resp := postJSON(t, srv.URL+"/v1/session/message", map[string]string{}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty message = %d, want 400", resp.StatusCode)
	}
	// Valid body, wrong state.
	if resp := postJSON(t, srv.URL+"/v1/session/message", map[string]string{"text": "hi"}); resp.StatusCode != http.StatusConflict {
		t.Errorf("message while idle = %d, want 409", resp.StatusCode)
	}

	postJSON(t, srv.URL+"/v1/session/stop", nil)
}

func TestApp_ApplyConfigRebuildsClassifier(t *testing.T) {
	t.Parallel()
	srv, a, _ := newTestServer(t)

	next := testConfig()
	next.Heuristic.ExtraKeywords = []string{"scribble"}
	d := config.Diff(testConfig(), next)
	if !d.HeuristicChanged {
		t.Fatal("expected a heuristic change")
	}
	a.ApplyConfig(d, next)

	// With the reloaded keyword the utterance classifies locally as a
	// command; before the reload the remote mock would have sent it to
	// conversation.
	postJSON(t, srv.URL+"/v1/session/start", nil)
	postJSON(t, srv.URL+"/v1/session/listen", nil)
	postJSON(t, srv.URL+"/v1/speech/transcript", map[string]string{"text": "scribble buy milk"})
	postJSON(t, srv.URL+"/v1/speech/end", nil)

	notes := collectNotifications(t, srv.URL, 1)
	if notes[0].Kind != string(session.NoteCommandResult) {
		t.Errorf("first notification kind = %q, want command_result", notes[0].Kind)
	}

	postJSON(t, srv.URL+"/v1/session/stop", nil)
}

type notificationJSON struct {
	Kind  string `json:"kind"`
	Text  string `json:"text"`
	Error string `json:"error"`
}

func collectNotifications(t *testing.T, baseURL string, want int) []notificationJSON {
	t.Helper()
	var all []notificationJSON
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var body struct {
			Notifications []notificationJSON `json:"notifications"`
		}
		getJSON(t, baseURL+"/v1/session/notifications", &body)
		all = append(all, body.Notifications...)
		if len(all) >= want {
			return all
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("got %d notifications, want %d", len(all), want)
	return nil
}

func waitForState(t *testing.T, baseURL string, want session.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var info app.SessionInfo
	for time.Now().Before(deadline) {
		getJSON(t, baseURL+"/v1/session", &info)
		if info.State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %q, want %q", info.State, want)
}
