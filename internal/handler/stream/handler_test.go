package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/goleak"

	"github.com/zhouzirui/voxchat/backend/internal/middleware"
	"github.com/zhouzirui/voxchat/backend/internal/model/chat"
	"github.com/zhouzirui/voxchat/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/voxchat/backend/internal/service/chat"
	"github.com/zhouzirui/voxchat/backend/internal/service/history"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// started by an init in the genai dependency tree
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

// hangingResponder emits one fragment and then waits for cancellation.
type hangingResponder struct {
	*ai.MockResponder
}

func (hangingResponder) StreamComplete(ctx context.Context, _ []ai.Message, handler ai.StreamHandler) {
	handler.OnFragment("Partial")
	<-ctx.Done()
}

func newServer(t *testing.T, responder ai.Responder) (*httptest.Server, *history.MemoryStore) {
	t.Helper()
	store := history.NewMemoryStore()
	orch := chatservice.NewOrchestrator(store, responder, nil, chatservice.Options{})

	r := chi.NewRouter()
	r.Use(middleware.Identity("X-User-ID"))
	New(orch, nil).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store
}

func readSSE(t *testing.T, resp *http.Response) []chatservice.Event {
	t.Helper()
	var events []chatservice.Event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev chatservice.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("decode event %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func postStream(t *testing.T, srv *httptest.Server, owner, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/stream", strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if owner != "" {
		req.Header.Set("X-User-ID", owner)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStreamSSE(t *testing.T) {
	srv, store := newServer(t, &ai.MockResponder{})

	resp := postStream(t, srv, "alice", `{"message":"Hello"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	events := readSSE(t, resp)
	var text strings.Builder
	for _, ev := range events {
		text.WriteString(ev.Token)
	}
	if text.String() != "You said: Hello" {
		t.Fatalf("unexpected streamed text %q", text.String())
	}

	if len(events) < 2 {
		t.Fatalf("expected title and done events, got %+v", events)
	}
	if title := events[len(events)-2]; title.Title != "Hello" {
		t.Fatalf("expected title event, got %+v", title)
	}
	done := events[len(events)-1]
	if !done.Done || done.SessionID == "" {
		t.Fatalf("expected done event with session id, got %+v", done)
	}

	session, err := store.Get(context.Background(), done.SessionID, "alice")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(session.Turns) != 2 || session.Turns[1].Content != "You said: Hello" {
		t.Fatalf("unexpected turns %+v", session.Turns)
	}
}

func TestStreamRejectsBeforeStreaming(t *testing.T) {
	srv, _ := newServer(t, &ai.MockResponder{})

	cases := []struct {
		name   string
		owner  string
		body   string
		status int
	}{
		{name: "missing identity", body: `{"message":"Hello"}`, status: http.StatusUnauthorized},
		{name: "bad json", owner: "alice", body: `{`, status: http.StatusBadRequest},
		{name: "empty message", owner: "alice", body: `{"message":"  "}`, status: http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postStream(t, srv, tc.owner, tc.body)
			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, resp.StatusCode)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Fatalf("expected JSON error, got %q", ct)
			}
		})
	}
}

func dialWS(t *testing.T, srv *httptest.Server, owner string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{}
	header.Set("X-User-ID", owner)

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	return conn
}

func readUntilDone(t *testing.T, conn *websocket.Conn) []chatservice.Event {
	t.Helper()
	var events []chatservice.Event
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var ev chatservice.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		events = append(events, ev)
		if ev.Done || ev.Error != "" {
			return events
		}
	}
}

func TestWebSocketRunsSequentialExchanges(t *testing.T) {
	srv, store := newServer(t, &ai.MockResponder{})
	conn := dialWS(t, srv, "alice")
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"message": "Hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	first := readUntilDone(t, conn)
	sessionID := first[len(first)-1].SessionID

	if err := conn.WriteJSON(map[string]string{"sessionId": sessionID, "message": "Again"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	second := readUntilDone(t, conn)
	if got := second[len(second)-1].SessionID; got != sessionID {
		t.Fatalf("expected same session, got %q", got)
	}

	session, err := store.Get(context.Background(), sessionID, "alice")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(session.Turns) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(session.Turns))
	}
}

func TestWebSocketReportsStartErrors(t *testing.T) {
	srv, _ := newServer(t, &ai.MockResponder{})
	conn := dialWS(t, srv, "alice")
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"message": ""}); err != nil {
		t.Fatalf("write: %v", err)
	}
	events := readUntilDone(t, conn)
	if len(events) != 1 || events[0].Error != chat.ErrEmptyMessage.Error() {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestWebSocketCloseSavesPartialReply(t *testing.T) {
	srv, store := newServer(t, hangingResponder{&ai.MockResponder{}})
	conn := dialWS(t, srv, "alice")

	if err := conn.WriteJSON(map[string]string{"message": "Hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var ev chatservice.Event
	if err := conn.ReadJSON(&ev); err != nil || ev.Token != "Partial" {
		t.Fatalf("expected partial token, got %+v (%v)", ev, err)
	}
	conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sessions, err := store.List(context.Background(), "alice")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(sessions) == 1 && sessions[0].TurnCount == 2 {
			session, err := store.Get(context.Background(), sessions[0].ID, "alice")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if session.Turns[1].Content != "Partial" {
				t.Fatalf("unexpected partial reply %q", session.Turns[1].Content)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("partial reply was not saved after the socket closed")
}
