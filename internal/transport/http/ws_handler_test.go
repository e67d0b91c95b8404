package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"quiz-proctor/internal/app"
	"quiz-proctor/internal/domain"
	"quiz-proctor/internal/infra/memory"
)

type testServer struct {
	service *app.QuizService
	store   *memory.Store
	server  *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.NewStore()
	conn := app.NewConnectivityMonitor(store, time.Hour, zerolog.Nop())
	service := app.NewQuizService(app.Dependencies{
		Generator:    memory.NewStaticGenerator(memory.SampleQuestions()),
		Persistence:  store,
		Snapshots:    memory.NewSnapshotStore(),
		Buffer:       memory.NewAnswerBuffer(),
		Connectivity: conn,
		Proctoring:   app.MonitorConfig{SampleInterval: time.Hour},
		FlagLimit:    3,
		TickInterval: time.Hour,
		Logger:       zerolog.Nop(),
	})
	server := httptest.NewServer(NewRouter(service, conn, zerolog.Nop()))
	t.Cleanup(func() {
		server.Close()
		service.Shutdown()
	})
	return &testServer{service: service, store: store, server: server}
}

func (s *testServer) create(t *testing.T) domain.QuizSession {
	t.Helper()
	session, err := s.service.Create(context.Background(), app.CreateRequest{UserID: "u1", Topic: "math", Count: 3, TimeLimitSeconds: 300})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return session
}

func (s *testServer) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// readUntil skips messages until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) envelope {
	t.Helper()
	for i := 0; i < 20; i++ {
		var msg envelope
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read json waiting for %s: %v", want, err)
		}
		if msg.Type == want {
			return msg
		}
	}
	t.Fatalf("no %s message received", want)
	return envelope{}
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func TestCreateSessionHidesCorrectOptions(t *testing.T) {
	s := newTestServer(t)

	body := bytes.NewBufferString(`{"userId":"u1","topic":"math","count":2}`)
	resp, err := http.Post(s.server.URL+"/sessions", "application/json", body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var session domain.QuizSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(session.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(session.Questions))
	}
	for _, q := range session.Questions {
		if q.CorrectOption != "" {
			t.Fatalf("correct option leaked for %s", q.ID)
		}
	}
}

func TestCreateSessionValidatesBody(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Post(s.server.URL+"/sessions", "application/json", bytes.NewBufferString(`{"topic":"math"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestWebSocketAttemptFlow(t *testing.T) {
	s := newTestServer(t)
	session := s.create(t)
	conn := s.dial(t, "sessionId="+session.ID+"&userId=u1&camera=granted")

	var state statePayload
	if err := json.Unmarshal(readUntil(t, conn, "state").Payload, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.State != domain.StateInProgress || state.Overall != 300 || state.PerQuestion != 100 {
		t.Fatalf("unexpected initial state %+v", state)
	}

	send(t, conn, "answer", map[string]string{"questionId": "q1", "value": "4"})
	readUntil(t, conn, "state")

	// commands are handled in order, so the answer is stored once suppress arrives
	send(t, conn, "signal", map[string]string{"kind": string(domain.SignalCopy)})
	readUntil(t, conn, "suppress")
	if got := s.store.Answers(session.ID)["q1"]; got != "4" {
		t.Fatalf("expected answer upserted to the sink, got %q", got)
	}

	send(t, conn, "submit", nil)
	var term terminatedPayload
	if err := json.Unmarshal(readUntil(t, conn, "terminated").Payload, &term); err != nil {
		t.Fatalf("decode terminated: %v", err)
	}
	if term.Reason != domain.ReasonCompleted || term.Score != 1 || term.Total != 3 {
		t.Fatalf("unexpected termination %+v", term)
	}
}

func TestWebSocketWarnsOnViolation(t *testing.T) {
	s := newTestServer(t)
	session := s.create(t)
	conn := s.dial(t, "sessionId="+session.ID+"&userId=u1&camera=granted")
	readUntil(t, conn, "state")

	send(t, conn, "signal", map[string]string{"kind": string(domain.SignalVisibilityHidden)})
	var w warningPayload
	if err := json.Unmarshal(readUntil(t, conn, "warning").Payload, &w); err != nil {
		t.Fatalf("decode warning: %v", err)
	}
	if w.Kind != domain.EventTabSwitch || w.Count != 1 || w.Limit != 3 {
		t.Fatalf("unexpected warning %+v", w)
	}
}

func TestWebSocketCameraDenied(t *testing.T) {
	s := newTestServer(t)
	session := s.create(t)
	conn := s.dial(t, "sessionId="+session.ID+"&userId=u1&camera=denied")

	var notice app.Notice
	if err := json.Unmarshal(readUntil(t, conn, "notice").Payload, &notice); err != nil {
		t.Fatalf("decode notice: %v", err)
	}
	if notice.Code != "camera_denied" || notice.Level != app.NoticeBlocking {
		t.Fatalf("unexpected notice %+v", notice)
	}
}

func TestWebSocketReadAloud(t *testing.T) {
	s := newTestServer(t)
	session := s.create(t)
	conn := s.dial(t, "sessionId="+session.ID+"&userId=u1&camera=granted&speech=available")
	readUntil(t, conn, "state")

	send(t, conn, "speak", nil)
	var text textPayload
	if err := json.Unmarshal(readUntil(t, conn, "speak").Payload, &text); err != nil {
		t.Fatalf("decode speak: %v", err)
	}
	if !strings.HasPrefix(text.Text, "What is 2 + 2?") || !strings.Contains(text.Text, "Option 2: 4.") {
		t.Fatalf("unexpected narration %q", text.Text)
	}

	send(t, conn, "speech_error", nil)
	send(t, conn, "speak", nil)
	var notice app.Notice
	if err := json.Unmarshal(readUntil(t, conn, "notice").Payload, &notice); err != nil {
		t.Fatalf("decode notice: %v", err)
	}
	if notice.Code != "speech_unavailable" || notice.Level != app.NoticeDismissible {
		t.Fatalf("unexpected notice %+v", notice)
	}
}

func TestWebSocketRejectsGarbageFrame(t *testing.T) {
	s := newTestServer(t)
	session := s.create(t)
	conn := s.dial(t, "sessionId="+session.ID+"&userId=u1&camera=granted")
	readUntil(t, conn, "state")

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("not an image")); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	var e errorPayload
	if err := json.Unmarshal(readUntil(t, conn, "error").Payload, &e); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if e.Message != "invalid frame" {
		t.Fatalf("unexpected error %q", e.Message)
	}
}

func TestWebSocketClosesOnOversizedMessage(t *testing.T) {
	s := newTestServer(t)
	session := s.create(t)
	conn := s.dial(t, "sessionId="+session.ID+"&userId=u1&camera=granted")
	readUntil(t, conn, "state")

	// the server may drop the connection before the whole message is written
	_ = conn.WriteMessage(websocket.BinaryMessage, make([]byte, maxFrameBytes+1024))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatalf("connection stayed open after an oversized message")
		}
		if ce, ok := err.(*websocket.CloseError); ok && ce.Code != websocket.CloseMessageTooBig && ce.Code != websocket.CloseAbnormalClosure {
			t.Fatalf("unexpected close code %d", ce.Code)
		}
		return
	}
}

func TestWebSocketRequiresSession(t *testing.T) {
	s := newTestServer(t)
	resp, err := http.Get(s.server.URL + "/ws?userId=u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}
