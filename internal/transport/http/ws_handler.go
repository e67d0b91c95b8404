package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"quiz-proctor/internal/app"
	"quiz-proctor/internal/domain"
	"quiz-proctor/internal/infra/memory"
)

// maxFrameBytes bounds one inbound message; webcam frames are small compressed stills.
const maxFrameBytes = 1 << 20

type WSHandler struct {
	service  *app.QuizService
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewWSHandler(service *app.QuizService, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.With().Str("component", "ws").Logger(),
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string `json:"questionId"`
	Value      string `json:"value"`
}

type navigatePayload struct {
	Action app.NavAction `json:"action"`
	Index  int           `json:"index"`
}

type signalPayload struct {
	Kind domain.SignalKind `json:"kind"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type statePayload struct {
	Session     domain.QuizSession `json:"session"`
	State       domain.State       `json:"state"`
	Overall     int                `json:"overall"`
	Question    int                `json:"question"`
	PerQuestion int                `json:"perQuestion"`
}

type tickPayload struct {
	Overall  int `json:"overall"`
	Question int `json:"question"`
}

type warningPayload struct {
	Kind  domain.EventKind `json:"kind"`
	Count int              `json:"count"`
	Limit int              `json:"limit"`
}

type terminatedPayload struct {
	Reason  domain.TerminationReason `json:"reason"`
	Score   int                      `json:"score"`
	Total   int                      `json:"total"`
	Message string                   `json:"message"`
}

type kindPayload struct {
	Kind domain.SignalKind `json:"kind"`
}

type textPayload struct {
	Text string `json:"text"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS attaches one client to a session attempt. Text frames carry JSON commands, binary
// frames carry encoded webcam images for motion sampling.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("sessionId")
	userID := q.Get("userId")
	if sessionID == "" || userID == "" {
		http.Error(w, "missing sessionId or userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	log := h.log.With().Str("session_id", sessionID).Str("user_id", userID).Logger()
	out := newOutbox(conn, log)
	defer out.close()

	ctx := r.Context()
	camera := memory.NewCamera(memory.CameraStatus(q.Get("camera")))
	var speaker *wsSpeaker
	opts := app.OpenOptions{Camera: camera}
	if q.Get("speech") == "available" {
		speaker = &wsSpeaker{out: out}
		opts.Speaker = speaker
	}

	attempt, err := h.service.Open(ctx, sessionID, opts)
	if err != nil {
		if notice, ok := app.CameraNotice(err); ok {
			out.push("notice", notice)
		} else {
			out.push("error", errorPayload{Message: err.Error()})
		}
		return
	}
	defer h.service.CloseAttempt(attempt)

	updates, cancel := attempt.Subscribe()
	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		for u := range updates {
			if !out.push(string(u.Kind), updatePayload(u)) {
				return
			}
		}
		// attempt replaced or closed; unblock the read loop
		_ = conn.Close()
	}()
	defer func() {
		cancel()
		<-forwardDone
	}()

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if typ == websocket.BinaryMessage {
			frame, err := imaging.Decode(bytes.NewReader(data))
			if err != nil {
				out.push("error", errorPayload{Message: "invalid frame"})
				continue
			}
			camera.Push(frame)
			continue
		}

		var in inboundMessage
		if err := json.Unmarshal(data, &in); err != nil {
			out.push("error", errorPayload{Message: "invalid message"})
			continue
		}
		if msg := h.dispatch(ctx, attempt, out, speaker, in); msg != "" {
			out.push("error", errorPayload{Message: msg})
		}
	}
}

// dispatch applies one client command and returns an error message for the client, if any.
func (h *WSHandler) dispatch(ctx context.Context, attempt *app.Attempt, out *outbox, speaker *wsSpeaker, in inboundMessage) string {
	sessionID := attempt.ID()
	switch in.Type {
	case "answer":
		var p answerPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return "invalid answer payload"
		}
		if _, err := h.service.Answer(ctx, sessionID, p.QuestionID, p.Value); err != nil {
			return err.Error()
		}
	case "navigate":
		var p navigatePayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return "invalid navigate payload"
		}
		if _, err := h.service.Navigate(ctx, sessionID, p.Action, p.Index); err != nil {
			return err.Error()
		}
	case "submit":
		if _, err := h.service.Submit(ctx, sessionID); err != nil {
			return err.Error()
		}
	case "signal":
		var p signalPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return "invalid signal payload"
		}
		suppress, err := h.service.Signal(ctx, sessionID, p.Kind)
		if err != nil {
			return err.Error()
		}
		if suppress {
			out.push("suppress", kindPayload{Kind: p.Kind})
		}
	case "speak":
		err := h.service.ReadAloud(ctx, sessionID)
		if err != nil && !errors.Is(err, domain.ErrSpeechUnavailable) {
			return err.Error()
		}
	case "speech_error":
		if speaker != nil {
			speaker.markUnavailable()
		}
	case "resync":
		attempt.Resync()
	default:
		return "unsupported message type"
	}
	return ""
}

func updatePayload(u app.Update) any {
	switch u.Kind {
	case app.UpdateState:
		return statePayload{
			Session:     clientView(u.Session),
			State:       u.Session.State(),
			Overall:     u.Overall,
			Question:    u.Question,
			PerQuestion: u.Session.PerQuestionTimeSeconds(),
		}
	case app.UpdateTick:
		return tickPayload{Overall: u.Overall, Question: u.Question}
	case app.UpdateWarning:
		return warningPayload{Kind: u.Warning.Kind, Count: u.Warning.Count, Limit: u.Warning.Limit}
	case app.UpdateNotice:
		return u.Notice
	case app.UpdateTerminated:
		return terminatedPayload{
			Reason:  u.Reason,
			Score:   u.Session.Score,
			Total:   len(u.Session.Questions),
			Message: u.Notice.Message,
		}
	default:
		return nil
	}
}

// clientView hides correct options until the session is sealed.
func clientView(s domain.QuizSession) domain.QuizSession {
	if s.Completed() {
		return s
	}
	view := s.Clone()
	for i := range view.Questions {
		view.Questions[i].CorrectOption = ""
	}
	return view
}

// outbox serializes writes to the connection through a single writer goroutine.
type outbox struct {
	conn *websocket.Conn
	send chan outboundMessage
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
	log  zerolog.Logger
}

func newOutbox(conn *websocket.Conn, log zerolog.Logger) *outbox {
	o := &outbox{
		conn: conn,
		send: make(chan outboundMessage, 32),
		done: make(chan struct{}),
		log:  log,
	}
	o.wg.Add(1)
	go o.writeLoop()
	return o
}

func (o *outbox) writeLoop() {
	defer o.wg.Done()
	for {
		select {
		case msg := <-o.send:
			if err := o.conn.WriteJSON(msg); err != nil {
				o.log.Debug().Err(err).Msg("ws write error")
				_ = o.conn.Close()
				return
			}
		case <-o.done:
			// flush what is already queued
			for {
				select {
				case msg := <-o.send:
					if err := o.conn.WriteJSON(msg); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// push queues a message; it reports false once the outbox is closed.
func (o *outbox) push(typ string, payload any) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case o.send <- outboundMessage{Type: typ, Payload: payload}:
		return true
	case <-o.done:
		return false
	}
}

func (o *outbox) close() {
	o.once.Do(func() { close(o.done) })
	o.wg.Wait()
}

// wsSpeaker asks the client to speak; the client reports speech_error if it cannot.
type wsSpeaker struct {
	out *outbox

	mu          sync.Mutex
	unavailable bool
}

func (s *wsSpeaker) Speak(_ context.Context, text string) error {
	s.mu.Lock()
	unavailable := s.unavailable
	s.mu.Unlock()
	if unavailable {
		return domain.ErrSpeechUnavailable
	}
	s.out.push("speak", textPayload{Text: text})
	return nil
}

func (s *wsSpeaker) Cancel() {
	s.out.push("speak_cancel", nil)
}

func (s *wsSpeaker) markUnavailable() {
	s.mu.Lock()
	s.unavailable = true
	s.mu.Unlock()
}
