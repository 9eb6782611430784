// Package gateway exposes the question flow over a WebSocket connection.
// Each connection gets its own coordinator, so concurrent clients never
// share conversational state.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c11s/house-core/internal/errs"
	"github.com/c11s/house-core/internal/flow"
	"github.com/c11s/house-core/internal/obs"
)

// Message is the wire frame in both directions.
//
// Client to server kinds: "start", "transcript", "reset".
// Server to client kinds: "question", "ack", "error", "completed".
type Message struct {
	Kind    string `json:"kind"`
	Text    string `json:"text,omitempty"`
	Prefill string `json:"prefill,omitempty"`
}

// CoordinatorFactory builds a per-connection coordinator around the
// connection's speech output.
type CoordinatorFactory func(speech flow.SpeechOutput) *flow.Coordinator

// Handler upgrades HTTP requests and runs the conversation loop.
type Handler struct {
	factory  CoordinatorFactory
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewHandler wires a gateway handler.
func NewHandler(factory CoordinatorFactory) *Handler {
	return &Handler{
		factory: factory,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: obs.Pkg("gateway"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	connID := uuid.NewString()
	ctx := obs.WithConnID(r.Context(), connID)
	sess := &session{conn: conn}
	coord := h.factory(sess)

	h.log.Info("connection opened", "conn_id", connID)
	h.serve(ctx, coord, sess)
	conn.Close()
	h.log.Info("connection closed", "conn_id", connID)
}

func (h *Handler) serve(ctx context.Context, coord *flow.Coordinator, sess *session) {
	for {
		var msg Message
		if err := sess.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn("read failed", "error", err)
			}
			return
		}

		switch msg.Kind {
		case "start":
			h.report(ctx, sess, coord, coord.StartConversation(ctx))
		case "transcript":
			h.report(ctx, sess, coord, coord.ProcessUserInput(ctx, msg.Text))
		case "reset":
			coord.Reset()
			sess.send(Message{Kind: "ack", Text: "Starting over."})
		default:
			sess.send(Message{Kind: "error", Text: "unknown message kind: " + msg.Kind})
		}
	}
}

// report surfaces a coordinator error to the client and emits the completed
// frame once every question has been answered.
func (h *Handler) report(ctx context.Context, sess *session, coord *flow.Coordinator, err error) {
	if err != nil {
		h.log.Error("conversation step failed", "error", err, "code", errs.CodeOf(err))
		sess.send(Message{Kind: "error", Text: errs.MessageOf(err)})
		return
	}
	if coord.CurrentState() == flow.StateCompleted {
		text := "All done."
		if name := coord.CurrentUserName(); name != "" {
			text = "All done, " + strings.TrimSpace(name) + "."
		}
		sess.send(Message{Kind: "completed", Text: text})
	}
}

// session serializes writes to one WebSocket connection and adapts it to the
// coordinator's speech interface.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *session) PresentQuestion(ctx context.Context, text, prefill string) error {
	return s.send(Message{Kind: "question", Text: text, Prefill: prefill})
}

func (s *session) PresentAcknowledgment(ctx context.Context, text string) error {
	return s.send(Message{Kind: "ack", Text: text})
}

func (s *session) send(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteJSON(msg); err != nil {
		return errs.Wrap(errs.Unavailable, "write to client", err)
	}
	return nil
}
