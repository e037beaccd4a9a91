package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/playperu/quizarena/internal/arena"
	"github.com/playperu/quizarena/internal/broadcast"
	"github.com/playperu/quizarena/internal/engine"
	"github.com/playperu/quizarena/internal/token"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsMaxLifetime  = 6 * time.Hour
)

// wsCommand is a client message. Commands need a team token.
type wsCommand struct {
	Type       string        `json:"type"`
	Ref        string        `json:"ref,omitempty"`
	QuestionID string        `json:"questionId,omitempty"`
	Payload    arena.Payload `json:"payload"`
}

// wsReply answers a command. Session events are sent as their own JSON
// envelopes.
type wsReply struct {
	Type   string `json:"type"`
	Ref    string `json:"ref,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

// wsConn is one open socket. It belongs to the handler, never to the engine.
type wsConn struct {
	id        string
	sessionID string
	claims    *token.Claims
	ws        *websocket.Conn
}

type wsHandler struct {
	logger *slog.Logger
	eng    *engine.Engine
	broker *broadcast.Broker
	tokens *token.Issuer

	mu    sync.Mutex
	conns map[string]*wsConn
}

func newWSHandler(logger *slog.Logger, eng *engine.Engine, broker *broadcast.Broker, tokens *token.Issuer) *wsHandler {
	return &wsHandler{
		logger: logger,
		eng:    eng,
		broker: broker,
		tokens: tokens,
		conns:  make(map[string]*wsConn),
	}
}

func (h *wsHandler) register(c *wsConn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

func (h *wsHandler) unregister(c *wsConn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
}

// count reports the open sockets of a session.
func (h *wsHandler) count(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.conns {
		if c.sessionID == sessionID {
			n++
		}
	}
	return n
}

func (h *wsHandler) serve(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if _, err := h.eng.Session(r.Context(), sessionID); err != nil {
		writeEngineError(w, r, h.logger, err)
		return
	}

	var claims *token.Claims
	if raw := r.URL.Query().Get("token"); raw != "" {
		c, err := h.tokens.Parse(raw)
		if err != nil || c.SessionID != sessionID {
			writeError(w, http.StatusUnauthorized, "invalid team token")
			return
		}
		claims = c
	}

	events := h.broker.Subscribe(sessionID)
	defer h.broker.Unsubscribe(sessionID, events)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer ws.CloseNow()

	c := &wsConn{id: uuid.NewString(), sessionID: sessionID, claims: claims, ws: ws}
	h.register(c)
	defer h.unregister(c)

	ctx, cancel := context.WithTimeout(r.Context(), wsMaxLifetime)
	defer cancel()

	h.presence(ctx, c, true)
	defer h.presence(context.WithoutCancel(ctx), c, false)

	h.logger.Debug("websocket connected", "conn_id", c.id, "session_id", sessionID, "open", h.count(sessionID))

	go h.forward(ctx, cancel, c, events)

	for {
		var cmd wsCommand
		if err := wsjson.Read(ctx, ws, &cmd); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				h.reply(ctx, c, wsReply{Type: "error", Error: "invalid message"})
				continue
			}
			h.logger.Debug("websocket read ended", "conn_id", c.id, "error", err)
			return
		}
		h.reply(ctx, c, h.handle(ctx, c, cmd))
	}
}

// forward writes session events to the socket until ctx ends or a write fails.
func (h *wsHandler) forward(ctx context.Context, cancel context.CancelFunc, c *wsConn, events <-chan []byte) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-events:
			wctx, wcancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				h.logger.Debug("websocket write failed", "conn_id", c.id, "error", err)
				return
			}
		}
	}
}

func (h *wsHandler) handle(ctx context.Context, c *wsConn, cmd wsCommand) wsReply {
	if c.claims == nil {
		return wsReply{Type: "error", Ref: cmd.Ref, Error: "team token required"}
	}

	var (
		result any
		err    error
	)
	switch cmd.Type {
	case "buzz":
		result, err = buzz(ctx, h.eng, c.sessionID, c.claims.TeamID, cmd.QuestionID)
	case "answer":
		result, err = submitAnswer(ctx, h.eng, c.sessionID, c.claims.TeamID, AnswerRequest{
			QuestionID: cmd.QuestionID,
			Payload:    cmd.Payload,
		})
	default:
		return wsReply{Type: "error", Ref: cmd.Ref, Error: "unknown command"}
	}

	if err != nil {
		var ae *arena.Error
		if errors.As(err, &ae) && ae.Kind() != arena.KindInternal {
			return wsReply{Type: "error", Ref: cmd.Ref, Error: ae.Message, Code: string(ae.Code)}
		}
		h.logger.Error("websocket command failed", "conn_id", c.id, "type", cmd.Type, "error", err)
		return wsReply{Type: "error", Ref: cmd.Ref, Error: "internal error"}
	}
	return wsReply{Type: "ack", Ref: cmd.Ref, Result: result}
}

func (h *wsHandler) reply(ctx context.Context, c *wsConn, rep wsReply) {
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, c.ws, rep); err != nil {
		h.logger.Debug("websocket reply failed", "conn_id", c.id, "error", err)
	}
}

// presence tracks players that connect with a player-bound token.
func (h *wsHandler) presence(ctx context.Context, c *wsConn, connected bool) {
	if c.claims == nil || c.claims.PlayerID == "" {
		return
	}
	if _, err := h.eng.SetPlayerConnected(ctx, c.claims.PlayerID, connected); err != nil {
		h.logger.Warn("updating player presence", "player_id", c.claims.PlayerID, "error", err)
	}
}
