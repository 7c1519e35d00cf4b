package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/chatrelay/internal/agent"
	"github.com/MrWong99/chatrelay/internal/connection"
	"github.com/MrWong99/chatrelay/internal/observe"
	"github.com/MrWong99/chatrelay/internal/protocol"
	"github.com/MrWong99/chatrelay/pkg/types"
)

// wsConn adapts a WebSocket to [agent.Conn]. coder/websocket permits
// concurrent writers, so turns and the read loop may both send.
type wsConn struct {
	c            *websocket.Conn
	writeTimeout time.Duration
}

var _ agent.Conn = (*wsConn)(nil)

// Send implements [protocol.Sink].
func (w *wsConn) Send(ctx context.Context, ev protocol.Event) error {
	ctx, cancel := context.WithTimeout(ctx, w.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, w.c, ev)
}

// SendAudio implements [voice.AudioSink].
func (w *wsConn) SendAudio(ctx context.Context, frame []byte) error {
	ctx, cancel := context.WithTimeout(ctx, w.writeTimeout)
	defer cancel()
	return w.c.Write(ctx, websocket.MessageBinary, frame)
}

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	s.serveWS(w, r, connection.Chat)
}

func (s *Server) handleIngestWS(w http.ResponseWriter, r *http.Request) {
	s.serveWS(w, r, connection.AudioIngest)
}

func (s *Server) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	s.serveWS(w, r, connection.AudioStream)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request, role connection.Role) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if s.stopping() {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.OriginPatterns,
	})
	if err != nil {
		observe.Logger(r.Context()).Warn("websocket accept failed", "user_id", uid, "err", err)
		return
	}
	defer c.CloseNow()
	c.SetReadLimit(s.cfg.ReadLimit)

	ctx := r.Context()
	log := observe.Logger(ctx).With("user_id", uid)
	conn := &wsConn{c: c, writeTimeout: s.cfg.WriteTimeout}
	if !s.track(conn) {
		c.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer s.untrack(conn)

	a := s.cfg.Agents.Acquire(uid)
	defer s.cfg.Agents.Release(a)
	a.Attach(conn, role)
	defer a.Detach(conn)
	closed := s.metrics.ConnectionOpened(ctx, role.String())
	defer closed()
	log.Debug("websocket connected", "role", role)

	queue := &turnQueue{}
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				log.Debug("websocket closed", "role", role)
			default:
				if !errors.Is(err, context.Canceled) {
					log.Warn("websocket read failed", "err", err)
				}
			}
			return
		}

		switch typ {
		case websocket.MessageBinary:
			if current, _ := a.Role(conn); current != connection.AudioIngest {
				s.reply(ctx, conn, protocol.Error("binary frames are only accepted on audio ingest connections"))
				continue
			}
			a.IngestAudio(ctx, data)
		case websocket.MessageText:
			s.dispatch(ctx, a, conn, queue, data)
		}
	}
}

// reply sends ev outside of a turn and logs delivery failures.
func (s *Server) reply(ctx context.Context, conn *wsConn, ev protocol.Event) {
	if err := conn.Send(ctx, ev); err != nil {
		observe.Logger(ctx).Warn("could not deliver event", "type", ev.Type, "err", err)
	}
}

// dispatch handles one inbound text frame. Turns go through the connection's
// queue so that they run in arrival order on a context that outlives the
// connection; the read loop keeps accepting audio meanwhile.
func (s *Server) dispatch(ctx context.Context, a *agent.Agent, conn *wsConn, queue *turnQueue, data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		s.reply(ctx, conn, protocol.Error(err.Error()))
		return
	}

	switch env.Type {
	case protocol.TypeMessage:
		msg := types.NewMessage(types.RoleUser, env.Text())
		if env.MessageID != "" {
			msg.ID = env.MessageID
		}
		s.queueTurn(ctx, a, conn, queue, func(tctx context.Context) {
			a.HandleMessage(tctx, msg, conn)
		})
	case protocol.TypeAudioConnection:
		role, err := connection.ParseRole(env.AdapterType)
		if err != nil {
			s.reply(ctx, conn, protocol.Error(err.Error()))
			return
		}
		a.SetRole(conn, role)
		s.reply(ctx, conn, protocol.AudioAck(env.AdapterType))
	case protocol.TypeTranscribe:
		s.queueTurn(ctx, a, conn, queue, func(tctx context.Context) {
			if err := a.TranscribeAndRespond(tctx, conn); err != nil {
				observe.Logger(tctx).Warn("voice turn failed", "user_id", a.UserID(), "err", err)
			}
		})
	case protocol.TypeResetAudio:
		a.ResetAudio()
	}
}

// queueTurn enqueues fn while holding a reference on the agent so that it
// stays resident until the turn has finished.
func (s *Server) queueTurn(ctx context.Context, a *agent.Agent, conn *wsConn, queue *turnQueue, fn func(ctx context.Context)) {
	held := s.cfg.Agents.Acquire(a.UserID())
	if !s.enqueue(ctx, queue, fn, func() { s.cfg.Agents.Release(held) }) {
		s.reply(ctx, conn, protocol.Error("server is shutting down"))
	}
}
