package session

import (
	"net/http"
	"time"

	"cosmossdk.io/log"
	"github.com/gorilla/websocket"

	"github.com/trustoracle/gateway/metrics"
	"github.com/trustoracle/gateway/types"
)

// Server accepts device WebSocket connections and runs one session per
// connection until the socket closes.
type Server struct {
	router   *Router
	hub      *Hub
	metrics  *metrics.Metrics
	logger   log.Logger
	upgrader websocket.Upgrader
}

// NewServer builds the WebSocket endpoint handler.
func NewServer(router *Router, hub *Hub, m *metrics.Metrics, logger log.Logger) *Server {
	return &Server{
		router:  router,
		hub:     hub,
		metrics: m,
		logger:  logger.With("module", "session"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  maxFrameSize,
			WriteBufferSize: maxFrameSize,
			// Devices connect directly, not from browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs the session read loop on the
// request's goroutine. All state transitions for the session happen here.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	s := newSession(conn, srv.logger)
	srv.metrics.SessionsActive.Inc()
	srv.logger.Info("session opened", "session", s.ID, "remote", s.Remote)

	defer func() {
		srv.hub.Remove(s)
		s.Close()
		srv.metrics.SessionsActive.Dec()
		srv.logger.Info("session closed", "session", s.ID, "device", s.DeviceID())
	}()

	go s.writePump()
	s.Send(&types.WelcomeFrame{
		Type:      types.MsgWelcome,
		Message:   "connected to step oracle gateway",
		Timestamp: time.Now().UnixMilli(),
	})

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ctx := r.Context()
	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				srv.logger.Debug("read error", "session", s.ID, "err", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		srv.router.Dispatch(ctx, s, raw)
	}
}
