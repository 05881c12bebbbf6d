// Package signal is the WebSocket adapter: it owns the transport
// resources (upgrade, pumps, send buffers) and translates protocol
// envelopes into coordinator calls through a closed dispatch table.
package signal

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/yomogy/ito/internal/app"
	"github.com/yomogy/ito/internal/core"
	"github.com/yomogy/ito/internal/domain"
)

type Controller struct {
	Coord *app.Coordinator

	dispatch dispatchTable
}

func NewController(coord *app.Coordinator) *Controller {
	ctl := &Controller{Coord: coord}
	ctl.dispatch = ctl.buildDispatch()
	return ctl
}

// wsConn wraps a websocket connection with a bounded send queue. TrySend
// never blocks: a full queue reports backpressure to the caller instead.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.Mutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrBackpressure
	}
	select {
	case c.send <- f:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the session handshake: the
// client presents its session id in the `sessionId` query parameter (the
// cookie token middleware provides a fallback), and receives a
// session_state push before any other traffic.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	presented := domain.SessionID(c.Query("sessionId"))
	if presented == "" {
		presented = domain.SessionID(c.GetString("client_token"))
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	connCtx, cancel := context.WithCancel(ctx)
	push, err := ctl.Coord.Connect(connCtx, presented, conn, cancel)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("session handshake failed")
		cancel()
		conn.Close()
		return
	}
	sid := push.Session.ID
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new signaling connection")

	go ctl.writePump(connCtx, sid, conn)
	go ctl.readPump(connCtx, sid, conn)

	ctl.push(conn, sessionStateOut(push))
}
