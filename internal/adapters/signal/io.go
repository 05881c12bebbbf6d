package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/yomogy/ito/internal/core"
	"github.com/yomogy/ito/internal/domain"
	"github.com/yomogy/ito/internal/protocol"
)

const writeDeadline = 5 * time.Second

func (ctl *Controller) writePump(ctx context.Context, sid domain.SessionID, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, sid domain.SessionID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		if err := ctl.Coord.Disconnect(context.WithoutCancel(ctx), sid, c); err != nil {
			log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("disconnect persist failed")
		}
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			ctl.handleFrame(ctx, sid, c, data)
		}
	}
}

func (ctl *Controller) handleFrame(ctx context.Context, sid domain.SessionID, c *wsConn, data []byte) {
	var in protocol.In
	if err := json.Unmarshal(data, &in); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad envelope")
		return
	}
	h, ok := ctl.dispatch[in.T]
	if !ok {
		log.Warn().Str("module", "signal").Str("type", string(in.T)).Msg("unknown message type")
		return
	}
	h(ctx, sid, c, in)
}

// push serializes and enqueues one envelope, dropping it on backpressure.
func (ctl *Controller) push(c *wsConn, out protocol.Out) {
	data, err := json.Marshal(out)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("push marshal")
		return
	}
	if err := c.TrySend(core.Frame(data)); err != nil {
		log.Warn().Str("module", "signal").Str("type", string(out.T)).Msg("push dropped")
	}
}

func sessionStateOut(p *protocol.SessionStatePush) protocol.Out {
	return protocol.Out{T: protocol.SessionState, Payload: p}
}
