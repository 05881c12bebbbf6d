// Package client is the Go-side signaling client: it dials the server's
// WebSocket endpoint, correlates request/reply pairs by envelope id and
// hands everything else to a push handler.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/yomogy/ito/internal/domain"
	"github.com/yomogy/ito/internal/protocol"
)

var (
	ErrTimeout = errors.New("request timed out")
	ErrClosed  = errors.New("client closed")
)

const defaultCallTimeout = 10 * time.Second

// wire is the slice of *websocket.Conn the client uses, split out so the
// correlation logic can be tested without a network.
type wire interface {
	WriteJSON(v any) error
	ReadMessage() (int, []byte, error)
	Close() error
}

type Client struct {
	conn    wire
	timeout time.Duration
	onPush  func(protocol.In)

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan protocol.In
	closed  bool
}

// Dial connects, presents the session id and waits for the initial
// session_state push before returning. Pushes arriving after that are
// delivered to onPush from the read loop goroutine.
func Dial(ctx context.Context, rawURL string, sid domain.SessionID, onPush func(protocol.In)) (*Client, *protocol.SessionStatePush, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, err
	}
	q := u.Query()
	q.Set("sessionId", string(sid))
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, nil, err
	}

	c := newClient(ws, onPush)

	_, data, err := ws.ReadMessage()
	if err != nil {
		_ = ws.Close()
		return nil, nil, err
	}
	var first protocol.In
	if err := json.Unmarshal(data, &first); err != nil || first.T != protocol.SessionState {
		_ = ws.Close()
		return nil, nil, errors.New("handshake: expected session_state")
	}
	state := protocol.Unwrap[protocol.SessionStatePush](first.Payload)
	if state == nil {
		_ = ws.Close()
		return nil, nil, errors.New("handshake: bad session_state payload")
	}

	go c.readLoop()
	return c, state, nil
}

func newClient(conn wire, onPush func(protocol.In)) *Client {
	return &Client{
		conn:    conn,
		timeout: defaultCallTimeout,
		onPush:  onPush,
		pending: make(map[string]chan protocol.In),
	}
}

// Call sends a request and waits for the reply carrying its id. On
// timeout the pending slot is removed first, so a reply that arrives
// late finds nothing to resolve and is dropped; the caller is free to
// retry immediately.
func (c *Client) Call(ctx context.Context, t protocol.Type, payload any) (*protocol.In, error) {
	id := uuid.NewString()
	ch := make(chan protocol.In, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.write(protocol.Out{ID: id, T: t, Payload: payload}); err != nil {
		c.unregister(id)
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case in, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		if in.T == protocol.Error {
			if p := protocol.Unwrap[protocol.ErrorPayload](in.Payload); p != nil {
				return nil, errors.New(p.Message)
			}
			return nil, errors.New("request rejected")
		}
		return &in, nil
	case <-timer.C:
		c.unregister(id)
		return nil, ErrTimeout
	case <-ctx.Done():
		c.unregister(id)
		return nil, ctx.Err()
	}
}

// SetCallTimeout replaces the per-call timeout. Call it before issuing
// requests; in-flight calls keep the timer they started with.
func (c *Client) SetCallTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Notify sends a request without waiting for a reply.
func (c *Client) Notify(t protocol.Type, payload any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()
	return c.write(protocol.Out{T: t, Payload: payload})
}

func (c *Client) write(out protocol.Out) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(out)
}

func (c *Client) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// dispatch resolves a frame against the pending table, or hands it to
// the push handler when no call is waiting on its id.
func (c *Client) dispatch(in protocol.In) {
	if in.ID != "" {
		c.mu.Lock()
		ch, ok := c.pending[in.ID]
		if ok {
			delete(c.pending, in.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- in
			return
		}
		log.Debug().Str("module", "client").Str("id", in.ID).Str("type", string(in.T)).Msg("late reply dropped")
		return
	}
	if c.onPush != nil {
		c.onPush(in)
	}
}

func (c *Client) readLoop() {
	defer c.failPending()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var in protocol.In
		if err := json.Unmarshal(data, &in); err != nil {
			log.Error().Err(err).Str("module", "client").Msg("bad envelope")
			continue
		}
		c.dispatch(in)
	}
}

// failPending closes every waiting call channel so blocked Calls return
// ErrClosed instead of waiting out their timers.
func (c *Client) failPending() {
	c.mu.Lock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}
