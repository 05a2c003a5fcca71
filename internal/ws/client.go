package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ismaiel54/trading-alert-engine/internal/protocol"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// State is the lifecycle state of one connection.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected // terminal
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// subKey identifies one subscription filter entry.
type subKey struct {
	channel    string
	instrument string // "" means all instruments on the channel
}

// Client is one live WebSocket connection. The read pump is the only
// writer of the subscription set; the broadcast path reads it under the
// lock.
type Client struct {
	id      string
	conn    *websocket.Conn
	manager *Manager
	logger  *zap.Logger

	send  chan []byte
	done  chan struct{}
	state atomic.Int32

	subMu sync.RWMutex
	subs  map[subKey]struct{}

	// tsMu covers lastTs and is held across stamping and queueing so
	// the send queue order matches timestamp order.
	tsMu   sync.Mutex
	lastTs time.Time

	limiter *rate.Limiter

	closeOnce sync.Once
}

// ID returns the client identity assigned on connect.
func (c *Client) ID() string { return c.id }

// State returns the connection state.
func (c *Client) State() State { return State(c.state.Load()) }

// subscribed reports whether the client's filter set matches a message
// tagged with channel and instrument. An empty message instrument matches
// every subscriber of the channel.
func (c *Client) subscribed(channel, instrument string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if _, ok := c.subs[subKey{channel: channel}]; ok {
		return true
	}
	if instrument == "" {
		return false
	}
	_, ok := c.subs[subKey{channel: channel, instrument: instrument}]
	return ok
}

func (c *Client) subscribe(channel, instrument string) {
	c.subMu.Lock()
	c.subs[subKey{channel: channel, instrument: instrument}] = struct{}{}
	c.subMu.Unlock()
}

func (c *Client) unsubscribe(channel, instrument string) {
	c.subMu.Lock()
	delete(c.subs, subKey{channel: channel, instrument: instrument})
	c.subMu.Unlock()
}

// enqueue encodes and queues one outbound message. The timestamp is
// stamped and the message queued under one lock: concurrent producers
// (manager loop, read pump) would otherwise be able to queue a later
// stamp before an earlier one. A full send buffer marks the client slow
// and disconnects it; it is never allowed to stall the broadcast path.
func (c *Client) enqueue(kind protocol.Kind, payload any) {
	if c.State() == StateDisconnected {
		return
	}

	c.tsMu.Lock()
	ts := time.Now().UTC()
	if ts.Before(c.lastTs) {
		ts = c.lastTs
	}
	raw, err := protocol.Encode(kind, payload, ts)
	if err != nil {
		c.tsMu.Unlock()
		c.logger.Error("failed to encode outbound message",
			zap.String("client_id", c.id),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return
	}
	select {
	case c.send <- raw:
		c.lastTs = ts
		c.tsMu.Unlock()
		return
	case <-c.done:
		c.tsMu.Unlock()
		return
	default:
	}
	c.tsMu.Unlock()

	c.logger.Warn("send buffer full, disconnecting slow client",
		zap.String("client_id", c.id),
	)
	c.manager.drop(c)
}

// sendError reports a protocol violation back to the client without
// dropping the connection.
func (c *Client) sendError(code, detail string) {
	c.enqueue(protocol.KindError, protocol.ErrorPayload{Code: code, Message: detail})
}

// readPump consumes inbound frames until the connection dies. Runs as
// its own goroutine per connection.
func (c *Client) readPump() {
	defer c.manager.drop(c)

	c.conn.SetReadLimit(maxInboundBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.manager.cfg.HeartbeatTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.manager.cfg.HeartbeatTimeout))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read failed",
					zap.String("client_id", c.id),
					zap.Error(err),
				)
			}
			return
		}

		if !c.limiter.Allow() {
			c.sendError(protocol.ErrCodeRateLimited, "too many messages, slow down")
			continue
		}

		c.handleInbound(raw)
	}
}

// handleInbound validates one frame and applies it. Validation failures
// are answered with an error message, never a connection drop.
func (c *Client) handleInbound(raw []byte) {
	in, err := protocol.Decode(raw)
	if err != nil {
		if verr, ok := err.(*protocol.ValidationError); ok {
			c.logger.Debug("rejected inbound message",
				zap.String("client_id", c.id),
				zap.String("code", verr.Code),
				zap.String("detail", verr.Detail),
			)
			c.sendError(verr.Code, verr.Detail)
			return
		}
		c.sendError(protocol.ErrCodeMalformed, "invalid message")
		return
	}

	switch in.Kind {
	case protocol.KindPing:
		c.enqueue(protocol.KindPong, nil)
	case protocol.KindSubscribe:
		c.subscribe(in.Subscribe.Channel, in.Subscribe.InstrumentID)
		c.enqueue(protocol.KindSubscriptionAck, protocol.SubscriptionAckPayload{
			Action:       "subscribe",
			Channel:      in.Subscribe.Channel,
			InstrumentID: in.Subscribe.InstrumentID,
		})
		c.logger.Debug("client subscribed",
			zap.String("client_id", c.id),
			zap.String("channel", in.Subscribe.Channel),
			zap.String("instrument", in.Subscribe.InstrumentID),
		)
	case protocol.KindUnsubscribe:
		c.unsubscribe(in.Subscribe.Channel, in.Subscribe.InstrumentID)
		c.enqueue(protocol.KindSubscriptionAck, protocol.SubscriptionAckPayload{
			Action:       "unsubscribe",
			Channel:      in.Subscribe.Channel,
			InstrumentID: in.Subscribe.InstrumentID,
		})
	}
}

// writePump owns all writes on the connection: queued messages plus
// heartbeat pings. One goroutine per connection so a slow peer never
// blocks another connection's sends.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.manager.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.manager.drop(c)
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case raw := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				c.logger.Debug("write failed, disconnecting",
					zap.String("client_id", c.id),
					zap.Error(err),
				)
				return
			}
			atomic.AddInt64(&c.manager.sentCount, 1)
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
