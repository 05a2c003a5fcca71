// Package ws owns live client connections: lifecycle, subscription
// filters, heartbeats, and typed broadcast.
package ws

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ismaiel54/trading-alert-engine/internal/protocol"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	maxInboundBytes = 4096
	writeTimeout    = 10 * time.Second
	sendBufferSize  = 256
)

// Config holds connection management settings.
type Config struct {
	// HeartbeatInterval is how often the server pings each connection.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is the read deadline extended on every pong;
	// a silent connection is disconnected when it lapses.
	HeartbeatTimeout time.Duration
	// InboundRate caps client messages per second (burst 2x).
	InboundRate float64
}

// DefaultConfig returns production connection settings.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  60 * time.Second,
		InboundRate:       20,
	}
}

// outbound is one broadcast fan-out request.
type outbound struct {
	kind       protocol.Kind
	channel    string
	instrument string
	payload    any
}

// Manager owns every live connection. Registration, removal, and
// broadcast all flow through the run loop; per-connection network I/O
// stays in each client's own pumps.
type Manager struct {
	cfg      Config
	logger   *zap.Logger
	upgrader websocket.Upgrader

	register   chan *Client
	unregister chan *Client
	broadcast  chan outbound

	clients map[string]*Client

	connCount int64
	sentCount int64
}

// NewManager creates a connection manager. Call Run to start it.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultConfig().HeartbeatTimeout
	}
	if cfg.InboundRate <= 0 {
		cfg.InboundRate = DefaultConfig().InboundRate
	}
	return &Manager{
		cfg:        cfg,
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client, 64),
		broadcast:  make(chan outbound, 1024),
		clients:    make(map[string]*Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run drives registration, removal, and broadcast until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("connection manager started")
	stats := time.NewTicker(30 * time.Second)
	defer stats.Stop()

	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return ctx.Err()
		case c := <-m.register:
			if c.State() == StateDisconnected {
				// Connection died before registration was processed.
				continue
			}
			m.clients[c.id] = c
			atomic.AddInt64(&m.connCount, 1)
			c.state.Store(int32(StateConnected))
			c.enqueue(protocol.KindConnectionStatus, protocol.ConnectionStatusPayload{
				ClientID: c.id,
				Status:   StateConnected.String(),
			})
			m.logger.Info("client connected",
				zap.String("client_id", c.id),
				zap.Int("connected_clients", len(m.clients)),
			)
		case c := <-m.unregister:
			m.remove(c)
		case msg := <-m.broadcast:
			for _, c := range m.clients {
				if c.subscribed(msg.channel, msg.instrument) {
					c.enqueue(msg.kind, msg.payload)
				}
			}
		case <-stats.C:
			m.logger.Info("connection stats",
				zap.Int("connected", len(m.clients)),
				zap.Int64("total_connections", atomic.LoadInt64(&m.connCount)),
				zap.Int64("messages_sent", atomic.LoadInt64(&m.sentCount)),
			)
		}
	}
}

// remove drops a client from the map and its subscriptions atomically
// with respect to the broadcast path; both run on the manager loop.
func (m *Manager) remove(c *Client) {
	if _, ok := m.clients[c.id]; !ok {
		return
	}
	delete(m.clients, c.id)
	m.logger.Info("client disconnected",
		zap.String("client_id", c.id),
		zap.Int("connected_clients", len(m.clients)),
	)
}

// drop transitions a client to Disconnected and schedules its removal.
// Safe to call multiple times and from any goroutine.
func (m *Manager) drop(c *Client) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateDisconnected))
		close(c.done)
		_ = c.conn.Close()
		// Never block the caller: drop can run on the manager loop itself
		// (slow client detected during fan-out).
		select {
		case m.unregister <- c:
		default:
			go func() { m.unregister <- c }()
		}
	})
}

// ServeWS upgrades an HTTP request and starts the connection's pumps.
func (m *Manager) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &Client{
		id:      uuid.New().String(),
		conn:    conn,
		manager: m,
		logger:  m.logger,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		subs:    make(map[subKey]struct{}),
		limiter: rate.NewLimiter(rate.Limit(m.cfg.InboundRate), int(m.cfg.InboundRate)*2),
	}
	c.state.Store(int32(StateConnecting))

	m.register <- c
	go c.writePump()
	go c.readPump()
}

// Broadcast fans a typed message out to every client whose subscription
// filter matches. Never blocks on any single connection's I/O.
func (m *Manager) Broadcast(kind protocol.Kind, instrument string, payload any) {
	channel := channelFor(kind)
	if channel == "" {
		m.logger.Error("broadcast of non-broadcast kind", zap.String("kind", string(kind)))
		return
	}
	select {
	case m.broadcast <- outbound{kind: kind, channel: channel, instrument: instrument, payload: payload}:
	default:
		m.logger.Warn("broadcast queue full, message dropped",
			zap.String("kind", string(kind)),
			zap.String("instrument", instrument),
		)
	}
}

// channelFor maps broadcast kinds to subscription channels.
func channelFor(kind protocol.Kind) string {
	switch kind {
	case protocol.KindAlert:
		return protocol.ChannelAlerts
	case protocol.KindTickUpdate:
		return protocol.ChannelTicks
	case protocol.KindAnalyticsUpdate:
		return protocol.ChannelAnalytics
	default:
		return ""
	}
}

// closeAll disconnects every client during shutdown.
func (m *Manager) closeAll() {
	for _, c := range m.clients {
		c.closeOnce.Do(func() {
			c.state.Store(int32(StateDisconnected))
			close(c.done)
			_ = c.conn.Close()
		})
	}
	m.clients = make(map[string]*Client)
	m.logger.Info("all connections closed")
}
