// Package channel maintains the single persistent push connection for a
// session.
//
// The connection walks an explicit state machine:
//
//	Disconnected --Connect--> Connecting --(server ack)--> Connected
//	Connected --(transport error)--> Reconnecting --(backoff)--> Connecting
//	Connected --Disconnect--> Disconnected (terminal, no auto-retry)
//
// Reconnects use exponential backoff with full jitter; the attempt counter
// resets to zero on every successful connect.
package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/ledgerview/internal/metrics"
	"github.com/mbd888/ledgerview/internal/state"
)

// State of the push connection.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

const (
	readLimit    = 512 * 1024
	readDeadline = 60 * time.Second
	writeTimeout = 10 * time.Second
)

// Handler receives push events for a subscribed type.
type Handler func(ev state.Event)

// Config for the channel.
type Config struct {
	URL     string        // ws:// or wss:// endpoint
	Base    time.Duration // backoff base delay
	Cap     time.Duration // backoff ceiling per attempt
	Ceiling int           // consecutive failures before the channel is declared down
}

// joinMessage is sent once immediately after a successful connect.
type joinMessage struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type subKey struct {
	subscriber string
	eventType  state.EventType
}

// Channel is the client side of the push connection. One Channel exists per
// authenticated session; it is the exclusive owner of the connection state.
type Channel struct {
	cfg    Config
	logger *slog.Logger
	dialer *websocket.Dialer

	mu         sync.Mutex
	st         State
	conn       *websocket.Conn
	subs       map[subKey]Handler
	generation uint64        // bumped on Connect/Disconnect; stale loops check it
	stop       chan struct{} // closed on Disconnect; wakes backoff sleeps
	onDown     func()        // fired once when retries are exhausted

	wg sync.WaitGroup
}

// New creates a channel. It starts Disconnected.
func New(cfg Config, logger *slog.Logger) *Channel {
	if cfg.Base <= 0 {
		cfg.Base = time.Second
	}
	if cfg.Cap < cfg.Base {
		cfg.Cap = 30 * time.Second
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = 10
	}
	return &Channel{
		cfg:    cfg,
		logger: logger,
		dialer: &websocket.Dialer{HandshakeTimeout: writeTimeout},
		subs:   make(map[subKey]Handler),
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

// OnDown registers a hook fired once when the retry ceiling is exhausted.
// Polling continues as the sole source of truth after that.
func (c *Channel) OnDown(fn func()) {
	c.mu.Lock()
	c.onDown = fn
	c.mu.Unlock()
}

// Subscribe registers interest in an event type. Duplicate subscriptions for
// the same (subscriber, type) pair are coalesced: the handler is replaced.
func (c *Channel) Subscribe(subscriber string, eventType state.EventType, h Handler) {
	c.mu.Lock()
	c.subs[subKey{subscriber, eventType}] = h
	c.mu.Unlock()
}

// Connect opens the connection for the given session token and user.
// Calling Connect while already Connecting or Connected is a no-op.
func (c *Channel) Connect(ctx context.Context, token, userID string) {
	c.mu.Lock()
	if c.st != Disconnected {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(Connecting)
	c.generation++
	c.stop = make(chan struct{})
	gen := c.generation
	stop := c.stop
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(ctx, gen, stop, token, userID)
}

// Disconnect closes the connection for good. All subscriptions are dropped
// and must be re-established by a fresh Connect. Idempotent.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.generation++
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	conn := c.conn
	c.conn = nil
	c.subs = make(map[subKey]Handler)
	c.setStateLocked(Disconnected)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		_ = conn.Close()
	}
	c.wg.Wait()
}

// run is the connect/read/reconnect loop for one generation. It exits when
// the generation is superseded, the context ends, or retries are exhausted.
func (c *Channel) run(ctx context.Context, gen uint64, stop chan struct{}, token, userID string) {
	defer c.wg.Done()

	attempt := 0
	for {
		if c.stale(gen) || ctx.Err() != nil {
			return
		}

		conn, err := c.dial(ctx, token)
		if err != nil {
			c.logger.Warn("channel connect failed", "attempt", attempt, "error", err)
			metrics.ChannelReconnectsTotal.Inc()
			attempt++
			if attempt >= c.cfg.Ceiling {
				c.giveUp(gen)
				return
			}
			if !c.transition(gen, Reconnecting) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-time.After(backoffDelay(c.cfg.Base, c.cfg.Cap, attempt)):
			}
			if !c.transition(gen, Connecting) {
				return
			}
			continue
		}

		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.setStateLocked(Connected)
		c.mu.Unlock()

		// Counter resets on any successful connect.
		attempt = 0
		c.logger.Info("channel connected", "url", c.cfg.URL)

		if err := c.join(conn, userID); err != nil {
			c.logger.Warn("channel join failed", "error", err)
		}

		c.readLoop(conn, gen)

		if c.stale(gen) || ctx.Err() != nil {
			return
		}
		if !c.transition(gen, Reconnecting) {
			return
		}
		c.logger.Warn("channel lost, reconnecting")
		metrics.ChannelReconnectsTotal.Inc()
		attempt++
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-time.After(backoffDelay(c.cfg.Base, c.cfg.Cap, attempt)):
		}
		if !c.transition(gen, Connecting) {
			return
		}
	}
}

func (c *Channel) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

func (c *Channel) join(conn *websocket.Conn, userID string) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(joinMessage{Type: "join", UserID: userID})
}

// readLoop reads events until the connection breaks or is superseded.
func (c *Channel) readLoop(conn *websocket.Conn, gen uint64) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
	}()

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeTimeout))
	})
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				c.logger.Debug("channel read error", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))

		var ev state.Event
		if err := json.Unmarshal(message, &ev); err != nil {
			c.logger.Warn("malformed channel event", "error", err)
			continue
		}
		metrics.ChannelEventsTotal.WithLabelValues(string(ev.Type)).Inc()
		c.deliver(ev, gen)
	}
}

// deliver fans the event out to all current subscribers of its type.
func (c *Channel) deliver(ev state.Event, gen uint64) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	handlers := make([]Handler, 0, len(c.subs))
	for key, h := range c.subs {
		if key.eventType == ev.Type {
			handlers = append(handlers, h)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// stale reports whether gen has been superseded by Connect/Disconnect.
func (c *Channel) stale(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen != c.generation
}

// transition moves to the given state if gen is still current.
func (c *Channel) transition(gen uint64, to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return false
	}
	c.setStateLocked(to)
	return true
}

// giveUp marks the channel terminally down for this generation and fires the
// OnDown hook once.
func (c *Channel) giveUp(gen uint64) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(Disconnected)
	fn := c.onDown
	c.mu.Unlock()

	c.logger.Error("channel retries exhausted, live updates unavailable")
	if fn != nil {
		fn()
	}
}

// setStateLocked updates the state and its gauge. Caller holds c.mu.
func (c *Channel) setStateLocked(to State) {
	c.st = to
	metrics.ChannelState.Set(float64(to))
}
