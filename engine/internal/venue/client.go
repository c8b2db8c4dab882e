package venue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"venue-execution-engine/engine/internal/events"
	"venue-execution-engine/engine/internal/logger"
	"venue-execution-engine/engine/internal/metrics"
	"venue-execution-engine/engine/internal/models"

	"github.com/gorilla/websocket"
)

var (
	errNotConnected     = errors.New("not connected")
	errConnectionClosed = errors.New("connection closed")
	errConnectInFlight  = errors.New("connection attempt already in progress")
)

type nopPublisher struct{}

func (nopPublisher) Publish(events.Event) {}

// Client is an authenticated streaming connection to one venue.
// Requests are correlated to responses by req_id; anything else the venue
// sends is routed by msg_type.
type Client struct {
	id     string
	opts   Options
	dialer Dialer
	bus    events.Publisher
	log    *logger.Logger
	now    func() time.Time

	mu           sync.RWMutex
	conn         Conn
	state        ConnState
	ready        bool
	balance      float64
	currency     string
	attempts     int
	unavailable  bool
	authFailed   bool
	reconnecting bool
	closing      bool
	halt         chan struct{}
	stopBeat     chan struct{}

	writeMu sync.Mutex

	nextReqID atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]chan result

	contractsMu sync.RWMutex
	contracts   map[string]*models.Contract

	ticks *subscriptionSet
}

// NewClient creates a disconnected client. A nil dialer dials with gorilla/websocket.
func NewClient(id string, opts Options, dialer Dialer, bus events.Publisher, log *logger.Logger) *Client {
	opts.applyDefaults()
	if dialer == nil {
		dialer = WebSocketDialer{}
	}
	if bus == nil {
		bus = nopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		id:        id,
		opts:      opts,
		dialer:    dialer,
		bus:       bus,
		log:       log.Named("venue." + id),
		now:       time.Now,
		currency:  opts.Currency,
		halt:      make(chan struct{}),
		pending:   make(map[int64]chan result),
		contracts: make(map[string]*models.Contract),
		ticks:     newSubscriptionSet(),
	}
}

// ID returns the venue identifier
func (c *Client) ID() string {
	return c.id
}

// Start connects, authenticates with the configured token and subscribes to balance
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.unavailable {
		c.mu.Unlock()
		return fmt.Errorf("venue %s: %w", c.id, ErrUnavailable)
	}
	if c.closing {
		c.closing = false
		c.halt = make(chan struct{})
	}
	c.mu.Unlock()

	return c.establish(ctx)
}

func (c *Client) establish(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	if err := c.Authenticate(ctx, c.opts.Token); err != nil {
		c.drop()
		return err
	}
	if err := c.SubscribeBalance(ctx); err != nil {
		c.drop()
		return err
	}
	c.resubscribe(ctx)

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return &TransportError{Venue: c.id, Op: "establish", Err: errNotConnected}
	}
	c.ready = true
	c.attempts = 0
	c.mu.Unlock()

	c.log.Infof("Venue %s ready", c.id)
	c.bus.Publish(events.VenueConnected{Venue: c.id, Timestamp: c.now()})
	return nil
}

// Connect dials the venue within ConnectTimeout
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateConnecting {
		c.mu.Unlock()
		return &TransportError{Venue: c.id, Op: "connect", Err: errConnectInFlight}
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	c.log.Infof("Connecting to venue %s at %s", c.id, c.opts.Endpoint)

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()
	conn, err := c.dialer.Dial(dialCtx, c.opts.Endpoint)
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return &TransportError{Venue: c.id, Op: "connect", Err: err}
	}

	stop := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.stopBeat = stop
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	go c.readLoop(conn)
	if c.opts.HeartbeatInterval > 0 {
		go c.heartbeat(stop)
	}
	return nil
}

// Authenticate sends the authorize request. A venue rejection is fatal for
// this client: it will not reconnect on its own until Reset.
func (c *Client) Authenticate(ctx context.Context, token string) error {
	resp, err := c.SendRequest(ctx, map[string]any{"authorize": token})
	if err != nil {
		var rej *VenueRejection
		if errors.As(err, &rej) {
			c.mu.Lock()
			c.authFailed = true
			c.mu.Unlock()
			c.log.Errorf("Venue %s refused authorization: %s", c.id, rej.Message)
			return fmt.Errorf("venue %s: %w: %s", c.id, ErrAuthenticationFailed, rej.Message)
		}
		return err
	}

	var auth authorizeResponse
	if err := resp.Decode(&auth); err != nil {
		return fmt.Errorf("venue %s: decode authorize: %w", c.id, err)
	}

	c.mu.Lock()
	c.balance = auth.Authorize.Balance
	if auth.Authorize.Currency != "" {
		c.currency = auth.Authorize.Currency
	}
	c.authFailed = false
	if c.conn != nil {
		c.setStateLocked(StateAuthenticated)
	}
	c.mu.Unlock()

	c.log.Infof("Venue %s authorized, balance %.2f %s", c.id, auth.Authorize.Balance, c.Currency())
	return nil
}

// SendRequest writes payload with a fresh req_id and waits for the matching
// reply. The wait is bounded by RequestTimeout and the slot is always released.
func (c *Client) SendRequest(ctx context.Context, payload map[string]any) (*Response, error) {
	id := c.nextReqID.Add(1)
	msg := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		msg[k] = v
	}
	msg["req_id"] = id

	data, err := marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("venue %s: encode request: %w", c.id, err)
	}

	ch := make(chan result, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	n := len(c.pending)
	c.pendingMu.Unlock()
	metrics.PendingRequests.WithLabelValues(c.id).Set(float64(n))
	defer c.release(id)

	start := time.Now()
	if err := c.write(data); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.opts.RequestTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		outcome := metrics.OutcomeSuccess
		if res.err != nil {
			outcome = metrics.OutcomeFailure
		}
		metrics.RequestDuration.WithLabelValues(c.id, outcome).Observe(time.Since(start).Seconds())
		return res.resp, res.err
	case <-timer.C:
		metrics.RequestDuration.WithLabelValues(c.id, metrics.OutcomeTimeout).Observe(time.Since(start).Seconds())
		c.log.Warnf("Venue %s request %d timed out after %s", c.id, id, c.opts.RequestTimeout)
		return nil, fmt.Errorf("venue %s req_id %d: %w", c.id, id, ErrProtocolTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) release(id int64) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	n := len(c.pending)
	c.pendingMu.Unlock()
	metrics.PendingRequests.WithLabelValues(c.id).Set(float64(n))
}

func (c *Client) write(data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return &TransportError{Venue: c.id, Op: "write", Err: errNotConnected}
	}

	c.writeMu.Lock()
	err := conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return &TransportError{Venue: c.id, Op: "write", Err: err}
	}
	return nil
}

func (c *Client) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleTransportLoss(conn, err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env envelope
	if err := unmarshal(data, &env); err != nil {
		c.log.Warnf("Venue %s sent unparseable message: %v", c.id, err)
		return
	}

	if env.ReqID != 0 && c.resolve(env, data) {
		return
	}
	if env.Error != nil {
		c.log.Warnf("Venue %s error %s: %s", c.id, env.Error.Code, env.Error.Message)
		return
	}
	c.route(env.MsgType, data)
}

// resolve hands a reply to its waiting caller; false means nobody is waiting
func (c *Client) resolve(env envelope, data []byte) bool {
	c.pendingMu.Lock()
	ch, ok := c.pending[env.ReqID]
	if ok {
		delete(c.pending, env.ReqID)
	}
	c.pendingMu.Unlock()
	if !ok {
		return false
	}

	res := result{resp: &Response{MsgType: env.MsgType, ReqID: env.ReqID, Raw: data}}
	if env.Error != nil {
		res = result{err: &VenueRejection{Venue: c.id, Code: env.Error.Code, Message: env.Error.Message}}
	}
	ch <- res
	return true
}

func (c *Client) route(msgType string, data []byte) {
	switch msgType {
	case "balance":
		c.onBalance(data)
	case "proposal_open_contract":
		c.onOpenContract(data)
	case "tick":
		c.onTick(data)
	case "ping":
	default:
		c.log.Debugf("Venue %s unhandled message type %q", c.id, msgType)
	}
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		select {
		case ch <- result{err: err}:
		default:
		}
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	metrics.PendingRequests.WithLabelValues(c.id).Set(0)
}

func (c *Client) handleTransportLoss(conn Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.detachLocked()
	closing := c.closing
	c.mu.Unlock()

	_ = conn.Close()
	c.failPending(&TransportError{Venue: c.id, Op: "read", Err: cause})
	if closing {
		return
	}

	c.log.Warnf("Venue %s transport lost: %v", c.id, cause)
	c.bus.Publish(events.VenueDisconnected{Venue: c.id, Reason: cause.Error(), Timestamp: c.now()})
	go c.reconnectLoop()
}

// detachLocked forgets the current connection; callers hold c.mu
func (c *Client) detachLocked() {
	c.conn = nil
	c.ready = false
	c.setStateLocked(StateDisconnected)
	if c.stopBeat != nil {
		close(c.stopBeat)
		c.stopBeat = nil
	}
}

// drop closes the current connection without triggering reconnection
func (c *Client) drop() {
	c.mu.Lock()
	conn := c.conn
	if conn != nil {
		c.detachLocked()
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
		c.failPending(&TransportError{Venue: c.id, Op: "close", Err: errConnectionClosed})
	}
}

func (c *Client) reconnectLoop() {
	c.mu.Lock()
	if c.reconnecting || c.closing || c.unavailable || c.authFailed {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	halt := c.halt
	c.mu.Unlock()

	for attempt := 1; attempt <= c.opts.MaxReconnects; attempt++ {
		c.mu.Lock()
		c.attempts = attempt
		c.mu.Unlock()

		wait := c.opts.Backoff.Next(attempt)
		c.log.Infof("Venue %s reconnect attempt %d/%d in %s", c.id, attempt, c.opts.MaxReconnects, wait)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-halt:
			timer.Stop()
			c.mu.Lock()
			c.reconnecting = false
			c.mu.Unlock()
			return
		}

		err := c.establish(context.Background())
		if err == nil {
			metrics.Reconnects.WithLabelValues(c.id, metrics.OutcomeSuccess).Inc()
			c.mu.Lock()
			c.reconnecting = false
			lost := c.conn == nil
			c.mu.Unlock()
			if lost {
				go c.reconnectLoop()
			}
			return
		}

		metrics.Reconnects.WithLabelValues(c.id, metrics.OutcomeFailure).Inc()
		c.log.Warnf("Venue %s reconnect attempt %d failed: %v", c.id, attempt, err)
		if errors.Is(err, ErrAuthenticationFailed) {
			c.mu.Lock()
			c.reconnecting = false
			c.mu.Unlock()
			c.markUnavailable("authentication failed")
			return
		}
	}

	c.mu.Lock()
	c.reconnecting = false
	c.mu.Unlock()
	c.markUnavailable(fmt.Sprintf("reconnection failed after %d attempts", c.opts.MaxReconnects))
}

func (c *Client) markUnavailable(reason string) {
	c.mu.Lock()
	c.unavailable = true
	c.mu.Unlock()

	c.log.Errorf("Venue %s unavailable: %s", c.id, reason)
	c.bus.Publish(events.VenueUnavailable{Venue: c.id, Reason: reason, Timestamp: c.now()})
}

// Reset clears the unavailable and authentication-failed flags so the venue
// can be started again
func (c *Client) Reset() {
	c.mu.Lock()
	c.unavailable = false
	c.authFailed = false
	c.attempts = 0
	c.mu.Unlock()
	c.log.Infof("Venue %s reset", c.id)
}

// Disconnect closes the connection and stops any reconnection in progress
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.closing {
		c.closing = true
		close(c.halt)
	}
	c.mu.Unlock()

	c.drop()
	c.log.Infof("Venue %s disconnected", c.id)
}

// Ping is a keepalive round trip. A keepalive that times out drops the
// connection so the read loop starts reconnection.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.SendRequest(ctx, map[string]any{"ping": 1})
	if errors.Is(err, ErrProtocolTimeout) {
		c.log.Warnf("Venue %s keepalive timed out, dropping connection", c.id)
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn != nil {
			_ = conn.Close()
		}
	}
	return err
}

func (c *Client) heartbeat(stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.Ping(context.Background()); err != nil {
				c.log.Warnf("Venue %s heartbeat failed: %v", c.id, err)
			}
		}
	}
}

func (c *Client) setStateLocked(s ConnState) {
	c.state = s
	metrics.VenueState.WithLabelValues(c.id).Set(float64(s))
}

// State returns the connection state
func (c *Client) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsReady reports whether the client accepts trade calls
func (c *Client) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateAuthenticated && c.ready
}

// Unavailable reports whether reconnection was exhausted
func (c *Client) Unavailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unavailable
}

// AuthFailed reports whether the venue refused the configured token. Only
// Reset clears it.
func (c *Client) AuthFailed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authFailed
}

// Reconnecting reports whether the client is working through its own
// reconnection attempts
func (c *Client) Reconnecting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnecting
}

func (c *Client) Balance() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.balance
}

func (c *Client) Currency() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currency
}

func (c *Client) ReconnectAttempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attempts
}

// PendingCount returns the number of requests awaiting a reply
func (c *Client) PendingCount() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

// Status snapshots the client
func (c *Client) Status() Status {
	c.mu.RLock()
	st := Status{
		Venue:             c.id,
		State:             c.state.String(),
		Balance:           c.balance,
		Currency:          c.currency,
		ReconnectAttempts: c.attempts,
		Unavailable:       c.unavailable,
		AuthFailed:        c.authFailed,
	}
	c.mu.RUnlock()

	st.Pending = c.PendingCount()
	c.contractsMu.RLock()
	st.OpenContracts = len(c.contracts)
	c.contractsMu.RUnlock()
	return st
}
