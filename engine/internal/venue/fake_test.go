package venue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"venue-execution-engine/engine/internal/events"
	"venue-execution-engine/engine/internal/logger"

	"github.com/gorilla/websocket"
)

var errFakeClosed = errors.New("fake connection closed")

// fakeConn is an in-memory websocket; writes are answered by a fakeVenue
type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once
	venue  *fakeVenue

	mu   sync.Mutex
	sent []map[string]any
}

func newFakeConn(v *fakeVenue) *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		closed: make(chan struct{}),
		venue:  v,
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-f.in:
		return websocket.TextMessage, msg, nil
	case <-f.closed:
		return 0, nil, errFakeClosed
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-f.closed:
		return errFakeClosed
	default:
	}
	var req map[string]any
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, req)
	f.mu.Unlock()
	if f.venue != nil {
		go f.venue.handle(f, req)
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) push(v any) {
	data, _ := json.Marshal(v)
	select {
	case f.in <- data:
	case <-f.closed:
	}
}

// sentWith returns the requests that carried key
func (f *fakeConn) sentWith(key string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for _, req := range f.sent {
		if _, ok := req[key]; ok {
			out = append(out, req)
		}
	}
	return out
}

// fakeVenue answers the wire protocol the way a broker would
type fakeVenue struct {
	mu           sync.Mutex
	balance      float64
	rejectAuth   bool
	silent       map[string]bool
	buyError     *apiError
	custom       map[string]func(conn *fakeConn, req map[string]any)
	nextContract atomic.Int64
}

func newFakeVenue(balance float64) *fakeVenue {
	v := &fakeVenue{
		balance: balance,
		silent:  make(map[string]bool),
		custom:  make(map[string]func(*fakeConn, map[string]any)),
	}
	v.nextContract.Store(1000)
	return v
}

func (v *fakeVenue) silence(msgType string) {
	v.mu.Lock()
	v.silent[msgType] = true
	v.mu.Unlock()
}

func requestType(req map[string]any) string {
	for _, key := range []string{"authorize", "balance", "buy", "sell", "proposal_open_contract", "ticks", "forget", "ping"} {
		if _, ok := req[key]; ok {
			return key
		}
	}
	for key := range req {
		if key != "req_id" {
			return key
		}
	}
	return ""
}

func (v *fakeVenue) handle(conn *fakeConn, req map[string]any) {
	kind := requestType(req)
	reqID := req["req_id"]

	v.mu.Lock()
	silent := v.silent[kind]
	custom := v.custom[kind]
	balance := v.balance
	rejectAuth := v.rejectAuth
	buyError := v.buyError
	v.mu.Unlock()

	if silent {
		return
	}
	if custom != nil {
		custom(conn, req)
		return
	}

	switch kind {
	case "authorize":
		if rejectAuth {
			conn.push(map[string]any{"msg_type": "authorize", "req_id": reqID,
				"error": map[string]any{"code": "InvalidToken", "message": "The token is invalid."}})
			return
		}
		conn.push(map[string]any{"msg_type": "authorize", "req_id": reqID,
			"authorize": map[string]any{"balance": balance, "currency": "USD", "loginid": "CR100"}})
	case "balance":
		conn.push(map[string]any{"msg_type": "balance", "req_id": reqID,
			"balance": map[string]any{"balance": balance, "currency": "USD"}})
	case "ping":
		conn.push(map[string]any{"msg_type": "ping", "req_id": reqID, "ping": "pong"})
	case "buy":
		if buyError != nil {
			conn.push(map[string]any{"msg_type": "buy", "req_id": reqID,
				"error": map[string]any{"code": buyError.Code, "message": buyError.Message}})
			return
		}
		price := req["price"].(float64)
		id := v.nextContract.Add(1)
		conn.push(map[string]any{"msg_type": "buy", "req_id": reqID, "buy": map[string]any{
			"contract_id": id, "start_spot": 1.2345, "start_time": time.Now().Unix(),
			"payout": price * 1.85, "buy_price": price, "balance_after": balance - price,
		}})
	case "proposal_open_contract":
		conn.push(map[string]any{"msg_type": "proposal_open_contract", "req_id": reqID,
			"proposal_open_contract": map[string]any{"contract_id": req["contract_id"], "is_sold": 0}})
	case "ticks":
		conn.push(map[string]any{"msg_type": "tick", "req_id": reqID,
			"tick":         map[string]any{"symbol": req["ticks"], "quote": 100.5, "epoch": time.Now().Unix()},
			"subscription": map[string]any{"id": "stream-" + req["ticks"].(string)}})
	case "sell":
		conn.push(map[string]any{"msg_type": "sell", "req_id": reqID,
			"sell": map[string]any{"contract_id": req["sell"], "sold_for": 4.2}})
	case "forget":
		conn.push(map[string]any{"msg_type": "forget", "req_id": reqID, "forget": 1})
	}
}

// fakeDialer hands out fakeConns; fail decides per dial number (1-based)
type fakeDialer struct {
	venue *fakeVenue
	fail  func(n int) error

	mu    sync.Mutex
	dials int
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail != nil {
		if err := d.fail(d.dials); err != nil {
			return nil, err
		}
	}
	conn := newFakeConn(d.venue)
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func testOptions() Options {
	return Options{
		Endpoint:       "wss://venue.test/ws",
		Token:          "token",
		MinStake:       0.35,
		MaxStake:       500,
		ConnectTimeout: time.Second,
		RequestTimeout: time.Second,
		MaxReconnects:  5,
		Backoff:        Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2},
	}
}

func newTestClient(opts Options, d Dialer) (*Client, *events.Bus) {
	bus := events.NewBus(logger.Nop())
	return NewClient("alpha", opts, d, bus, logger.Nop()), bus
}

func waitFor[T events.Event](sub *events.Subscription, timeout time.Duration) (T, bool) {
	var zero T
	deadline := time.After(timeout)
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return zero, false
			}
			if typed, ok := e.(T); ok {
				return typed, true
			}
		case <-deadline:
			return zero, false
		}
	}
}
