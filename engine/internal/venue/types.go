package venue

import (
	"context"
	"time"

	"venue-execution-engine/engine/config"
)

// ConnState is the lifecycle state of a venue connection
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateAuthenticated
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "disconnected"
	}
}

// Conn is the subset of *websocket.Conn the client uses
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a Conn to a venue endpoint
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// Options configures a Client
type Options struct {
	Endpoint      string
	Token         string
	Currency      string
	AllowedAssets []string
	MinStake      float64
	MaxStake      float64

	ConnectTimeout    time.Duration
	RequestTimeout    time.Duration
	HeartbeatInterval time.Duration
	MaxReconnects     int
	Backoff           Backoff
}

// OptionsFromConfig maps a venue config block onto client options
func OptionsFromConfig(cfg config.VenueConfig) Options {
	return Options{
		Endpoint:          cfg.Endpoint,
		Token:             cfg.Token,
		Currency:          cfg.Currency,
		AllowedAssets:     cfg.AllowedAssets,
		MinStake:          cfg.MinStake,
		MaxStake:          cfg.MaxStake,
		ConnectTimeout:    cfg.ConnectTimeout,
		RequestTimeout:    cfg.RequestTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		MaxReconnects:     cfg.MaxReconnects,
		Backoff: Backoff{
			Min:    cfg.ReconnectMin,
			Max:    cfg.ReconnectMax,
			Factor: 2.0,
			Jitter: 0.1,
		},
	}
}

func (o *Options) applyDefaults() {
	if o.Currency == "" {
		o.Currency = "USD"
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = 5
	}
}

// Response is a correlated reply to a request
type Response struct {
	MsgType string
	ReqID   int64
	Raw     []byte
}

// Decode unmarshals the whole reply into v
func (r *Response) Decode(v any) error {
	return unmarshal(r.Raw, v)
}

type result struct {
	resp *Response
	err  error
}

// Status is a point-in-time view of a client for dashboards and health checks
type Status struct {
	Venue             string  `json:"venue"`
	State             string  `json:"state"`
	Balance           float64 `json:"balance"`
	Currency          string  `json:"currency"`
	ReconnectAttempts int     `json:"reconnectAttempts"`
	Unavailable       bool    `json:"unavailable"`
	AuthFailed        bool    `json:"authFailed"`
	Pending           int     `json:"pending"`
	OpenContracts     int     `json:"openContracts"`
}
