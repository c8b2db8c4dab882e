package venue

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
)

// WebSocketDialer dials venues with gorilla/websocket
type WebSocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func (d WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}
