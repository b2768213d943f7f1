package indexer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/elnosh/starknuts/mint/liquidity"
	"github.com/gorilla/websocket"
)

type MessageType string

const (
	DataMessage       MessageType = "data"
	InvalidateMessage MessageType = "invalidate"
)

var ErrStreamClosed = errors.New("payment event stream closed")

// Event is a transfer to the invoice payment contract.
type Event struct {
	TxHash     string         `json:"tx_hash"`
	EventIndex uint64         `json:"event_index"`
	Asset      string         `json:"asset"`
	InvoiceId  string         `json:"invoice_id"`
	Payee      string         `json:"payee"`
	Amount     liquidity.U256 `json:"amount"`
}

// Message is one unit of the upstream stream. A data message carries the
// events of a finalized block. An invalidate message tells the consumer
// that every block above BlockNumber is no longer part of the chain.
type Message struct {
	Type        MessageType `json:"type"`
	BlockNumber uint64      `json:"block_number"`
	BlockId     string      `json:"block_id,omitempty"`
	Events      []Event     `json:"events,omitempty"`
}

type Stream interface {
	// Recv blocks until the next message or until ctx is done.
	Recv(ctx context.Context) (Message, error)
	Close() error
}

// Dialer opens a stream starting after block cursor.
type Dialer func(ctx context.Context, cursor uint64) (Stream, error)

type websocketStream struct {
	conn *websocket.Conn
}

// WebsocketDialer returns a Dialer for a websocket upstream that
// authenticates with a bearer token.
func WebsocketDialer(streamURL, token string) Dialer {
	return func(ctx context.Context, cursor uint64) (Stream, error) {
		u, err := url.Parse(streamURL)
		if err != nil {
			return nil, fmt.Errorf("invalid stream url: %v", err)
		}
		query := u.Query()
		query.Set("cursor", strconv.FormatUint(cursor, 10))
		u.RawQuery = query.Encode()

		header := http.Header{}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}

		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("could not connect to payment event stream (status %v): %w", resp.StatusCode, err)
			}
			return nil, fmt.Errorf("could not connect to payment event stream: %w", err)
		}
		return &websocketStream{conn: conn}, nil
	}
}

func (s *websocketStream) Recv(ctx context.Context) (Message, error) {
	// unblock the read if ctx is cancelled
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	var msg Message
	if err := s.conn.ReadJSON(&msg); err != nil {
		if ctx.Err() != nil {
			return Message{}, ctx.Err()
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return Message{}, ErrStreamClosed
		}
		return Message{}, err
	}
	return msg, nil
}

func (s *websocketStream) Close() error {
	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}
