// ABOUTME: Message-oriented transport abstraction and its gorilla/websocket adapter
// ABOUTME: Control frames stay inside the adapter; only text and binary reach RX

package connection

import (
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/2389/chat-gateway/internal/protocol"
)

// MessageKind is the type of a data frame.
type MessageKind int

const (
	TextMessage MessageKind = iota + 1
	BinaryMessage
)

// Transport is one bidirectional connection. ReadMessage is called only by
// RX; the write methods only by TX. Close may be called from anywhere.
type Transport interface {
	ReadMessage() (MessageKind, []byte, error)
	WriteText(data []byte) error
	WriteClose(f protocol.CloseFrame) error
	Close() error
}

// maxCloseReason keeps the close payload within the 125-byte control frame limit.
const maxCloseReason = 123

type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

// NewWebSocketTransport adapts an upgraded websocket connection.
func NewWebSocketTransport(conn *websocket.Conn, maxMessageSize int64, writeTimeout time.Duration) Transport {
	if maxMessageSize > 0 {
		conn.SetReadLimit(maxMessageSize)
	}
	return &wsTransport{conn: conn, writeTimeout: writeTimeout}
}

func (t *wsTransport) ReadMessage() (MessageKind, []byte, error) {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			return 0, nil, err
		}
		switch mt {
		case websocket.TextMessage:
			return TextMessage, data, nil
		case websocket.BinaryMessage:
			return BinaryMessage, data, nil
		}
	}
}

func (t *wsTransport) WriteText(data []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) WriteClose(f protocol.CloseFrame) error {
	msg := websocket.FormatCloseMessage(int(f.Code), truncateReason(f.Reason))
	return t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.writeTimeout))
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

func truncateReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	cut := maxCloseReason
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

// isPeerClose reports whether a read error is the peer closing normally.
func isPeerClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
