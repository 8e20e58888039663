package chat

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	readDeadline = time.Minute
	writeTimeout = 10 * time.Second
	maxFrameSize = 1 << 20
)

type websocketConnection struct {
	socket *websocket.Conn
}

func (wc *websocketConnection) Write(data []byte) error {
	wc.socket.SetWriteDeadline(time.Now().Add(writeTimeout))
	return wc.socket.WriteMessage(websocket.BinaryMessage, data)
}

func (wc *websocketConnection) Ping() error {
	return wc.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (wc *websocketConnection) Read() ([]byte, error) {
	_, p, err := wc.socket.ReadMessage()
	return p, err
}

// Close may run concurrently with Write, control frames are safe for that.
func (wc *websocketConnection) Close(errCode string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, errCode)
	wc.socket.WriteControl(websocket.CloseMessage, msg, time.Now().Add(2*time.Second))
	wc.socket.Close()
}

// NewWebsocketConnection wraps conn. A pong pushes the read deadline out.
func NewWebsocketConnection(conn *websocket.Conn) *websocketConnection {
	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})
	return &websocketConnection{conn}
}
