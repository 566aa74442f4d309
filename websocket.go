package pollrpc

import (
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsReadBuffer  = 1024
	wsWriteBuffer = 1024
)

var wsBufferPool = new(sync.Pool)

// websocketStream exposes a websocket connection as a byte stream.
// Each Write is sent as one text message; Read concatenates incoming messages.
type websocketStream struct {
	conn *websocket.Conn
	cur  io.Reader
	rmu  sync.Mutex
	wmu  sync.Mutex
}

// NewWebsocketStream wraps conn as an [io.ReadWriteCloser].
func NewWebsocketStream(conn *websocket.Conn) io.ReadWriteCloser {
	return &websocketStream{conn: conn}
}

// Read implements [io.Reader].
func (ws *websocketStream) Read(p []byte) (int, error) {
	ws.rmu.Lock()
	defer ws.rmu.Unlock()

	for {
		if ws.cur == nil {
			_, r, err := ws.conn.NextReader()
			if err != nil {
				var ce *websocket.CloseError
				if errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure {
					return 0, io.EOF
				}

				return 0, err
			}

			ws.cur = r
		}

		n, err := ws.cur.Read(p)
		if errors.Is(err, io.EOF) {
			ws.cur = nil

			if n == 0 {
				continue
			}

			err = nil
		}

		return n, err
	}
}

// Write implements [io.Writer].
func (ws *websocketStream) Write(p []byte) (int, error) {
	ws.wmu.Lock()
	defer ws.wmu.Unlock()

	if err := ws.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}

	return len(p), nil
}

// Close sends a close frame, best effort, and closes the connection.
func (ws *websocketStream) Close() error {
	ws.wmu.Lock()
	_ = ws.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	ws.wmu.Unlock()

	return ws.conn.Close()
}

// RemoteAddr returns the address of the peer.
func (ws *websocketStream) RemoteAddr() net.Addr {
	return ws.conn.RemoteAddr()
}

// SetDeadline sets both read and write deadlines on the connection.
func (ws *websocketStream) SetDeadline(t time.Time) error {
	return errors.Join(ws.conn.SetReadDeadline(t), ws.conn.SetWriteDeadline(t))
}

// WebsocketHandler returns an [http.Handler] that upgrades requests to websockets and
// serves each one as a server side [Client], the same way [Server.Serve] serves accepted
// connections. The handler returns when the peer disconnects.
func (s *Server) WebsocketHandler(binder Binder) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBuffer,
		WriteBufferSize: wsWriteBuffer,
		WriteBufferPool: wsBufferPool,
		CheckOrigin:     func(*http.Request) bool { return true },
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.DebugContext(r.Context(), "WebSocket upgrade failed", "error", err)

			return
		}

		client, err := s.adopt(r.Context(), NewWebsocketStream(conn))
		if err != nil {
			s.log.WarnContext(r.Context(), "WebSocket peer rejected", "remote", conn.RemoteAddr(), "error", err)

			return
		}

		s.servePeer(r.Context(), client, binder)
	})
}
