package pollrpc

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// ErrUnknownScheme is returned for URIs with an unsupported scheme.
var ErrUnknownScheme = errors.New("pollrpc: unknown scheme in uri")

// DialStream connects to destURI and returns the raw byte stream.
//
// The `destURI` format is `scheme:address` or a websocket URL.
//
// Supported Schemes:
//   - `tcp`, `tcp4`, `tcp6`: TCP connection. Address is `host:port`.
//   - `unix`: Unix domain socket. Address is the socket file path.
//   - `tls`, `tls4`, `tls6`: TLS over TCP. Address is `host:port`. tlsConfig may be nil for defaults.
//   - `ws`, `wss`: Websocket connection. The full URL is used. tlsConfig applies to `wss`.
//
// Examples:
//   - `tcp:127.0.0.1:9090`
//   - `tcp://localhost:9090`
//   - `unix:///tmp/mysocket.sock`
//   - `tls:127.0.0.1:9443`
//   - `ws://127.0.0.1:8080/rpc`
//
// Returns [ErrUnknownScheme] if the scheme is not supported.
func DialStream(ctx context.Context, destURI string, tlsConfig *tls.Config) (io.ReadWriteCloser, error) {
	uri, err := url.Parse(destURI)
	if err != nil {
		return nil, err
	}

	switch uri.Scheme {
	case "tcp", "tcp4", "tcp6":
		return new(net.Dialer).DialContext(ctx, uri.Scheme, hostPort(destURI, uri))
	case "unix":
		return new(net.Dialer).DialContext(ctx, uri.Scheme, uri.Path)
	case "tls", "tls4", "tls6":
		return dialTLS(ctx, uri.Scheme, hostPort(destURI, uri), tlsConfig)
	case "ws", "wss":
		return dialWebsocket(ctx, destURI, tlsConfig)
	}

	return nil, ErrUnknownScheme
}

// hostPort extracts host:port from both `tcp:host:port` and `tcp://host:port` forms.
func hostPort(destURI string, uri *url.URL) string {
	if uri.Host != "" {
		return uri.Host
	}

	return strings.TrimPrefix(destURI, uri.Scheme+":")
}

// dialTLS maps tls, tls4 and tls6 onto the matching TCP network.
func dialTLS(ctx context.Context, network, addr string, tlsConfig *tls.Config) (net.Conn, error) {
	tcpNetwork := "tcp"

	switch {
	case strings.HasSuffix(network, "6"):
		tcpNetwork = "tcp6"
	case strings.HasSuffix(network, "4"):
		tcpNetwork = "tcp4"
	}

	dialer := &tls.Dialer{Config: tlsConfig}

	return dialer.DialContext(ctx, tcpNetwork, addr)
}

func dialWebsocket(ctx context.Context, destURI string, tlsConfig *tls.Config) (io.ReadWriteCloser, error) {
	dialer := &websocket.Dialer{
		ReadBufferSize:  wsReadBuffer,
		WriteBufferSize: wsWriteBuffer,
		WriteBufferPool: wsBufferPool,
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: tlsConfig,
	}

	conn, resp, err := dialer.DialContext(ctx, destURI, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	if err != nil {
		return nil, err
	}

	return NewWebsocketStream(conn), nil
}
