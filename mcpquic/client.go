package mcpquic

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/quic-go/quic-go"
)

// Session is an initialized MCP client session over QUIC. Close ends the
// session and the underlying connection.
type Session struct {
	*mcp.ClientSession
	conn *quic.Conn
}

// Dial connects to addr, sends the preamble and runs the MCP initialize
// handshake. A nil tlsCfg verifies the server certificate.
func Dial(ctx context.Context, addr string, tlsCfg *tls.Config, impl *mcp.Implementation) (*Session, error) {
	if tlsCfg == nil {
		tlsCfg = ClientTLSConfig(false)
	}
	if impl == nil {
		impl = &mcp.Implementation{Name: "figbridge-quic-client", Version: "1.0.0"}
	}

	conn, err := quic.DialAddr(ctx, addr, tlsCfg, ProductionQUICConfig())
	if err != nil {
		return nil, fmt.Errorf("mcpquic: dial %s: %w", addr, err)
	}
	fail := func(code quic.ApplicationErrorCode, err error) (*Session, error) {
		conn.CloseWithError(code, err.Error())
		return nil, &ConnectionError{RemoteAddr: addr, Code: code, Err: err}
	}

	if alpn := conn.ConnectionState().TLS.NegotiatedProtocol; alpn != ALPNProtocolMCP {
		return fail(ConnErrorUnsupportedALPN, fmt.Errorf("%w: %q", ErrUnsupportedALPN, alpn))
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return fail(ConnErrorProtocolViolation, err)
	}
	if err := SendMagicBytes(stream); err != nil {
		return fail(ConnErrorProtocolViolation, err)
	}

	transport := &mcp.IOTransport{
		Reader: io.NopCloser(&frameLimiter{r: stream, max: MaxMessageSize}),
		Writer: streamWriteCloser{stream},
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cs, err := mcp.NewClient(impl, nil).Connect(connectCtx, transport, nil)
	if err != nil {
		return fail(ConnErrorProtocolViolation, fmt.Errorf("mcp initialize: %w", err))
	}
	return &Session{ClientSession: cs, conn: conn}, nil
}

func (s *Session) Close() error {
	err := s.ClientSession.Close()
	s.conn.CloseWithError(ConnErrorNoError, "client closing")
	return err
}
