package mcpquic

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/quic-go/quic-go"

	"github.com/hazyhaar/figbridge/idgen"
	"github.com/hazyhaar/figbridge/kit"
)

// Server runs one MCP session per accepted QUIC connection against a shared
// mcp.Server.
type Server struct {
	mcp    *mcp.Server
	logger *slog.Logger
	newID  idgen.Generator

	mu       sync.Mutex
	listener *quic.Listener
	sessions sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithSessionIDGenerator sets how session IDs are produced.
func WithSessionIDGenerator(gen idgen.Generator) ServerOption {
	return func(s *Server) { s.newID = gen }
}

func NewServer(srv *mcp.Server, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcp:    srv,
		logger: logger.With("transport", kit.TransportMCPQUIC),
		newID:  idgen.Prefixed("quic_", idgen.Default),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ListenAndServe binds addr over UDP and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string, tlsCfg *tls.Config) error {
	l, err := quic.ListenAddr(addr, tlsCfg, ProductionQUICConfig())
	if err != nil {
		return fmt.Errorf("mcpquic: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, l)
}

// Serve accepts connections from l until ctx is done, then closes l and
// waits for open sessions to end.
func (s *Server) Serve(ctx context.Context, l *quic.Listener) error {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	s.logger.Info("mcp quic listener ready", "addr", l.Addr().String())

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			s.sessions.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("mcpquic: accept: %w", err)
		}

		if alpn := conn.ConnectionState().TLS.NegotiatedProtocol; alpn != ALPNProtocolMCP {
			conn.CloseWithError(ConnErrorUnsupportedALPN, "unsupported ALPN: "+alpn)
			continue
		}

		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			if err := s.serveConn(ctx, conn); err != nil {
				s.logger.Warn("mcp quic session failed", "error", err)
			}
		}()
	}
}

// Addr returns the bound address once Serve has started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) serveConn(ctx context.Context, conn *quic.Conn) error {
	remote := conn.RemoteAddr().String()

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(ConnErrorProtocolViolation, "no stream")
		return &ConnectionError{RemoteAddr: remote, Code: ConnErrorProtocolViolation, Err: err}
	}
	if err := ValidateMagicBytes(stream); err != nil {
		stream.CancelRead(StreamErrorProtocolConfusion)
		stream.CancelWrite(StreamErrorProtocolConfusion)
		conn.CloseWithError(ConnErrorProtocolViolation, "invalid magic bytes")
		return &ConnectionError{RemoteAddr: remote, Code: ConnErrorProtocolViolation, Err: err}
	}

	id := s.newID()
	log := s.logger.With("session", id, "remote", remote)
	log.Info("mcp quic session started")

	ctx = kit.WithTransport(ctx, kit.TransportMCPQUIC)
	ctx = kit.WithRemoteAddr(ctx, remote)
	ctx = kit.WithTraceID(ctx, id)

	// Sessions outlive Connect; shutdown has to end them explicitly.
	release := context.AfterFunc(ctx, func() {
		conn.CloseWithError(ConnErrorShuttingDown, "server shutting down")
	})
	defer release()

	ss, err := s.mcp.Connect(ctx, &streamTransport{stream: stream, sessionID: id}, nil)
	if err != nil {
		stream.Close()
		conn.CloseWithError(ConnErrorProtocolViolation, "mcp connect failed")
		return &ConnectionError{RemoteAddr: remote, Code: ConnErrorProtocolViolation, Err: err}
	}

	err = ss.Wait()
	conn.CloseWithError(ConnErrorNoError, "session ended")
	log.Info("mcp quic session ended")
	if err != nil && !isClosed(err) {
		return &ConnectionError{RemoteAddr: remote, Code: ConnErrorNoError, Err: err}
	}
	return nil
}

func isClosed(err error) bool {
	var appErr *quic.ApplicationError
	var idleErr *quic.IdleTimeoutError
	return errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) ||
		errors.As(err, &appErr) || errors.As(err, &idleErr)
}

// streamTransport adapts one QUIC stream to mcp.Transport.
type streamTransport struct {
	stream    *quic.Stream
	sessionID string
}

func (t *streamTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	iot := &mcp.IOTransport{
		Reader: io.NopCloser(&frameLimiter{r: t.stream, max: MaxMessageSize}),
		Writer: streamWriteCloser{t.stream},
	}
	conn, err := iot.Connect(ctx)
	if err != nil {
		return nil, err
	}
	if t.sessionID == "" {
		return conn, nil
	}
	return &namedConn{Connection: conn, id: t.sessionID}, nil
}

// namedConn reports a session ID; IOTransport connections report "".
type namedConn struct {
	mcp.Connection
	id string
}

func (c *namedConn) SessionID() string { return c.id }

type streamWriteCloser struct{ stream *quic.Stream }

func (w streamWriteCloser) Write(p []byte) (int, error) { return w.stream.Write(p) }
func (w streamWriteCloser) Close() error                { return w.stream.Close() }

// frameLimiter fails the read side once a frame runs past max bytes without
// a newline.
type frameLimiter struct {
	r   io.Reader
	max int
	run int
}

func (f *frameLimiter) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	chunk := p[:n]
	for {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			f.run += len(chunk)
			break
		}
		if f.run+i > f.max {
			return n, f.tooLarge()
		}
		f.run = 0
		chunk = chunk[i+1:]
	}
	if f.run > f.max {
		return n, f.tooLarge()
	}
	return n, err
}

func (f *frameLimiter) tooLarge() error {
	return fmt.Errorf("mcpquic: message exceeds %d bytes", f.max)
}
