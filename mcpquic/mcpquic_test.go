package mcpquic

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/quic-go/quic-go"

	"github.com/hazyhaar/figbridge/kit"
)

func TestMagicBytes(t *testing.T) {
	var buf bytes.Buffer
	if err := SendMagicBytes(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "MCP1" {
		t.Fatalf("preamble = %q", buf.String())
	}
	if err := ValidateMagicBytes(&buf); err != nil {
		t.Fatalf("round trip: %v", err)
	}

	for _, in := range []string{"HTTP", "MC", ""} {
		err := ValidateMagicBytes(strings.NewReader(in))
		if !errors.Is(err, ErrInvalidMagicBytes) {
			t.Errorf("ValidateMagicBytes(%q) = %v, want ErrInvalidMagicBytes", in, err)
		}
	}
}

func TestConnectionError(t *testing.T) {
	inner := errors.New("timeout")
	ce := &ConnectionError{RemoteAddr: "127.0.0.1:8443", Code: ConnErrorProtocolViolation, Err: inner}
	msg := ce.Error()
	if !strings.Contains(msg, "127.0.0.1:8443") || !strings.Contains(msg, "0x03") {
		t.Fatalf("message = %s", msg)
	}
	if !errors.Is(ce, inner) {
		t.Fatal("Unwrap lost the cause")
	}
}

func TestTLSConfigs(t *testing.T) {
	srv, err := SelfSignedTLSConfig()
	if err != nil {
		t.Fatal(err)
	}
	if len(srv.Certificates) != 1 || srv.MinVersion != 0x0304 {
		t.Fatalf("server config: certs=%d min=%x", len(srv.Certificates), srv.MinVersion)
	}
	if len(srv.NextProtos) != 1 || srv.NextProtos[0] != ALPNProtocolMCP {
		t.Fatalf("ALPN = %v", srv.NextProtos)
	}

	if c := ClientTLSConfig(true); !c.InsecureSkipVerify || c.MinVersion != 0x0304 {
		t.Fatalf("insecure client: %+v", c)
	}
	if ClientTLSConfig(false).InsecureSkipVerify {
		t.Fatal("secure client skips verification")
	}

	q := ProductionQUICConfig()
	if q.MaxIdleTimeout != DefaultIdleTimeout || q.KeepAlivePeriod != DefaultKeepAlive || q.Allow0RTT {
		t.Fatalf("quic config: %+v", q)
	}
}

func TestFrameLimiter(t *testing.T) {
	// WHAT: many small frames pass, a single frame over the cap fails.
	small := strings.Repeat(strings.Repeat("x", 7)+"\n", 10)
	if _, err := io.ReadAll(&frameLimiter{r: strings.NewReader(small), max: 8}); err != nil {
		t.Fatalf("small frames: %v", err)
	}

	exact := strings.Repeat("x", 8) + "\n"
	if _, err := io.ReadAll(&frameLimiter{r: strings.NewReader(exact), max: 8}); err != nil {
		t.Fatalf("frame at the cap: %v", err)
	}

	// WHAT: the cap holds whether the newline arrives in the same read as
	// the frame or byte by byte, and a valid frame after it does not mask it.
	big := strings.Repeat("x", 20) + "\n" + "ok\n"
	for name, r := range map[string]func() io.Reader{
		"one read":   func() io.Reader { return strings.NewReader(big) },
		"byte reads": func() io.Reader { return iotest.OneByteReader(strings.NewReader(big)) },
	} {
		if _, err := io.ReadAll(&frameLimiter{r: r(), max: 8}); err == nil {
			t.Errorf("%s: oversized frame accepted", name)
		}
	}
}

type pingArgs struct {
	Word string `json:"word"`
}

func TestServeRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	srv := mcp.NewServer(&mcp.Implementation{Name: "quic-test", Version: "0"}, nil)
	kit.RegisterMCPTool(srv, &mcp.Tool{Name: "ping", InputSchema: map[string]any{"type": "object"}},
		func(_ context.Context, req any) (any, error) {
			return "pong " + req.(*pingArgs).Word, nil
		}, kit.DecodeArgs[pingArgs]())

	tlsCfg, err := SelfSignedTLSConfig()
	if err != nil {
		t.Fatal(err)
	}
	l, err := quic.ListenAddr("127.0.0.1:0", tlsCfg, ProductionQUICConfig())
	if err != nil {
		t.Fatal(err)
	}

	qs := NewServer(srv, nil)
	serveCtx, stop := context.WithCancel(ctx)
	served := make(chan error, 1)
	go func() { served <- qs.Serve(serveCtx, l) }()

	sess, err := Dial(ctx, l.Addr().String(), ClientTLSConfig(true), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	res, err := sess.CallTool(ctx, &mcp.CallToolParams{Name: "ping", Arguments: map[string]any{"word": "hi"}})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if text := res.Content[0].(*mcp.TextContent).Text; text != "pong hi" {
		t.Errorf("result = %q", text)
	}
	sess.Close()

	stop()
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServeClosesSessionsOnShutdown(t *testing.T) {
	// WHAT: cancelling Serve ends open sessions with the shutdown code
	// instead of waiting for clients to hang up.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	tlsCfg, err := SelfSignedTLSConfig()
	if err != nil {
		t.Fatal(err)
	}
	l, err := quic.ListenAddr("127.0.0.1:0", tlsCfg, ProductionQUICConfig())
	if err != nil {
		t.Fatal(err)
	}
	srv := mcp.NewServer(&mcp.Implementation{Name: "quic-test", Version: "0"}, nil)
	serveCtx, stop := context.WithCancel(ctx)
	served := make(chan error, 1)
	go func() { served <- NewServer(srv, nil).Serve(serveCtx, l) }()

	sess, err := Dial(ctx, l.Addr().String(), ClientTLSConfig(true), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sess.Close()

	stop()
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve blocked on an open session")
	}

	select {
	case <-sess.conn.Context().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client connection still open")
	}
	var appErr *quic.ApplicationError
	if cause := context.Cause(sess.conn.Context()); !errors.As(cause, &appErr) || appErr.ErrorCode != ConnErrorShuttingDown {
		t.Errorf("close cause = %v, want code 0x%02x", cause, uint64(ConnErrorShuttingDown))
	}
}

func TestDialRejectsWrongALPN(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tlsCfg, err := SelfSignedTLSConfig()
	if err != nil {
		t.Fatal(err)
	}
	tlsCfg.NextProtos = []string{"h3"}
	l, err := quic.ListenAddr("127.0.0.1:0", tlsCfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	client := ClientTLSConfig(true)
	client.NextProtos = []string{ALPNProtocolMCP, "h3"}
	go l.Accept(ctx)
	if _, err := Dial(ctx, l.Addr().String(), client, nil); !errors.Is(err, ErrUnsupportedALPN) {
		t.Fatalf("Dial err = %v, want ErrUnsupportedALPN", err)
	}
}
