// Command figbridge runs the bridge between an MCP producer and the Figma
// plugin: the executor API over HTTP and the producer tools over stdio,
// streamable HTTP or QUIC.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/figbridge/auth"
	"github.com/hazyhaar/figbridge/bridge"
	"github.com/hazyhaar/figbridge/dbopen"
	"github.com/hazyhaar/figbridge/jobq"
	"github.com/hazyhaar/figbridge/mcpquic"
	"github.com/hazyhaar/figbridge/observability"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("figbridge", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("figbridge", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file")
	envFile := fs.String("env", ".env", "dotenv file, ignored when absent")
	addr := fs.String("addr", "", "HTTP listen address (overrides config)")
	transport := fs.String("mcp", "", "MCP transport: stdio, http, quic or none (overrides config)")
	checkAddr := fs.String("check-quic", "", "dial a figbridge QUIC endpoint, list its tools and exit")
	insecure := fs.Bool("insecure", false, "skip certificate verification for -check-quic")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *checkAddr != "" {
		return checkQUIC(ctx, os.Stdout, *checkAddr, *insecure)
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", *envFile, err)
	}

	cfg, err := bridge.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *transport != "" {
		cfg.MCPTransport = strings.ToLower(*transport)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// stdout carries MCP frames in stdio mode, so everything else goes to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	token, generated, weak, err := auth.ResolveToken(cfg.Token)
	if err != nil {
		return err
	}
	if weak != nil {
		logger.Warn("auth token is weak", "error", weak)
	}
	if generated {
		logger.Info("no FIGMA_MCP_TOKEN set, generated a token for this run")
	}
	auth.PrintBanner(os.Stderr, token, "http://"+cfg.Addr)

	var (
		q         *jobq.Queue
		observers []jobq.Observer
		journal   *observability.Journal
	)
	if cfg.JournalDB != "" {
		db, err := dbopen.Open(cfg.JournalDB,
			dbopen.WithMkdirAll(),
			dbopen.WithSynchronous(strings.ToUpper(cfg.Journal.Synchronous)),
			dbopen.WithBusyTimeout(int(cfg.Journal.BusyTimeout/time.Millisecond)))
		if err != nil {
			return fmt.Errorf("journal db: %w", err)
		}
		defer db.Close()
		journal, err = observability.NewJournal(db, 1024, observability.WithJournalLogger(logger))
		if err != nil {
			return err
		}
		defer journal.Close()
		observers = append(observers, journal)
		logger.Info("journal enabled", "path", cfg.JournalDB)
	}

	hcfg := bridge.HandlerConfig{Token: token}
	if cfg.Metrics {
		// The gauge callback only fires on scrape, after q is set.
		metrics, handler, err := observability.NewMetrics(ctx, func() bool { return q.Live.IsAttached() })
		if err != nil {
			return err
		}
		observers = append(observers, metrics)
		hcfg.Metrics = handler
		hcfg.Instrument = metrics.Middleware
	}

	q = jobq.New(jobq.WithAttachWindow(cfg.AttachWindow), jobq.WithObserver(observers...))

	svc := bridge.NewService(q, logger,
		bridge.WithReadTimeout(cfg.ReadTimeout),
		bridge.WithMaxBody(cfg.MaxBodyBytes))
	mcpSrv := svc.NewMCPServer(version)
	if cfg.MCPTransport == bridge.TransportHTTP {
		hcfg.MCP = bridge.StreamableHTTP(mcpSrv)
	}

	// No WriteTimeout: get_job_status and read_node_tree hold /mcp requests
	// open for up to a minute.
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           svc.Handler(hcfg),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http listening", "addr", cfg.Addr, "mcp_transport", cfg.MCPTransport, "version", version)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), cfg.Shutdown)
		defer done()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		return nil
	})

	switch cfg.MCPTransport {
	case bridge.TransportStdio:
		g.Go(func() error {
			// The producer owns our stdin; when it goes away, so do we.
			defer cancel()
			err := mcpSrv.Run(gctx, &mcp.StdioTransport{})
			if err != nil && gctx.Err() == nil {
				return fmt.Errorf("mcp stdio: %w", err)
			}
			logger.Info("mcp stdio session ended")
			return nil
		})
	case bridge.TransportQUIC:
		tlsCfg, err := quicTLS(cfg.QUIC)
		if err != nil {
			return err
		}
		qs := mcpquic.NewServer(mcpSrv, logger)
		g.Go(func() error {
			logger.Info("mcp quic listening", "addr", cfg.QUIC.Addr)
			return qs.ListenAndServe(gctx, cfg.QUIC.Addr, tlsCfg)
		})
	}

	err = g.Wait()
	if journal != nil {
		logger.Info("journal stats", "dropped_events", journal.Dropped())
	}
	logger.Info("figbridge stopped")
	return err
}

func quicTLS(cfg bridge.QUICConfig) (*tls.Config, error) {
	if cfg.CertFile != "" {
		return mcpquic.LoadTLSConfig(cfg.CertFile, cfg.KeyFile)
	}
	slog.Warn("mcp quic using a self-signed certificate; clients must skip verification")
	return mcpquic.SelfSignedTLSConfig()
}

// checkQUIC runs the MCP handshake against a QUIC listener and prints the
// tools it offers, one per line.
func checkQUIC(ctx context.Context, w io.Writer, addr string, insecure bool) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	sess, err := mcpquic.Dial(ctx, addr, mcpquic.ClientTLSConfig(insecure),
		&mcp.Implementation{Name: "figbridge-check", Version: version})
	if err != nil {
		return err
	}
	defer sess.Close()

	res, err := sess.ListTools(ctx, nil)
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}
	for _, tool := range res.Tools {
		fmt.Fprintln(w, tool.Name)
	}
	return nil
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
