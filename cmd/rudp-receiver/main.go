package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rcarmo/go-rudp/internal/config"
	"github.com/rcarmo/go-rudp/internal/endpoint"
	"github.com/rcarmo/go-rudp/internal/logging"
	"github.com/rcarmo/go-rudp/internal/stats"
	"github.com/rcarmo/go-rudp/internal/transport/rudp"
)

const (
	appName    = "RUDP Receiver"
	appVersion = "v1.0.0"
)

type parsedArgs struct {
	host      string
	port      string
	logLevel  string
	webSocket bool
}

func main() {
	args, action := parseFlags()

	switch action {
	case "help":
		showHelp()
		return
	case "version":
		showVersion()
		return
	}

	if err := run(args); err != nil {
		logging.Error("%v", err)
		os.Exit(1)
	}
}

func parseFlags() (parsedArgs, string) {
	return parseFlagsWithArgs(os.Args[1:])
}

func parseFlagsWithArgs(argv []string) (parsedArgs, string) {
	fs := flag.NewFlagSet("rudp-receiver", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	hostFlag := fs.String("host", "", "listen host")
	portFlag := fs.String("port", "", "listen port")
	logLevelFlag := fs.String("log-level", "", "log level (debug, info, warn, error)")
	wsFlag := fs.Bool("ws", false, "serve RUDP over WebSocket instead of UDP")
	helpFlag := fs.Bool("help", false, "show help")
	versionFlag := fs.Bool("version", false, "show version")

	if err := fs.Parse(argv); err != nil {
		return parsedArgs{}, "help"
	}

	if *helpFlag {
		return parsedArgs{}, "help"
	}
	if *versionFlag {
		return parsedArgs{}, "version"
	}

	return parsedArgs{
		host:      strings.TrimSpace(*hostFlag),
		port:      strings.TrimSpace(*portFlag),
		logLevel:  strings.TrimSpace(*logLevelFlag),
		webSocket: *wsFlag,
	}, ""
}

func run(args parsedArgs) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, args, os.Stdout)
}

// serve receives one session and writes its report to out.
func serve(ctx context.Context, args parsedArgs, out io.Writer) error {
	cfg, err := config.LoadWithOverrides(config.LoadOptions{
		Host:      args.host,
		Port:      args.port,
		LogLevel:  args.logLevel,
		WebSocket: args.webSocket,
	})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	setupLogging(cfg.Logging)

	if cfg.Harness.WebSocket {
		return serveWebSocket(ctx, cfg, out)
	}

	tr, err := rudp.Listen(cfg.Address(), cfg.RUDP())
	if err != nil {
		return err
	}
	defer tr.Close()

	logging.Info("listening on udp %v", tr.LocalAddr())
	return receiveSession(ctx, tr, out)
}

func setupLogging(cfg config.LoggingConfig) {
	logging.SetFormat(cfg.Format)
	logging.SetLevelFromString(cfg.Level)
}

// serveWebSocket relays RUDP frames over the first WebSocket client and
// returns once that session ends.
func serveWebSocket(ctx context.Context, cfg *config.Config, out io.Writer) error {
	ln, err := net.Listen("tcp", cfg.Address())
	if err != nil {
		return fmt.Errorf("%w: %w", rudp.ErrTransportIO, err)
	}

	result := make(chan error, 1)
	var once sync.Once

	mux := http.NewServeMux()
	mux.Handle(endpoint.WebSocketPath, endpoint.WebSocketHandler(func(pc net.PacketConn) {
		served := false
		once.Do(func() {
			served = true
			tr := rudp.New(pc, cfg.RUDP())
			defer tr.Close()
			result <- receiveSession(ctx, tr, out)
		})
		if !served {
			logging.Warn("rejecting extra websocket client")
		}
	}))

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("websocket server: %v", err)
		}
	}()
	defer server.Close()

	logging.Info("listening on ws://%v%s", ln.Addr(), endpoint.WebSocketPath)

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return nil
	}
}

// receiveSession accepts one connection and records a run per completed
// transfer until the sender disconnects.
func receiveSession(ctx context.Context, tr *rudp.Transport, out io.Writer) error {
	conn, err := tr.Accept(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("accept: %w", err)
	}
	logging.Info("connection from %v", conn.RemoteAddr())

	collector := stats.NewCollector()
	index := 1
	for {
		tw := &timedWriter{}
		n, err := tr.ReceiveTransfer(ctx, conn, tw)
		switch {
		case err == nil:
			elapsed := tw.elapsed()
			collector.RecordTransfer(stats.Run{
				Index:      index,
				Elapsed:    elapsed,
				Throughput: stats.Throughput(n, elapsed),
				Bytes:      n,
			})
			logging.Info("run #%d: received %d bytes in %s", index, n, elapsed)
			index++
		case errors.Is(err, io.EOF):
			logging.Info("sender closed the connection")
			return collector.Report(out)
		case errors.Is(err, rudp.ErrTimeout):
			if n > 0 {
				logging.Warn("discarding partial transfer of %d bytes", n)
			}
		case ctx.Err() != nil:
			return collector.Report(out)
		default:
			_ = collector.Report(out)
			return err
		}
	}
}

// timedWriter discards a transfer while timing it from the first chunk.
type timedWriter struct {
	first time.Time
}

func (w *timedWriter) Write(p []byte) (int, error) {
	if w.first.IsZero() {
		w.first = time.Now()
	}
	return len(p), nil
}

func (w *timedWriter) elapsed() time.Duration {
	if w.first.IsZero() {
		return 0
	}
	return time.Since(w.first)
}

func showHelp() {
	fmt.Println(appName)
	fmt.Println("USAGE: rudp-receiver [options]")
	fmt.Println("OPTIONS:")
	fmt.Println("  -host               Set listen host (default 0.0.0.0)")
	fmt.Println("  -port               Set listen port (default 5060)")
	fmt.Println("  -ws                 Accept RUDP over WebSocket at " + endpoint.WebSocketPath)
	fmt.Println("  -log-level          Set log level (debug, info, warn, error)")
	fmt.Println("  -version            Show version information")
	fmt.Println("  -help               Show this help message")
	fmt.Println("ENVIRONMENT VARIABLES: RUDP_HOST, RUDP_PORT, RUDP_WEBSOCKET, RUDP_TIMEOUT, RUDP_RETRIES, RUDP_RECEIVE_TIMEOUT, RUDP_RECEIVE_ATTEMPTS, RUDP_FIN_DWELL, LOG_LEVEL, LOG_FORMAT")
	fmt.Println("EXAMPLES: rudp-receiver -port 5060")
}

func showVersion() {
	fmt.Printf("%s %s\n", appName, appVersion)
	fmt.Println("Built with Go", time.Now().Year())
	fmt.Println("Protocol: RUDP (stop-and-wait over UDP)")
}
