package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rcarmo/go-rudp/internal/config"
	"github.com/rcarmo/go-rudp/internal/endpoint"
	"github.com/rcarmo/go-rudp/internal/logging"
	"github.com/rcarmo/go-rudp/internal/stats"
	"github.com/rcarmo/go-rudp/internal/transport/rudp"
)

const (
	appName    = "RUDP Sender"
	appVersion = "v1.0.0"
)

type parsedArgs struct {
	ip        string
	port      string
	logLevel  string
	size      int
	runs      int
	loss      float64
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
	fs := flag.NewFlagSet("rudp-sender", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	ipFlag := fs.String("ip", "127.0.0.1", "receiver address")
	portFlag := fs.String("port", "", "receiver port")
	logLevelFlag := fs.String("log-level", "", "log level (debug, info, warn, error)")
	sizeFlag := fs.Int("size", 0, "bytes per transfer")
	runsFlag := fs.Int("runs", 0, "number of transfers")
	lossFlag := fs.Float64("loss", 0, "simulated datagram loss rate in [0, 1)")
	wsFlag := fs.Bool("ws", false, "send RUDP over WebSocket instead of UDP")
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
		ip:        strings.TrimSpace(*ipFlag),
		port:      strings.TrimSpace(*portFlag),
		logLevel:  strings.TrimSpace(*logLevelFlag),
		size:      *sizeFlag,
		runs:      *runsFlag,
		loss:      *lossFlag,
		webSocket: *wsFlag,
	}, ""
}

func run(args parsedArgs) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return send(ctx, args, os.Stdout)
}

// send connects to the receiver, pushes the payload once per run and then
// disconnects. The send-side timings are reported to out.
func send(ctx context.Context, args parsedArgs, out io.Writer) error {
	cfg, err := config.LoadWithOverrides(config.LoadOptions{
		Host:         args.ip,
		Port:         args.port,
		LogLevel:     args.logLevel,
		TransferSize: args.size,
		Runs:         args.runs,
		WebSocket:    args.webSocket,
		Loss:         args.loss,
	})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	setupLogging(cfg.Logging)

	payload := make([]byte, cfg.Harness.TransferSize)
	if _, err := rand.Read(payload); err != nil {
		return fmt.Errorf("failed to generate payload: %w", err)
	}

	pc, raddr, err := dial(ctx, cfg)
	if err != nil {
		return err
	}
	if cfg.Harness.Loss > 0 {
		logging.Warn("simulating %.1f%% datagram loss", cfg.Harness.Loss*100)
		pc = endpoint.NewLossy(pc, endpoint.RandomLoss(cfg.Harness.Loss, time.Now().UnixNano()))
	}

	tr := rudp.New(pc, cfg.RUDP())
	defer tr.Close()

	conn, err := tr.Connect(ctx, raddr)
	if err != nil {
		return fmt.Errorf("connect to %v: %w", raddr, err)
	}
	logging.Info("connected to %v", raddr)

	collector := stats.NewCollector()
	for i := 1; i <= cfg.Harness.Runs; i++ {
		start := time.Now()
		n, err := tr.Send(ctx, conn, payload)
		if err != nil {
			_ = tr.Terminate(conn)
			return fmt.Errorf("run #%d: %w", i, err)
		}
		elapsed := time.Since(start)
		collector.RecordTransfer(stats.Run{
			Index:      i,
			Elapsed:    elapsed,
			Throughput: stats.Throughput(int64(n), elapsed),
			Bytes:      int64(n),
		})
		logging.Info("run #%d: sent %d bytes in %s", i, n, elapsed)
	}

	if err := tr.Disconnect(ctx, conn); err != nil {
		logging.Warn("disconnect: %v", err)
	}

	s := conn.Stats()
	logging.Info("sent %d packets, %d retransmits", s.PacketsSent, s.Retransmits)
	return collector.Report(out)
}

// dial opens the endpoint for cfg and resolves the receiver's address as
// it will appear on incoming frames.
func dial(ctx context.Context, cfg *config.Config) (net.PacketConn, net.Addr, error) {
	if cfg.Harness.WebSocket {
		url := "ws://" + net.JoinHostPort(cfg.Harness.Host, cfg.Harness.Port) + endpoint.WebSocketPath
		pc, err := endpoint.DialWebSocket(ctx, url)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", rudp.ErrTransportIO, err)
		}
		remote, ok := pc.(interface{ RemoteAddr() net.Addr })
		if !ok {
			pc.Close()
			return nil, nil, fmt.Errorf("%w: websocket endpoint has no remote address", rudp.ErrTransportIO)
		}
		return pc, remote.RemoteAddr(), nil
	}

	raddr, err := endpoint.ResolveUDP(cfg.Address())
	if err != nil {
		return nil, nil, err
	}
	pc, err := endpoint.ListenUDP(":0")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", rudp.ErrTransportIO, err)
	}
	return pc, raddr, nil
}

func setupLogging(cfg config.LoggingConfig) {
	logging.SetFormat(cfg.Format)
	logging.SetLevelFromString(cfg.Level)
}

func showHelp() {
	fmt.Println(appName)
	fmt.Println("USAGE: rudp-sender [options]")
	fmt.Println("OPTIONS:")
	fmt.Println("  -ip                 Receiver address (default 127.0.0.1)")
	fmt.Println("  -port               Receiver port (default 5060)")
	fmt.Println("  -size               Bytes per transfer (default " + strconv.Itoa(2*1024*1024) + ")")
	fmt.Println("  -runs               Number of transfers (default 1)")
	fmt.Println("  -loss               Simulated datagram loss rate in [0, 1)")
	fmt.Println("  -ws                 Send RUDP over WebSocket to " + endpoint.WebSocketPath)
	fmt.Println("  -log-level          Set log level (debug, info, warn, error)")
	fmt.Println("  -version            Show version information")
	fmt.Println("  -help               Show this help message")
	fmt.Println("ENVIRONMENT VARIABLES: RUDP_PORT, RUDP_TRANSFER_SIZE, RUDP_RUNS, RUDP_LOSS, RUDP_WEBSOCKET, RUDP_TIMEOUT, RUDP_RETRIES, LOG_LEVEL, LOG_FORMAT")
	fmt.Println("EXAMPLES: rudp-sender -ip 127.0.0.1 -port 5060 -size 2097152 -runs 5")
}

func showVersion() {
	fmt.Printf("%s %s\n", appName, appVersion)
	fmt.Println("Built with Go", time.Now().Year())
	fmt.Println("Protocol: RUDP (stop-and-wait over UDP)")
}
