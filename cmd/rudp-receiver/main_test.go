package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcarmo/go-rudp/internal/endpoint"
	"github.com/rcarmo/go-rudp/internal/logging"
	"github.com/rcarmo/go-rudp/internal/transport/rudp"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	os.Stdout = oldStdout
	_ = w.Close()

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

func TestParseFlagsWithArgs(t *testing.T) {
	tests := []struct {
		name   string
		argv   []string
		want   parsedArgs
		action string
	}{
		{
			name: "defaults",
			argv: nil,
			want: parsedArgs{},
		},
		{
			name: "trimmed values",
			argv: []string{"-host", " 127.0.0.1 ", "-port", " 6000 ", "-log-level", "debug", "-ws"},
			want: parsedArgs{host: "127.0.0.1", port: "6000", logLevel: "debug", webSocket: true},
		},
		{
			name:   "help",
			argv:   []string{"-help"},
			action: "help",
		},
		{
			name:   "version",
			argv:   []string{"-version"},
			action: "version",
		},
		{
			name:   "unknown flag shows help",
			argv:   []string{"-bogus"},
			action: "help",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, action := parseFlagsWithArgs(tt.argv)
			assert.Equal(t, tt.action, action)
			assert.Equal(t, tt.want, args)
		})
	}
}

func TestParseFlags_UsesOsArgs(t *testing.T) {
	originalArgs := os.Args
	defer func() { os.Args = originalArgs }()

	os.Args = []string{"rudp-receiver", "-port", "7000"}
	args, action := parseFlags()
	assert.Empty(t, action)
	assert.Equal(t, "7000", args.port)
}

func TestShowHelp(t *testing.T) {
	captured := captureStdout(t, showHelp)

	assert.Contains(t, captured, appName)
	assert.Contains(t, captured, "USAGE:")
	assert.Contains(t, captured, "OPTIONS:")
	assert.Contains(t, captured, "-ws")
	assert.Contains(t, captured, "ENVIRONMENT VARIABLES:")
	assert.Contains(t, captured, "EXAMPLES:")
}

func TestShowVersion(t *testing.T) {
	captured := captureStdout(t, showVersion)

	assert.Contains(t, captured, appName)
	assert.Contains(t, captured, appVersion)
	assert.Contains(t, captured, "Protocol: RUDP")
}

func TestMain_Help(t *testing.T) {
	originalArgs := os.Args
	defer func() { os.Args = originalArgs }()

	os.Args = []string{"rudp-receiver", "-help"}
	out := captureStdout(t, main)
	assert.Contains(t, out, "USAGE:")
}

func TestTimedWriter(t *testing.T) {
	var w timedWriter
	assert.Zero(t, w.elapsed())

	n, err := w.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, w.elapsed(), 5*time.Millisecond)
}

func freeUDPPort(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	port := pc.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, pc.Close())
	return strconv.Itoa(port)
}

func freeTCPPort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return strconv.Itoa(port)
}

func senderConfig() *rudp.Config {
	return &rudp.Config{
		Timeout:  200 * time.Millisecond,
		Retries:  10,
		FinDwell: 100 * time.Millisecond,
		Logger:   logging.New(io.Discard, "text"),
	}
}

func quickEnv(t *testing.T) {
	t.Setenv("RUDP_FIN_DWELL", "100ms")
	t.Setenv("RUDP_RECEIVE_TIMEOUT", "200ms")
	t.Setenv("RUDP_RECEIVE_ATTEMPTS", "25")
	t.Setenv("LOG_FORMAT", "text")
}

// pushTransfers plays the sender side of a session over tr.
func pushTransfers(t *testing.T, ctx context.Context, tr *rudp.Transport, raddr net.Addr, payload []byte, runs int) {
	t.Helper()

	conn, err := tr.Connect(ctx, raddr)
	require.NoError(t, err)

	for i := 0; i < runs; i++ {
		n, err := tr.Send(ctx, conn, payload)
		require.NoError(t, err)
		require.Equal(t, len(payload), n)
	}
	require.NoError(t, tr.Disconnect(ctx, conn))
}

func randomPayload(t *testing.T, size int) []byte {
	t.Helper()
	payload := make([]byte, size)
	_, err := rand.Read(payload)
	require.NoError(t, err)
	return payload
}

func TestServe_UDP(t *testing.T) {
	quickEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	port := freeUDPPort(t)
	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, parsedArgs{host: "127.0.0.1", port: port, logLevel: "error"}, &out)
	}()

	tr, err := rudp.Open(senderConfig())
	require.NoError(t, err)
	defer tr.Close()

	raddr, err := endpoint.ResolveUDP(net.JoinHostPort("127.0.0.1", port))
	require.NoError(t, err)

	pushTransfers(t, ctx, tr, raddr, randomPayload(t, 150000), 2)

	require.NoError(t, <-done)
	report := out.String()
	assert.Contains(t, report, "Stats: 2 runs")
	assert.Contains(t, report, "150000")
}

func TestServe_WebSocket(t *testing.T) {
	quickEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	port := freeTCPPort(t)
	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, parsedArgs{host: "127.0.0.1", port: port, logLevel: "error", webSocket: true}, &out)
	}()

	url := "ws://" + net.JoinHostPort("127.0.0.1", port) + endpoint.WebSocketPath
	var pc net.PacketConn
	require.Eventually(t, func() bool {
		var err error
		pc, err = endpoint.DialWebSocket(ctx, url)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	remote, ok := pc.(interface{ RemoteAddr() net.Addr })
	require.True(t, ok)

	tr := rudp.New(pc, senderConfig())
	defer tr.Close()

	pushTransfers(t, ctx, tr, remote.RemoteAddr(), randomPayload(t, 70000), 1)

	require.NoError(t, <-done)
	report := out.String()
	assert.Contains(t, report, "Stats: 1 runs")
	assert.Contains(t, report, "70000")
}

func TestServe_InvalidConfig(t *testing.T) {
	err := serve(context.Background(), parsedArgs{port: "0"}, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestServe_CancelledWhileListening(t *testing.T) {
	quickEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	port := freeUDPPort(t)
	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, parsedArgs{host: "127.0.0.1", port: port, logLevel: "error"}, &out)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
	assert.Empty(t, out.String())
}
