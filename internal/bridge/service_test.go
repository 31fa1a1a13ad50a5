package bridge

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/saker-ai/julius-bridge/internal/config"
	"github.com/saker-ai/julius-bridge/internal/metrics"
	"github.com/saker-ai/julius-bridge/internal/protocol"
	"github.com/saker-ai/julius-bridge/internal/session/fsm"
	"github.com/saker-ai/julius-bridge/internal/storage"
	"github.com/saker-ai/julius-bridge/pkg/julius"
)

const (
	listenBlock   = "<INPUT STATUS=\"LISTEN\" TIME=\"1700000000\"/>\n.\n"
	startRecBlock = "<INPUT STATUS=\"STARTREC\" TIME=\"1700000001\"/>\n.\n"
	recogoutBlock = "<RECOGOUT>\n" +
		"  <SHYPO RANK=\"1\" SCORE=\"-2500.5\">\n" +
		"    <WHYPO WORD=\"<s>\" CM=\"0.5\"/>\n" +
		"    <WHYPO WORD=\"Hello\" CM=\"0.90\"/>\n" +
		"    <WHYPO WORD=\"World\" CM=\"0.70\"/>\n" +
		"    <WHYPO WORD=\"</s>\" CM=\"1.0\"/>\n" +
		"  </SHYPO>\n" +
		"</RECOGOUT>\n.\n"
)

type recorder struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (r *recorder) Broadcast(event protocol.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) ofType(kind string) []protocol.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Event
	for _, event := range r.events {
		if event.Type == kind {
			out = append(out, event)
		}
	}
	return out
}

type fakePublisher struct {
	recorder
}

func (p *fakePublisher) Publish(event protocol.Event) error {
	p.Broadcast(event)
	return nil
}

// fakeJulius accepts connections on loopback and runs handle for each one.
func fakeJulius(t *testing.T, handle func(conn net.Conn)) config.JuliusConfig {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				handle(conn)
			}()
		}
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port)
	require.NoError(t, err)
	return config.JuliusConfig{
		Host:           host,
		Port:           portNum,
		Encoding:       "utf-8",
		Modelize:       true,
		PollIntervalMs: 20,
		SendTimeoutMs:  500,
		DialTimeoutMs:  500,
		ReconnectMode:  config.ReconnectAuto,
	}
}

func TestManualSessionFansOutResults(t *testing.T) {
	commands := make(chan string, 1)
	cfg := fakeJulius(t, func(conn net.Conn) {
		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil {
			return
		}
		commands <- line
		_, _ = conn.Write([]byte(listenBlock + startRecBlock + recogoutBlock))
	})
	cfg.ReconnectMode = config.ReconnectManual
	cfg.InitialCommands = []string{"STATUS"}

	store, err := storage.NewStore(t.TempDir(), "default")
	require.NoError(t, err)
	hub := &recorder{}
	bus := &fakePublisher{}
	m := metrics.New()

	svc := New(Options{Config: cfg, Broadcaster: hub, Publisher: bus, History: store, Metrics: m})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Run(ctx))

	require.Equal(t, "STATUS\n", <-commands)

	sentences := hub.ofType(protocol.EventSentence)
	require.Len(t, sentences, 1)
	require.Equal(t, "hello world", sentences[0].Text)
	require.NotEmpty(t, sentences[0].HistoryUID)
	require.Len(t, hub.ofType(protocol.EventDocument), 2)
	require.Len(t, bus.ofType(protocol.EventSentence), 1)

	records, err := store.Get(sentences[0].HistoryUID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "hello world", records[0].Text)
	require.InDelta(t, -2500.5, records[0].Score, 1e-9)
	require.Len(t, records[0].Words, 2)

	snap := svc.Machine().Snapshot()
	require.Equal(t, fsm.StateStopped, snap.State)
	require.Equal(t, 1, snap.Sessions)
	require.Equal(t, 1, snap.Recognitions)

	var phases []string
	for _, event := range hub.ofType(protocol.EventStatus) {
		phases = append(phases, event.Status.State)
	}
	require.Contains(t, phases, string(fsm.StateRecording))

	require.ErrorIs(t, svc.SendCommand(context.Background(), "STATUS"), julius.ErrNotConnected)
}

func TestAutoModeReconnects(t *testing.T) {
	accepted := make(chan struct{}, 8)
	cfg := fakeJulius(t, func(conn net.Conn) {
		accepted <- struct{}{}
	})

	svc := New(Options{Config: cfg, Backoff: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case <-accepted:
		case <-time.After(5 * time.Second):
			t.Fatalf("connection %d never arrived", i+1)
		}
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	snap := svc.Machine().Snapshot()
	require.Equal(t, fsm.StateStopped, snap.State)
	require.GreaterOrEqual(t, snap.Sessions, 2)
}

func TestManualModeReturnsConnectError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	svc := New(Options{Config: config.JuliusConfig{
		Host:          "127.0.0.1",
		Port:          port,
		DialTimeoutMs: 200,
		ReconnectMode: config.ReconnectManual,
	}})
	err = svc.Run(context.Background())
	require.ErrorIs(t, err, julius.ErrConnection)
	require.Equal(t, fsm.StateStopped, svc.Machine().State())
	require.False(t, svc.Status().Connected)
}

func TestSendCommandAppendsNewline(t *testing.T) {
	received := make(chan string, 1)
	cfg := fakeJulius(t, func(conn net.Conn) {
		line, err := bufio.NewReader(conn).ReadString('\n')
		if err == nil {
			received <- line
		}
	})

	svc := New(Options{Config: cfg})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	require.Eventually(t, func() bool { return svc.Status().Connected }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, svc.SendCommand(ctx, "PAUSE"))
	select {
	case line := <-received:
		require.Equal(t, "PAUSE\n", line)
	case <-time.After(5 * time.Second):
		t.Fatal("command never reached the server")
	}
}

func TestNextBackoff(t *testing.T) {
	delay := time.Second
	for i := 0; i < 10; i++ {
		delay = nextBackoff(delay)
	}
	if delay != maxBackoff {
		t.Fatalf("delay=%v, want %v", delay, maxBackoff)
	}
	if got := nextBackoff(2 * time.Second); got != 4*time.Second {
		t.Fatalf("nextBackoff(2s)=%v, want 4s", got)
	}
}
