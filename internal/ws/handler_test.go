package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/saker-ai/julius-bridge/internal/config"
	"github.com/saker-ai/julius-bridge/internal/protocol"
	"github.com/saker-ai/julius-bridge/internal/storage"
	"github.com/saker-ai/julius-bridge/pkg/julius"
)

type fakeBackend struct {
	mu       sync.Mutex
	commands []string
	err      error
}

func (b *fakeBackend) SendCommand(_ context.Context, command string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.commands = append(b.commands, command)
	return nil
}

func (b *fakeBackend) Status() protocol.Status {
	return protocol.Status{State: "listening", Connected: true, JuliusAddr: "localhost:10500"}
}

func (b *fakeBackend) sent() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.commands...)
}

type fakePresets map[string]string

func (p fakePresets) Lookup(name string) (config.Preset, error) {
	command, ok := p[name]
	if !ok {
		return config.Preset{}, config.ErrPresetNotFound
	}
	return config.Preset{Name: name, Command: command}, nil
}

func dial(t *testing.T, h *Handler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.Handle))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	var hello protocol.Event
	require.NoError(t, readEvent(conn, &hello))
	require.Equal(t, protocol.EventStatus, hello.Type)
	return conn
}

func readEvent(conn *websocket.Conn, event *protocol.Event) error {
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn.ReadJSON(event)
}

func TestSendCommandForwardsToBackend(t *testing.T) {
	backend := &fakeBackend{}
	conn := dial(t, NewHandler(nil, backend, nil, fakePresets{"status": "STATUS"}))

	require.NoError(t, conn.WriteJSON(protocol.ClientCommand{Type: protocol.TypeSendCommand, Command: "PAUSE", RequestID: "r1"}))
	var event protocol.Event
	require.NoError(t, readEvent(conn, &event))
	require.Equal(t, protocol.EventCommandResult, event.Type)
	require.Equal(t, "r1", event.RequestID)

	require.NoError(t, conn.WriteJSON(protocol.ClientCommand{Type: protocol.TypeSendCommand, Preset: "status"}))
	require.NoError(t, readEvent(conn, &event))
	require.Equal(t, protocol.EventCommandResult, event.Type)
	require.Equal(t, []string{"PAUSE", "STATUS"}, backend.sent())

	require.NoError(t, conn.WriteJSON(protocol.ClientCommand{Type: protocol.TypeSendCommand, Preset: "missing"}))
	require.NoError(t, readEvent(conn, &event))
	require.Equal(t, protocol.EventError, event.Type)
}

func TestSendCommandReportsBackendError(t *testing.T) {
	backend := &fakeBackend{err: julius.ErrNotConnected}
	conn := dial(t, NewHandler(nil, backend, nil, nil))

	require.NoError(t, conn.WriteJSON(protocol.ClientCommand{Type: protocol.TypeSendCommand, Command: "STATUS"}))
	var event protocol.Event
	require.NoError(t, readEvent(conn, &event))
	require.Equal(t, protocol.EventError, event.Type)
	require.Contains(t, event.Message, "not connected")
}

func TestFetchStatusAndHeartbeat(t *testing.T) {
	conn := dial(t, NewHandler(nil, &fakeBackend{}, nil, nil))

	require.NoError(t, conn.WriteJSON(protocol.ClientCommand{Type: "no-such-type"}))
	require.NoError(t, conn.WriteJSON(protocol.ClientCommand{Type: protocol.TypeFetchStatus, RequestID: "s"}))
	var event protocol.Event
	require.NoError(t, readEvent(conn, &event))
	require.Equal(t, protocol.EventStatus, event.Type)
	require.Equal(t, "s", event.RequestID)
	require.Equal(t, "listening", event.Status.State)

	require.NoError(t, conn.WriteJSON(protocol.ClientCommand{Type: protocol.TypeHeartbeat}))
	require.NoError(t, readEvent(conn, &event))
	require.Equal(t, protocol.EventHeartbeatAck, event.Type)
}

func TestHistoryRequests(t *testing.T) {
	store, err := storage.NewStore(t.TempDir(), "default")
	require.NoError(t, err)
	uid, err := store.Create(storage.Record{})
	require.NoError(t, err)
	require.NoError(t, store.Append(uid, storage.Record{Kind: storage.KindSentence, Text: "hello"}))

	conn := dial(t, NewHandler(nil, &fakeBackend{}, store, nil))

	require.NoError(t, conn.WriteJSON(protocol.ClientCommand{Type: protocol.TypeFetchHistoryList}))
	var event protocol.Event
	require.NoError(t, readEvent(conn, &event))
	require.Equal(t, protocol.EventHistoryList, event.Type)
	require.Len(t, event.Data, 1)

	require.NoError(t, conn.WriteJSON(protocol.ClientCommand{Type: protocol.TypeFetchHistory, HistoryUID: uid}))
	require.NoError(t, readEvent(conn, &event))
	require.Equal(t, protocol.EventHistory, event.Type)
	require.Equal(t, uid, event.HistoryUID)

	require.NoError(t, conn.WriteJSON(protocol.ClientCommand{Type: protocol.TypeFetchHistory, HistoryUID: "missing"}))
	require.NoError(t, readEvent(conn, &event))
	require.Equal(t, protocol.EventError, event.Type)
}

func TestBroadcastReachesSessionsInOrder(t *testing.T) {
	h := NewHandler(nil, &fakeBackend{}, nil, nil)
	conn := dial(t, h)
	require.Eventually(t, func() bool { return h.SessionCount() == 1 }, time.Second, 10*time.Millisecond)

	for _, text := range []string{"one", "two", "three"} {
		h.Broadcast(protocol.Event{Type: protocol.EventSentence, Text: text})
	}
	for _, want := range []string{"one", "two", "three"} {
		var event protocol.Event
		require.NoError(t, readEvent(conn, &event))
		require.Equal(t, want, event.Text)
	}

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return h.SessionCount() == 0 }, time.Second, 10*time.Millisecond)
}
