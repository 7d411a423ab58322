package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu      sync.Mutex
	sent    []interface{}
	failing bool
	closed  bool
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errors.New("broken pipe")
	}
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	return 0, nil, io.EOF
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func quietManager() *Manager {
	m := NewManager()
	m.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return m
}

func TestManagerRegisterAndDisconnect(t *testing.T) {
	m := quietManager()
	a, b := &fakeConn{}, &fakeConn{}

	idA := m.Register(a)
	idB := m.Register(b)
	assert.Equal(t, []string{idA, idB}, m.IDs())

	m.Disconnect(idA)
	assert.Equal(t, []string{idB}, m.IDs())
	assert.True(t, a.closed)

	// Second disconnect is a no-op.
	m.Disconnect(idA)
	m.Disconnect("never-registered")
	assert.Equal(t, 1, m.Len())
}

func TestManagerBroadcast(t *testing.T) {
	m := quietManager()
	a, b := &fakeConn{}, &fakeConn{}
	m.Register(a)
	m.Register(b)

	require.NoError(t, m.Send(context.Background(), Log("writing_report", "Writing...")))

	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
}

func TestManagerBroadcastDropsFailingConnection(t *testing.T) {
	m := quietManager()
	good1, bad, good2 := &fakeConn{}, &fakeConn{failing: true}, &fakeConn{}
	id1 := m.Register(good1)
	m.Register(bad)
	id3 := m.Register(good2)

	err := m.Send(context.Background(), Log("k", "v"))
	require.NoError(t, err)

	assert.Equal(t, 1, good1.count())
	assert.Equal(t, 1, good2.count())
	assert.True(t, bad.closed)
	assert.Equal(t, []string{id1, id3}, m.IDs())
}

func TestManagerTargetedSend(t *testing.T) {
	m := quietManager()
	a, b := &fakeConn{}, &fakeConn{}
	m.Register(a)
	idB := m.Register(b)

	require.NoError(t, m.For(idB).Send(context.Background(), Log("k", "v")))
	assert.Equal(t, 0, a.count())
	assert.Equal(t, 1, b.count())

	err := m.For("missing").Send(context.Background(), Log("k", "v"))
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestManagerTargetedSendFailure(t *testing.T) {
	m := quietManager()
	bad := &fakeConn{failing: true}
	id := m.Register(bad)

	err := m.For(id).Send(context.Background(), Log("k", "v"))
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, 0, m.Len())
}

func TestManagerConcurrentUse(t *testing.T) {
	m := quietManager()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := m.Register(&fakeConn{})
			_ = m.Send(context.Background(), Log("k", "v"))
			m.Disconnect(id)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, m.Len())
}

func TestManagerConnectOverWebsocket(t *testing.T) {
	m := quietManager()
	registered := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _, err := m.Connect(w, r)
		if err != nil {
			return
		}
		registered <- id
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var id string
	select {
	case id = <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("connection was not registered")
	}
	assert.Equal(t, []string{id}, m.IDs())

	require.NoError(t, m.For(id).Send(context.Background(), Log("writing_report", "hello")))

	var got map[string]interface{}
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "logs", got["type"])
	assert.Equal(t, "writing_report", got["key"])
	assert.Equal(t, "hello", got["value"])
}

func TestManagerConnectRejectsPlainHTTP(t *testing.T) {
	m := quietManager()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)

	_, _, err := m.Connect(rec, req)
	assert.Error(t, err)
	assert.Equal(t, 0, m.Len())
}
