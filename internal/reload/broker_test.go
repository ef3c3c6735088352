package reload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/devloop/internal/errors"
	"github.com/conneroisu/devloop/internal/logging"
	"github.com/conneroisu/devloop/internal/monitoring"
	"github.com/conneroisu/devloop/internal/types"
)

type fakeConn struct {
	id   string
	fail bool

	mu     sync.Mutex
	frames []Message
	closed bool
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Deliver(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail || f.closed {
		return fmt.Errorf("connection reset by peer")
	}
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return err
	}
	f.frames = append(f.frames, msg)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.frames...)
}

func TestBroadcastStylePatch(t *testing.T) {
	b := NewBroker(logging.Nop(), nil)
	a, c := &fakeConn{id: "a"}, &fakeConn{id: "c"}
	b.Add(a)
	b.Add(c)

	n := b.Broadcast(context.Background(), types.NewChangeEvent(types.StylePatch, "style"))
	assert.Equal(t, 2, n)

	for _, conn := range []*fakeConn{a, c} {
		msgs := conn.messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, CommandReload, msgs[0].Command)
		assert.Equal(t, "index.css", msgs[0].Path)
		assert.True(t, msgs[0].LiveCSS)
		assert.Equal(t, "style", msgs[0].Group)
	}
}

func TestBroadcastFullReload(t *testing.T) {
	b := NewBroker(logging.Nop(), nil)
	conn := &fakeConn{id: "a"}
	b.Add(conn)

	b.Broadcast(context.Background(), types.NewChangeEvent(types.FullReload, "markup"))

	msgs := conn.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "index.html", msgs[0].Path)
	assert.False(t, msgs[0].LiveCSS)
}

func TestBroadcastDropsFailedConnections(t *testing.T) {
	metrics := monitoring.NewMetrics()
	b := NewBroker(logging.Nop(), metrics)

	good1, bad, good2 := &fakeConn{id: "1"}, &fakeConn{id: "2", fail: true}, &fakeConn{id: "3"}
	b.Add(good1)
	b.Add(bad)
	b.Add(good2)

	var err error
	assert.NotPanics(t, func() {
		err = b.Signal(context.Background(), types.NewChangeEvent(types.FullReload, "script"))
	})
	require.NoError(t, err)

	assert.Len(t, good1.messages(), 1)
	assert.Len(t, good2.messages(), 1)
	assert.True(t, bad.closed)
	assert.Equal(t, []string{"1", "3"}, b.Clients())

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "devloop_dropped_deliveries_total 1")
}

func TestBroadcastConcurrentMembershipChanges(t *testing.T) {
	b := NewBroker(logging.Nop(), nil)
	for i := 0; i < 20; i++ {
		b.Add(&fakeConn{id: fmt.Sprintf("stable-%d", i)})
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("churn-%d", i)
			b.Add(&fakeConn{id: id, fail: i%2 == 0})
			b.Remove(id)
		}()
		go func() {
			defer wg.Done()
			b.Broadcast(context.Background(), types.NewChangeEvent(types.FullReload, "script"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, b.Count())
}

func TestChangedEndpoint(t *testing.T) {
	b := NewBroker(logging.Nop(), nil)
	conn := &fakeConn{id: "a"}
	b.Add(conn)

	srv := httptest.NewServer(b.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/changed?files=index.css")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/changed", "application/json", strings.NewReader(`{"files":["index.html"]}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	msgs := conn.messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].LiveCSS)
	assert.Equal(t, "index.css", msgs[0].Path)
	assert.False(t, msgs[1].LiveCSS)
	assert.Equal(t, "index.html", msgs[1].Path)

	resp, err = http.Get(srv.URL + "/changed")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestScriptAndPreflight(t *testing.T) {
	b := NewBroker(logging.Nop(), nil)
	srv := httptest.NewServer(b.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + ScriptPath)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "/livereload")
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/changed", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestWebSocketClientReceivesReload(t *testing.T) {
	b := NewBroker(logging.Nop(), nil)
	srv := httptest.NewServer(b.Routes())
	defer srv.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/livereload", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var hello Message
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &hello))
	assert.Equal(t, CommandHello, hello.Command)

	require.Eventually(t, func() bool { return b.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	b.Broadcast(ctx, types.NewChangeEvent(types.StylePatch, "style"))

	var reload Message
	_, data, err = conn.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &reload))
	assert.Equal(t, CommandReload, reload.Command)
	assert.True(t, reload.LiveCSS)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return b.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHTTPSignaler(t *testing.T) {
	b := NewBroker(logging.Nop(), nil)
	conn := &fakeConn{id: "a"}
	b.Add(conn)

	srv := httptest.NewServer(b.Routes())
	defer srv.Close()

	s := NewHTTPSignaler(srv.URL)
	require.NoError(t, s.Signal(context.Background(), types.NewChangeEvent(types.StylePatch, "style")))

	msgs := conn.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "index.css", msgs[0].Path)
	assert.True(t, msgs[0].LiveCSS)

	srv.Close()
	assert.Error(t, s.Signal(context.Background(), types.NewChangeEvent(types.FullReload, "")))
}

func TestHTTPSignalerFollowsContext(t *testing.T) {
	stalled := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(stalled)
		<-r.Context().Done()
	}))
	defer srv.Close()

	s := NewHTTPSignaler(srv.URL)
	assert.Zero(t, s.client.Timeout)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Signal(ctx, types.NewChangeEvent(types.FullReload, "markup")) }()

	<-stalled
	select {
	case err := <-done:
		t.Fatalf("signal returned before cancellation: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindBroadcast))
	case <-time.After(5 * time.Second):
		t.Fatal("signal ignored cancellation")
	}
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, `<script src="//localhost:35729/livereload.js?snipver=1"></script>`, Snippet("localhost", 35729))
	assert.Contains(t, Snippet("0.0.0.0", 35729), "location.hostname")
}
