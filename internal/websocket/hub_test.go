package websocket

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/prappser/prappser_media/internal/thumbnail"
)

func receive(t *testing.T, c *Client) any {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func startHub(t *testing.T, status StatusSource) *Hub {
	t.Helper()
	hub := NewHub(status)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func TestHub_DeliversOnlyToAssetSubscribers(t *testing.T) {
	// given
	hub := startHub(t, nil)
	watcher := NewClient(hub, nil)
	bystander := NewClient(hub, nil)
	hub.Register(watcher)
	hub.Register(bystander)
	require.NoError(t, watcher.Subscribe("a1"))
	require.NoError(t, bystander.Subscribe("a2"))

	// when
	hub.JobUpdated(&thumbnail.Job{ID: "j1", AssetID: "a1", Status: thumbnail.StatusRunning})

	// then
	msg, ok := receive(t, watcher).(*JobMessage)
	require.True(t, ok)
	assert.Equal(t, "j1", msg.Job.ID)
	assert.Equal(t, thumbnail.StatusRunning, msg.Job.Status)
	assert.Empty(t, bystander.send)
}

func TestHub_UnregisterDropsSubscriptions(t *testing.T) {
	// given
	hub := startHub(t, nil)
	client := NewClient(hub, nil)
	hub.Register(client)
	require.NoError(t, client.Subscribe("a1"))
	require.NoError(t, client.Subscribe("a2"))

	// when
	hub.Unregister(client)

	// then
	_, open := <-client.send
	assert.False(t, open)
	clients, subscriptions := hub.GetStats()
	assert.Zero(t, clients)
	assert.Zero(t, subscriptions)
	assert.False(t, client.trySend(&OutgoingMessage{Type: MessageTypePong}))
}

func TestClient_RejectsInvalidAssetIDs(t *testing.T) {
	// given
	hub := startHub(t, nil)
	client := NewClient(hub, nil)
	hub.Register(client)

	// when
	client.handleMessage(&IncomingMessage{Type: MessageTypeSubscribe, AssetID: "../a1"})

	// then
	msg, ok := receive(t, client).(*OutgoingMessage)
	require.True(t, ok)
	assert.Equal(t, MessageTypeError, msg.Type)
	assert.False(t, client.IsSubscribed("../a1"))
}

func TestHandler_StreamsJobUpdatesOverTheWire(t *testing.T) {
	// given
	queue := thumbnail.NewQueue(thumbnail.NewMemoryRepository(), thumbnail.DefaultConfig())
	_, _, err := queue.Enqueue(context.Background(), "a1", "tenants/t1/projects/p1/a1/source.mp4")
	require.NoError(t, err)
	hub := startHub(t, queue)
	queue.AddNotifier(hub)

	ln := fasthttputil.NewInmemoryListener()
	server := &fasthttp.Server{Handler: NewHandler(hub, nil).HandleFastHTTP}
	go server.Serve(ln) //nolint:errcheck
	t.Cleanup(func() { server.Shutdown() })

	dialer := websocket.Dialer{NetDial: func(_, _ string) (net.Conn, error) { return ln.Dial() }}
	conn, _, err := dialer.Dial("ws://media.test/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() map[string]any {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	// when
	connected := read()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe","assetId":"a1"}`)))
	subscribed := read()
	snapshot := read()
	hub.JobUpdated(&thumbnail.Job{ID: "j-done", AssetID: "a1", Status: thumbnail.StatusDone})
	update := read()

	// then
	assert.Equal(t, "connected", connected["type"])
	assert.Equal(t, "subscribed", subscribed["type"])
	assert.Equal(t, "job", snapshot["type"])
	assert.Equal(t, "pending", snapshot["job"].(map[string]any)["status"])
	assert.Equal(t, "job", update["type"])
	assert.Equal(t, "j-done", update["job"].(map[string]any)["id"])
}

func TestOriginAllowed(t *testing.T) {
	assert.True(t, originAllowed("", []string{"https://app.example"}))
	assert.True(t, originAllowed("https://x", nil))
	assert.True(t, originAllowed("https://x", []string{"*"}))
	assert.True(t, originAllowed("https://app.example", []string{"https://app.example"}))
	assert.False(t, originAllowed("https://evil.example", []string{"https://app.example"}))
}
