package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockClient(id string) *Client {
	return &Client{
		ID:            id,
		send:          make(chan []byte, 16),
		lastHeartbeat: time.Now(),
	}
}

func receive(t *testing.T, client *Client) Message {
	t.Helper()
	select {
	case data := <-client.send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatalf("client %s received nothing", client.ID)
		return Message{}
	}
}

func assertNothing(t *testing.T, client *Client) {
	t.Helper()
	select {
	case data := <-client.send:
		t.Fatalf("client %s got unexpected message %s", client.ID, data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNewHub(t *testing.T) {
	hub := NewHub(context.Background(), nil)

	assert.NotNil(t, hub.logger)
	assert.NotNil(t, hub.clients)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHubClientRegistration(t *testing.T) {
	hub := NewHub(context.Background(), nil)
	go hub.Run()
	defer hub.Shutdown()

	client := newMockClient("viewer")
	hub.register <- client
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.unregister <- client
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
	assert.True(t, client.closed.Load())

	_, open := <-client.send
	assert.False(t, open, "send channel is closed on unregister")
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(context.Background(), nil)
	go hub.Run()
	defer hub.Shutdown()

	a, b := newMockClient("a"), newMockClient("b")
	hub.register <- a
	hub.register <- b
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	hub.Broadcast(&Message{Type: "scene_converted", Payload: map[string]string{"scene": "arm"}})

	for _, client := range []*Client{a, b} {
		msg := receive(t, client)
		assert.Equal(t, "scene_converted", msg.Type)
		assert.JSONEq(t, `{"scene":"arm"}`, string(msg.Data))
	}
}

func TestHubBroadcastTopic(t *testing.T) {
	hub := NewHub(context.Background(), nil)
	go hub.Run()
	defer hub.Shutdown()

	all := newMockClient("all")
	gripper := newMockClient("gripper")
	gripper.Subscribe("Gripper")

	hub.register <- all
	hub.register <- gripper
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	hub.BroadcastTopic("Base", &Message{Type: "telemetry"})
	assert.Equal(t, "telemetry", receive(t, all).Type)
	assertNothing(t, gripper)

	hub.BroadcastTopic("Gripper", &Message{Type: "telemetry"})
	assert.Equal(t, "telemetry", receive(t, all).Type)
	assert.Equal(t, "telemetry", receive(t, gripper).Type)
}

func TestHubOnConnect(t *testing.T) {
	hub := NewHub(context.Background(), nil)
	hub.OnConnect(func(client *Client) {
		client.SendJSON("hello", map[string]string{"id": client.ID})
	})
	go hub.Run()
	defer hub.Shutdown()

	client := newMockClient("viewer")
	hub.register <- client

	msg := receive(t, client)
	assert.Equal(t, "hello", msg.Type)
	assert.JSONEq(t, `{"id":"viewer"}`, string(msg.Data))
}

func TestHubHandleMessage(t *testing.T) {
	hub := NewHub(context.Background(), nil)

	var got string
	hub.RegisterHandler("note", func(ctx context.Context, client *Client, message *Message) error {
		got = string(message.Data)
		return nil
	})

	client := newMockClient("viewer")
	require.NoError(t, hub.HandleMessage(context.Background(), client, []byte(`{"type":"note","data":"hi"}`)))
	assert.Equal(t, `"hi"`, got)

	assert.NoError(t, hub.HandleMessage(context.Background(), client, []byte(`{"type":"unknown"}`)))
	assert.Error(t, hub.HandleMessage(context.Background(), client, []byte(`not json`)))
}

func TestHubShutdown(t *testing.T) {
	hub := NewHub(context.Background(), nil)
	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	client := newMockClient("viewer")
	hub.register <- client
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.Shutdown()
	hub.Shutdown()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, 0, hub.ClientCount())
	assert.True(t, client.closed.Load())
}

func TestHubStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(ctx, nil)
	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
