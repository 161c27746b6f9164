package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newTestClient(hub *Hub, id, clinic string, topics ...string) *Client {
	return &Client{
		ID:       id,
		ClinicID: clinic,
		Topics:   topics,
		Send:     make(chan []byte, 256),
		hub:      hub,
	}
}

func TestTopics(t *testing.T) {
	if QueueTopic("centro") != "clinic/centro/queue" {
		t.Errorf("unexpected queue topic %s", QueueTopic("centro"))
	}
	if ToastTopic("centro") != "clinic/centro/toasts" {
		t.Errorf("unexpected toast topic %s", ToastTopic("centro"))
	}
}

func TestHub_RegisterClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.Register(newTestClient(hub, "client-1", "centro", QueueTopic("centro")))

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount(QueueTopic("centro")) != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.TopicCount(QueueTopic("centro")))
	}
}

func TestHub_RegisterFiltersForeignClinicTopics(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient(hub, "client-1", "centro", QueueTopic("centro"), QueueTopic("norte"))
	hub.Register(client)

	if hub.TopicCount(QueueTopic("norte")) != 0 {
		t.Fatal("client must not subscribe to another clinic's topic")
	}
	if len(client.Topics) != 1 || client.Topics[0] != QueueTopic("centro") {
		t.Fatalf("unexpected client topics: %v", client.Topics)
	}
}

func TestHub_UnregisterClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient(hub, "client-2", "centro", QueueTopic("centro"))
	hub.Register(client)
	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.TopicCount(QueueTopic("centro")) != 0 {
		t.Fatalf("expected 0 subscribers, got %d", hub.TopicCount(QueueTopic("centro")))
	}
	if _, ok := <-client.Send; ok {
		t.Fatal("expected Send channel to be closed")
	}

	// A second unregister is a no-op.
	hub.Unregister(client)
}

func TestHub_BroadcastToTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	subscriber := newTestClient(hub, "sub-1", "centro", QueueTopic("centro"))
	other := newTestClient(hub, "sub-2", "norte", QueueTopic("norte"))
	hub.Register(subscriber)
	hub.Register(other)

	hub.Broadcast(QueueTopic("centro"), Event{
		Type:          "queue.entered",
		Topic:         QueueTopic("centro"),
		ClinicID:      "centro",
		AppointmentID: "a1",
		Timestamp:     time.Now(),
	})

	select {
	case msg := <-subscriber.Send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.Type != "queue.entered" || ev.AppointmentID != "a1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("subscriber did not receive event")
	}

	select {
	case <-other.Send:
		t.Fatal("other clinic must not receive the event")
	default:
	}
}

func TestHub_BroadcastDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := &Client{ID: "slow", ClinicID: "centro", Topics: []string{QueueTopic("centro")}, Send: make(chan []byte, 1)}
	hub.Register(client)

	hub.Broadcast(QueueTopic("centro"), Event{Type: "one"})
	hub.Broadcast(QueueTopic("centro"), Event{Type: "two"})

	if len(client.Send) != 1 {
		t.Fatalf("expected 1 buffered message, got %d", len(client.Send))
	}
}

func TestHub_BroadcastToEmptyTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.Broadcast("clinic/none/queue", Event{Type: "queue.entered"})
}

func TestHub_Publish(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient(hub, "pub-1", "centro", QueueTopic("centro"))
	hub.Register(client)

	var pub EventPublisher = hub
	if err := pub.Publish(context.Background(), Event{Type: "queue.removed", Topic: QueueTopic("centro")}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(client.Send) != 1 {
		t.Fatalf("expected 1 message, got %d", len(client.Send))
	}
}

func TestHub_SubscribeAndUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient(hub, "dyn-1", "centro")
	hub.Register(client)

	hub.Subscribe(client, []string{QueueTopic("centro"), ToastTopic("centro"), QueueTopic("centro")})
	if len(client.Topics) != 2 {
		t.Fatalf("expected 2 topics without duplicates, got %v", client.Topics)
	}
	if hub.TopicCount(ToastTopic("centro")) != 1 {
		t.Fatalf("expected 1 toast subscriber, got %d", hub.TopicCount(ToastTopic("centro")))
	}

	hub.Unsubscribe(client, []string{ToastTopic("centro")})
	if hub.TopicCount(ToastTopic("centro")) != 0 {
		t.Fatal("expected toast topic to be empty")
	}
	if len(client.Topics) != 1 {
		t.Fatalf("expected 1 topic remaining, got %v", client.Topics)
	}
}

func TestHub_ProcessMessage(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient(hub, "proc-1", "centro")
	hub.Register(client)

	var msg ClientMessage
	json.Unmarshal([]byte(`{"action":"subscribe","topics":["clinic/centro/toasts","clinic/norte/toasts"]}`), &msg)
	hub.ProcessMessage(client, msg)
	if hub.TopicCount(ToastTopic("centro")) != 1 || hub.TopicCount(ToastTopic("norte")) != 0 {
		t.Fatal("unexpected subscriptions after subscribe message")
	}

	json.Unmarshal([]byte(`{"action":"unsubscribe","topics":["clinic/centro/toasts"]}`), &msg)
	hub.ProcessMessage(client, msg)
	if hub.TopicCount(ToastTopic("centro")) != 0 {
		t.Fatal("expected unsubscribe to take effect")
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unknown", Topics: []string{ToastTopic("centro")}})
	if hub.TopicCount(ToastTopic("centro")) != 0 {
		t.Fatal("unknown actions must be ignored")
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newTestClient(hub, "c", "centro", QueueTopic("centro"))
			hub.Register(c)
			hub.Broadcast(QueueTopic("centro"), Event{Type: "queue.entered"})
			hub.Unregister(c)
		}()
	}
	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newTestClient(hub, "close-1", "centro", QueueTopic("centro"))
	hub.Register(client)

	hub.Close()
	if hub.ClientCount() != 0 || hub.TopicCount(QueueTopic("centro")) != 0 {
		t.Fatal("expected hub to be empty after Close")
	}
	if _, ok := <-client.Send; ok {
		t.Fatal("expected Send channel to be closed")
	}
	hub.Unregister(client)
}

func TestHandler_HandleConnectRequiresWebSocket(t *testing.T) {
	handler := NewHandler(NewHub(zerolog.Nop()))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := handler.HandleConnect(c)
	if err == nil && rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("expected upgrade to fail for non-websocket request")
	}
}

func TestHandler_FullUpgradeWithDialer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	handler := NewHandler(hub)

	e := echo.New()
	handler.RegisterRoutes(e)

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?topics=" + ToastTopic("default")
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount(QueueTopic("default")) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.TopicCount(QueueTopic("default")) != 1 {
		t.Fatal("expected connection to subscribe to its clinic queue")
	}
	if hub.TopicCount(ToastTopic("default")) != 1 {
		t.Fatal("expected extra topic from query to be subscribed")
	}

	hub.Broadcast(QueueTopic("default"), Event{
		Type:          "queue.entered",
		Topic:         QueueTopic("default"),
		ClinicID:      "default",
		AppointmentID: "a-ws",
		Timestamp:     time.Now(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Type != "queue.entered" || received.AppointmentID != "a-ws" {
		t.Fatalf("unexpected event: %+v", received)
	}
}
