package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"shopstock/internal/domain"
)

type failingBus struct{}

func (failingBus) Publish(context.Context, domain.Event) error {
	return errors.New("down")
}

func TestMultiPublishesToAllAndJoinsErrors(t *testing.T) {
	rec := &Recorder{}
	bus := Multi{failingBus{}, rec}

	err := bus.Publish(context.Background(), domain.Event{Name: domain.EventSalesChanged, Action: domain.ActionCreated, ID: "sale-1"})
	if err == nil {
		t.Fatalf("expected joined error from failing bus")
	}
	if len(rec.Events) != 1 || rec.Events[0].ID != "sale-1" {
		t.Fatalf("expected recorder to still receive the event, got %+v", rec.Events)
	}
}

func TestHubBroadcastsToWebSocketClient(t *testing.T) {
	logger := logrus.New()
	hub := NewHub("*", logger)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	event := domain.Event{Name: domain.EventInventoryChanged, Action: domain.ActionUpdated, ID: "prod-1"}
	if err := hub.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got domain.Event
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != event.Name || got.ID != "prod-1" || got.Action != domain.ActionUpdated {
		t.Fatalf("unexpected event %+v", got)
	}
}
