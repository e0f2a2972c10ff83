package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/camden-git/facewatch/models"
	"github.com/camden-git/facewatch/stream"
)

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return ev
}

func TestHubBroadcastsRecognitionsAndStreamState(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	conn := dial(t, h)

	h.RecognitionHook()(ctx, models.RecognitionLog{IdentityKey: "7", Label: "Ada", Known: true, Age: 30})
	ev := readEvent(t, conn)
	if ev.Type != EventRecognition || ev.Timestamp == 0 {
		t.Errorf("unexpected event %+v", ev)
	}
	data, _ := ev.Data.(map[string]interface{})
	if data["label"] != "Ada" {
		t.Errorf("data = %v", ev.Data)
	}

	h.StreamState(stream.StreamStatus{ID: "cam1", State: "running"})
	ev = readEvent(t, conn)
	data, _ = ev.Data.(map[string]interface{})
	if ev.Type != EventStreamState || data["id"] != "cam1" {
		t.Errorf("unexpected event %+v", ev)
	}
}
