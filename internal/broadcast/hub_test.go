package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Mr-Dark-debug/radview/internal/engine/enginetest"
	"github.com/Mr-Dark-debug/radview/internal/event"
	"github.com/Mr-Dark-debug/radview/internal/session"
	"github.com/Mr-Dark-debug/radview/internal/tools"
)

func newController(t *testing.T) *session.Controller {
	t.Helper()
	reg, _ := tools.NewRegistryFrom(tools.DefaultDescriptors())
	fake := enginetest.New()
	ctrl := session.NewController(fake, reg, event.NewBus(fake, event.Options{}), session.Options{})
	if err := ctrl.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return ctrl
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	return msg
}

func TestSnapshotThenChanges(t *testing.T) {
	ctrl := newController(t)
	hub := NewHub(nil)
	defer hub.Attach(ctrl)()

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()
	conn := dial(t, srv)

	snap := readMessage(t, conn)
	if snap.Type != MsgSnapshot || snap.Payload.Session.State != session.Idle {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := ctrl.ToggleOrientation(); err == nil {
		t.Fatal("toggle without data should fail")
	}
	if err := ctrl.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != MsgChange || msg.Payload.Reason != session.ReasonReset {
		t.Errorf("unexpected change %+v", msg)
	}
	if msg.Payload.Tool.Kind != tools.Scroll {
		t.Errorf("tool lost in transit: %+v", msg.Payload.Tool)
	}
}

func TestSessionEndpoint(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/session")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status before publish = %d", resp.StatusCode)
	}

	hub.Publish(session.Change{Reason: session.ReasonLoad, Session: session.Session{State: session.Loading, Generation: 3}})

	resp, err = http.Get(srv.URL + "/api/session")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	var ch session.Change
	if err := json.NewDecoder(resp.Body).Decode(&ch); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if ch.Session.State != session.Loading || ch.Session.Generation != 3 {
		t.Errorf("unexpected snapshot %+v", ch)
	}
}

func TestSlowClientDropped(t *testing.T) {
	hub := NewHub(nil)
	stuck := &client{send: make(chan []byte)}
	hub.clients[stuck] = true

	hub.Publish(session.Change{Reason: session.ReasonProgress})

	if hub.ClientCount() != 0 {
		t.Errorf("slow client kept, %d clients", hub.ClientCount())
	}
	if _, ok := <-stuck.send; ok {
		t.Error("send channel not closed")
	}
}

func TestCloseDisconnectsClients(t *testing.T) {
	hub := NewHub(nil)
	hub.Publish(session.Change{Reason: session.ReasonInit})
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()
	conn := dial(t, srv)
	readMessage(t, conn)

	hub.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection still open after Close")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("%d clients after Close", hub.ClientCount())
	}
}
