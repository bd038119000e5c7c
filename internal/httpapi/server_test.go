package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"syncroom/internal/config"
	"syncroom/internal/dispatch"
	"syncroom/internal/protocol"
	"syncroom/internal/rooms"
)

type frame struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) (*httptest.Server, *rooms.Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	manager := rooms.NewManager()
	d := dispatch.New(manager)
	cfg := config.WebSocketConfig{
		PingInterval:   time.Second,
		PongWait:       5 * time.Second,
		WriteWait:      time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     16,
	}
	ts := httptest.NewServer(NewServer(ctx, manager, d, cfg).Router())
	t.Cleanup(ts.Close)
	return ts, manager
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, kind string, data interface{}) {
	t.Helper()
	if err := conn.WriteJSON(protocol.Envelope{Kind: kind, Data: data}); err != nil {
		t.Fatalf("write %s: %v", kind, err)
	}
}

// readUntil returns the first frame of the given kind.
func readUntil(t *testing.T, conn *websocket.Conn, kind string) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %s: %v", kind, err)
		}
		if f.Kind == kind {
			return f
		}
	}
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("unexpected response %d %q", resp.StatusCode, body)
	}
}

func TestGetMissingRoom(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/rooms/NOPE00")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestWebSocketRoomFlow(t *testing.T) {
	ts, manager := newTestServer(t)
	host := dial(t, ts)
	guest := dial(t, ts)

	sendEvent(t, host, protocol.KindCreateRoom, protocol.CreateRoomRequest{MediaURL: "a.mp4"})
	var created protocol.RoomCreatedPayload
	if err := json.Unmarshal(readUntil(t, host, protocol.KindRoomCreated).Data, &created); err != nil {
		t.Fatalf("decode roomCreated: %v", err)
	}

	sendEvent(t, guest, protocol.KindJoinRoom, protocol.JoinRoomRequest{RoomID: created.RoomID})
	readUntil(t, guest, protocol.KindJoinedRoom)
	readUntil(t, host, protocol.KindUserJoined)

	sendEvent(t, host, protocol.KindPlaybackAction, map[string]interface{}{"roomId": created.RoomID, "action": "play", "time": 42.5})
	var update protocol.PlaybackUpdatePayload
	if err := json.Unmarshal(readUntil(t, guest, protocol.KindPlaybackUpdate).Data, &update); err != nil {
		t.Fatalf("decode playbackUpdate: %v", err)
	}
	if update.Action != "play" || update.CurrentTime != 42.5 || update.PlaybackState != "playing" {
		t.Errorf("unexpected update %+v", update)
	}

	resp, err := http.Get(ts.URL + "/api/rooms/" + created.RoomID)
	if err != nil {
		t.Fatalf("GET room failed: %v", err)
	}
	var state protocol.RoomState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	resp.Body.Close()
	if state.PlaybackState != "playing" || len(state.Participants) != 2 {
		t.Errorf("unexpected state %+v", state)
	}

	host.Close()
	readUntil(t, guest, protocol.KindHostAssigned)

	guest.Close()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := manager.Get(created.RoomID); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("room should be deleted after everyone disconnected")
}
