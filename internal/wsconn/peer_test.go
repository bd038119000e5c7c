package wsconn

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"syncroom/internal/config"
	"syncroom/internal/dispatch"
	"syncroom/internal/protocol"
	"syncroom/internal/rooms"
)

var errSocketClosed = errors.New("socket closed")

type fakeSocket struct {
	in    chan []byte
	out   chan []byte
	pings chan struct{}

	mu           sync.Mutex
	readDeadline time.Time
	readLimit    int64
	pongHandler  func(string) error

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		in:     make(chan []byte, 8),
		out:    make(chan []byte, 8),
		pings:  make(chan struct{}, 8),
		closed: make(chan struct{}),
	}
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-s.in:
		if !ok {
			return 0, nil, errSocketClosed
		}
		return websocket.TextMessage, data, nil
	case <-s.closed:
		return 0, nil, errSocketClosed
	}
}

func (s *fakeSocket) WriteMessage(messageType int, data []byte) error {
	if messageType == websocket.PingMessage {
		select {
		case s.pings <- struct{}{}:
		default:
		}
		return nil
	}
	if messageType != websocket.TextMessage {
		return nil
	}
	select {
	case s.out <- data:
		return nil
	case <-s.closed:
		return errSocketClosed
	}
}

func (s *fakeSocket) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	s.readDeadline = t
	s.mu.Unlock()
	return nil
}

func (s *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func (s *fakeSocket) SetReadLimit(limit int64) {
	s.mu.Lock()
	s.readLimit = limit
	s.mu.Unlock()
}

func (s *fakeSocket) SetPongHandler(h func(string) error) {
	s.mu.Lock()
	s.pongHandler = h
	s.mu.Unlock()
}

func (s *fakeSocket) state() (time.Time, int64, func(string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readDeadline, s.readLimit, s.pongHandler
}

func (s *fakeSocket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func testConfig() config.WebSocketConfig {
	return config.WebSocketConfig{SendBuffer: 8}
}

func serve(ctx context.Context, p *Peer, d *dispatch.Dispatcher) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		Serve(ctx, p, d)
		close(done)
	}()
	return done
}

func waitClosed(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServeRoutesEventsAndDetaches(t *testing.T) {
	manager := rooms.NewManager()
	d := dispatch.New(manager)
	sock := newFakeSocket()
	peer := NewPeer("p1", sock, testConfig())

	done := serve(context.Background(), peer, d)
	sock.in <- []byte(`{"kind":"createRoom","data":{"mediaUrl":"a.mp4"}}`)

	var env struct {
		Kind string                      `json:"kind"`
		Data protocol.RoomCreatedPayload `json:"data"`
	}
	select {
	case raw := <-sock.out:
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("bad frame %s: %v", raw, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no roomCreated frame")
	}
	if env.Kind != protocol.KindRoomCreated || env.Data.MediaURL != "a.mp4" {
		t.Fatalf("unexpected frame %+v", env)
	}
	if _, ok := manager.Get(env.Data.RoomID); !ok {
		t.Fatal("room should exist while connected")
	}

	close(sock.in)
	waitClosed(t, done)

	if _, ok := manager.Get(env.Data.RoomID); ok {
		t.Error("room should be deleted after its only member disconnected")
	}
	if stats := d.Stats(); stats.Connections != 0 {
		t.Errorf("peer still attached: %+v", stats)
	}
}

func TestServeSkipsMalformedFrames(t *testing.T) {
	d := dispatch.New(rooms.NewManager())
	sock := newFakeSocket()
	peer := NewPeer("p1", sock, testConfig())

	done := serve(context.Background(), peer, d)
	sock.in <- []byte(`not json`)
	sock.in <- []byte(`{"kind":"joinRoom","data":{"roomId":"NOPE00"}}`)

	select {
	case raw := <-sock.out:
		var env protocol.InboundEnvelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Kind != protocol.KindRoomNotFound {
			t.Errorf("expected roomNotFound, got %s", raw)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reply after malformed frame")
	}

	close(sock.in)
	waitClosed(t, done)
}

func TestServeStopsOnContextCancel(t *testing.T) {
	d := dispatch.New(rooms.NewManager())
	peer := NewPeer("p1", newFakeSocket(), testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := serve(ctx, peer, d)
	cancel()
	waitClosed(t, done)
}

func TestSendClosesSlowPeer(t *testing.T) {
	sock := newFakeSocket()
	peer := NewPeer("slow", sock, config.WebSocketConfig{SendBuffer: 1})

	if err := peer.Send(protocol.Envelope{Kind: protocol.KindHostAssigned, Data: protocol.Empty{}}); err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	if err := peer.Send(protocol.Envelope{Kind: protocol.KindHostAssigned, Data: protocol.Empty{}}); !errors.Is(err, ErrSendBufferFull) {
		t.Fatalf("expected ErrSendBufferFull, got %v", err)
	}

	select {
	case <-peer.Done():
	default:
		t.Fatal("slow peer should be closed")
	}
	select {
	case <-sock.closed:
	default:
		t.Error("socket should be closed with the peer")
	}
	if err := peer.Send(protocol.Envelope{Kind: protocol.KindHostAssigned}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestServeKeepalive(t *testing.T) {
	d := dispatch.New(rooms.NewManager())
	sock := newFakeSocket()
	cfg := config.WebSocketConfig{
		PingInterval:   20 * time.Millisecond,
		PongWait:       time.Second,
		MaxMessageSize: 512,
		SendBuffer:     8,
	}
	peer := NewPeer("p1", sock, cfg)
	done := serve(context.Background(), peer, d)

	for i := 0; i < 2; i++ {
		select {
		case <-sock.pings:
		case <-time.After(2 * time.Second):
			t.Fatalf("ping %d not sent", i+1)
		}
	}

	var (
		before time.Time
		limit  int64
		onPong func(string) error
	)
	deadline := time.Now().Add(2 * time.Second)
	for onPong == nil && time.Now().Before(deadline) {
		before, limit, onPong = sock.state()
		time.Sleep(5 * time.Millisecond)
	}
	if onPong == nil {
		t.Fatal("pong handler not installed")
	}
	if limit != cfg.MaxMessageSize {
		t.Errorf("expected read limit %d, got %d", cfg.MaxMessageSize, limit)
	}
	if before.IsZero() {
		t.Fatal("read deadline not set")
	}

	time.Sleep(10 * time.Millisecond)
	if err := onPong(""); err != nil {
		t.Fatalf("pong handler failed: %v", err)
	}
	after, _, _ := sock.state()
	if !after.After(before) {
		t.Errorf("pong should extend the read deadline: before %v after %v", before, after)
	}

	close(sock.in)
	waitClosed(t, done)
}
