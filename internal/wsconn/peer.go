package wsconn

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"syncroom/internal/config"
	"syncroom/internal/dispatch"
	"syncroom/internal/logging"
	"syncroom/internal/protocol"
)

var (
	ErrClosed         = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Socket is the subset of a websocket connection the peer needs. Both
// gorilla/websocket and hertz-contrib/websocket connections satisfy it and
// share the RFC 6455 opcode values.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Peer is one websocket client. Outbound envelopes are queued on send and
// written by a single goroutine.
type Peer struct {
	id   string
	sock Socket
	cfg  config.WebSocketConfig
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func NewPeer(id string, sock Socket, cfg config.WebSocketConfig) *Peer {
	size := cfg.SendBuffer
	if size < 1 {
		size = 1
	}
	return &Peer{
		id:   id,
		sock: sock,
		cfg:  cfg,
		send: make(chan []byte, size),
		done: make(chan struct{}),
	}
}

func (p *Peer) ID() string {
	return p.id
}

// Send queues env without blocking. A peer that cannot keep up is closed,
// which ends its read loop and runs the normal disconnect path.
func (p *Peer) Send(env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.send <- data:
		return nil
	default:
		p.Close()
		return ErrSendBufferFull
	}
}

func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.sock.Close()
	})
}

// Done is closed once the peer has been closed.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Serve attaches the peer to d, pumps messages until the socket fails or ctx
// ends, then detaches it.
func Serve(ctx context.Context, p *Peer, d *dispatch.Dispatcher) {
	l := logging.Ctx(ctx).With().Str(logging.FieldModule, "wsconn").Str(logging.FieldConnID, p.id).Logger()
	ctx = logging.WithLogger(ctx, l)

	d.Attach(p)
	l.Info().Msg("connection opened")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.writePump(ctx)
	}()

	go func() {
		select {
		case <-ctx.Done():
			p.Close()
		case <-p.done:
		}
	}()

	p.readLoop(ctx, d)
	p.Close()
	wg.Wait()

	d.Detach(ctx, p.id)
	l.Info().Msg("connection closed")
}

func (p *Peer) readLoop(ctx context.Context, d *dispatch.Dispatcher) {
	l := logging.Ctx(ctx)
	if p.cfg.MaxMessageSize > 0 {
		p.sock.SetReadLimit(p.cfg.MaxMessageSize)
	}
	p.extendReadDeadline()
	p.sock.SetPongHandler(func(string) error {
		p.extendReadDeadline()
		return nil
	})

	for {
		msgType, data, err := p.sock.ReadMessage()
		if err != nil {
			select {
			case <-p.done:
			default:
				l.Debug().Err(err).Msg("read ended")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		p.extendReadDeadline()

		var in protocol.InboundEnvelope
		if err := json.Unmarshal(data, &in); err != nil {
			l.Warn().Err(err).Msg("malformed envelope")
			continue
		}
		d.Dispatch(ctx, p.id, in)
	}
}

func (p *Peer) writePump(ctx context.Context) {
	l := logging.Ctx(ctx)

	var ping <-chan time.Time
	if p.cfg.PingInterval > 0 {
		ticker := time.NewTicker(p.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-p.done:
			return
		case data := <-p.send:
			if err := p.write(websocket.TextMessage, data); err != nil {
				l.Debug().Err(err).Msg("write failed")
				p.Close()
				return
			}
		case <-ping:
			if err := p.write(websocket.PingMessage, nil); err != nil {
				l.Debug().Err(err).Msg("ping failed")
				p.Close()
				return
			}
		}
	}
}

func (p *Peer) write(msgType int, data []byte) error {
	if p.cfg.WriteWait > 0 {
		if err := p.sock.SetWriteDeadline(time.Now().Add(p.cfg.WriteWait)); err != nil {
			return err
		}
	}
	return p.sock.WriteMessage(msgType, data)
}

func (p *Peer) extendReadDeadline() {
	if p.cfg.PongWait > 0 {
		_ = p.sock.SetReadDeadline(time.Now().Add(p.cfg.PongWait))
	}
}
