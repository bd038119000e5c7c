package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"syncroom/internal/logging"
	"syncroom/internal/protocol"
	"syncroom/internal/rooms"
)

// Conn is one client connection as seen by the dispatcher.
type Conn interface {
	ID() string
	Send(protocol.Envelope) error
}

// Dispatcher routes inbound events to the room manager and delivers the
// resulting notifications. Delivery happens after the manager returns, so no
// room lock is held during a send.
type Dispatcher struct {
	rooms *rooms.Manager

	mu    sync.RWMutex
	conns map[string]Conn
}

func New(manager *rooms.Manager) *Dispatcher {
	return &Dispatcher{
		rooms: manager,
		conns: make(map[string]Conn),
	}
}

func (d *Dispatcher) Attach(c Conn) {
	d.mu.Lock()
	d.conns[c.ID()] = c
	d.mu.Unlock()
}

// Detach handles the transport's disconnect signal for connID.
func (d *Dispatcher) Detach(ctx context.Context, connID string) {
	d.mu.Lock()
	delete(d.conns, connID)
	d.mu.Unlock()

	d.deliver(ctx, d.rooms.Disconnect(connID))
}

func (d *Dispatcher) Stats() protocol.Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return protocol.Stats{Rooms: d.rooms.RoomCount(), Connections: len(d.conns)}
}

// Dispatch processes one inbound event from connID through to delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, connID string, in protocol.InboundEnvelope) {
	l := logging.Ctx(ctx).With().Str(logging.FieldConnID, connID).Str(logging.FieldKind, in.Kind).Logger()

	switch in.Kind {
	case protocol.KindCreateRoom:
		var req protocol.CreateRoomRequest
		if !decode(l, in.Data, &req) {
			return
		}
		d.createRoom(ctx, l, connID, req)
	case protocol.KindJoinRoom:
		var req protocol.JoinRoomRequest
		if !decode(l, in.Data, &req) {
			return
		}
		d.joinRoom(ctx, l, connID, req)
	case protocol.KindPlaybackAction:
		var req protocol.PlaybackActionRequest
		if !decode(l, in.Data, &req) {
			return
		}
		d.playbackAction(ctx, l, connID, req)
	default:
		l.Warn().Msg("unsupported event kind")
	}
}

func (d *Dispatcher) createRoom(ctx context.Context, l zerolog.Logger, connID string, req protocol.CreateRoomRequest) {
	media := rooms.Media{URL: req.MediaURL, Type: rooms.ParseMediaType(req.MediaType)}
	_, notes, err := d.rooms.CreateRoom(connID, media)
	if err != nil {
		l.Error().Err(err).Msg("create room failed")
		return
	}
	d.deliver(ctx, notes)
}

func (d *Dispatcher) joinRoom(ctx context.Context, l zerolog.Logger, connID string, req protocol.JoinRoomRequest) {
	notes, err := d.rooms.JoinRoom(req.RoomID, connID)
	switch {
	case errors.Is(err, rooms.ErrRoomNotFound):
		l.Debug().Str(logging.FieldRoomID, req.RoomID).Msg("join: room not found")
		d.sendTo(ctx, connID, protocol.Envelope{Kind: protocol.KindRoomNotFound, Data: protocol.Empty{}})
		return
	case errors.Is(err, rooms.ErrRoomFull):
		l.Debug().Str(logging.FieldRoomID, req.RoomID).Msg("join: room full")
		d.sendTo(ctx, connID, protocol.Envelope{Kind: protocol.KindRoomFull, Data: protocol.Empty{}})
		return
	case err != nil:
		l.Error().Err(err).Str(logging.FieldRoomID, req.RoomID).Msg("join failed")
		return
	}
	d.deliver(ctx, notes)
}

func (d *Dispatcher) playbackAction(ctx context.Context, l zerolog.Logger, connID string, req protocol.PlaybackActionRequest) {
	cmd := rooms.Command{Action: rooms.ParseAction(req.Action), Time: req.Time}
	if req.MediaURL != nil {
		cmd.Media.URL = *req.MediaURL
	}
	if req.MediaType != nil {
		cmd.Media.Type = rooms.ParseMediaType(*req.MediaType)
	}

	notes, err := d.rooms.Playback(req.RoomID, connID, cmd)
	if err != nil {
		// Rejected actions are never reported back to the sender.
		l.Debug().Err(err).Str(logging.FieldRoomID, req.RoomID).Str(logging.FieldAction, req.Action).Msg("playback action ignored")
		return
	}
	l.Debug().Str(logging.FieldRoomID, req.RoomID).Str(logging.FieldAction, req.Action).Int("recipients", recipients(notes)).Msg("playback action applied")
	d.deliver(ctx, notes)
}

func (d *Dispatcher) deliver(ctx context.Context, notes []rooms.Notification) {
	for _, n := range notes {
		env := protocol.Envelope{Kind: n.Kind, Data: n.Data}
		for _, id := range n.To {
			d.sendTo(ctx, id, env)
		}
	}
}

func (d *Dispatcher) sendTo(ctx context.Context, connID string, env protocol.Envelope) {
	d.mu.RLock()
	c, ok := d.conns[connID]
	d.mu.RUnlock()
	if !ok {
		return
	}
	if err := c.Send(env); err != nil {
		l := logging.Ctx(ctx)
		l.Warn().Err(err).Str(logging.FieldConnID, connID).Str(logging.FieldKind, env.Kind).Msg("send failed")
	}
}

func decode(l zerolog.Logger, data json.RawMessage, v interface{}) bool {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		l.Warn().Err(err).Msg("malformed event payload")
		return false
	}
	return true
}

func recipients(notes []rooms.Notification) int {
	n := 0
	for _, note := range notes {
		n += len(note.To)
	}
	return n
}
