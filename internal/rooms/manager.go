package rooms

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"syncroom/internal/logging"
	"syncroom/internal/protocol"
)

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrIDSpaceExhausted = errors.New("could not allocate a unique room id")
)

const maxIDAttempts = 64

// Manager owns every room and the connection to room index. Its lock is never
// held while a room lock is taken.
type Manager struct {
	mu              sync.RWMutex
	rooms           map[string]*Room
	byConn          map[string]string
	ids             IDGenerator
	maxParticipants int
	log             zerolog.Logger
}

type Option func(*Manager)

func WithIDGenerator(g IDGenerator) Option {
	return func(m *Manager) { m.ids = g }
}

func WithMaxParticipants(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxParticipants = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		rooms:           make(map[string]*Room),
		byConn:          make(map[string]string),
		maxParticipants: MaxParticipantsPerRoom,
		log:             logging.L(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ids == nil {
		m.ids = defaultGenerator()
	}
	m.log = m.log.With().Str(logging.FieldModule, "rooms").Logger()
	return m
}

// CreateRoom registers a new room hosted by connID. A connection that is
// already in another room leaves it first.
func (m *Manager) CreateRoom(connID string, media Media) (*Room, []Notification, error) {
	var (
		room *Room
		old  string
	)
	for attempt := 0; room == nil; attempt++ {
		if attempt == maxIDAttempts {
			return nil, nil, ErrIDSpaceExhausted
		}
		id, err := m.ids.Generate()
		if err != nil {
			return nil, nil, err
		}
		room, old = m.register(id, connID, media)
		if room == nil {
			m.log.Debug().Str(logging.FieldRoomID, id).Msg("room id collision, regenerating")
		}
	}

	m.log.Info().Str(logging.FieldRoomID, room.ID()).Str(logging.FieldConnID, connID).Str("media_url", media.URL).Msg("room created")
	notes := []Notification{room.Created()}
	if old != "" {
		notes = append(notes, m.leave(old, connID)...)
	}
	return room, notes, nil
}

// register inserts a room under id unless id is taken, and returns the room
// connID was in before.
func (m *Manager) register(id, connID string, media Media) (*Room, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rooms[id]; exists {
		return nil, ""
	}
	room := NewRoom(id, connID, media, m.maxParticipants)
	m.rooms[id] = room
	return room, m.bind(connID, id)
}

// JoinRoom adds connID to roomID. Joining the room the connection is already
// in returns a fresh sync without changing membership.
func (m *Manager) JoinRoom(roomID, connID string) ([]Notification, error) {
	room, ok := m.Get(roomID)
	if !ok {
		return nil, ErrRoomNotFound
	}

	notes, err := room.Join(connID)
	if errors.Is(err, ErrAlreadyJoined) {
		return room.Resync(connID)
	}
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	old := m.bind(connID, roomID)
	m.mu.Unlock()

	m.log.Info().Str(logging.FieldRoomID, roomID).Str(logging.FieldConnID, connID).Int("participants", room.ParticipantCount()).Msg("participant joined")
	if old != "" {
		notes = append(notes, m.leave(old, connID)...)
	}
	return notes, nil
}

// Playback applies a host command to roomID.
func (m *Manager) Playback(roomID, connID string, cmd Command) ([]Notification, error) {
	room, ok := m.Get(roomID)
	if !ok {
		return nil, ErrRoomNotFound
	}
	notes, err := room.ApplyHostAction(connID, cmd)
	if err != nil {
		return nil, fmt.Errorf("room %s: %w", roomID, err)
	}
	return notes, nil
}

// Disconnect removes connID from whatever room it is in.
func (m *Manager) Disconnect(connID string) []Notification {
	m.mu.Lock()
	roomID, ok := m.byConn[connID]
	delete(m.byConn, connID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.leave(roomID, connID)
}

func (m *Manager) Get(roomID string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[roomID]
	return room, ok
}

// Delete closes roomID and unbinds its members without notifying them.
func (m *Manager) Delete(roomID string) {
	room, ok := m.Get(roomID)
	if !ok {
		return
	}
	m.unregister(room, room.close())
	m.log.Info().Str(logging.FieldRoomID, roomID).Msg("room deleted")
}

func (m *Manager) GetState(roomID string) (protocol.RoomState, error) {
	room, ok := m.Get(roomID)
	if !ok {
		return protocol.RoomState{}, ErrRoomNotFound
	}
	return room.Snapshot(), nil
}

// RoomOf reports the room connID currently belongs to.
func (m *Manager) RoomOf(connID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	roomID, ok := m.byConn[connID]
	return roomID, ok
}

func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// bind must be called with m.mu held. It points connID at roomID and returns
// the different room it was bound to before, if any.
func (m *Manager) bind(connID, roomID string) string {
	old := m.byConn[connID]
	m.byConn[connID] = roomID
	if old == roomID {
		return ""
	}
	return old
}

func (m *Manager) leave(roomID, connID string) []Notification {
	room, ok := m.Get(roomID)
	if !ok {
		return nil
	}
	notes, empty := room.RemoveParticipant(connID)
	if empty {
		m.unregister(room, nil)
		m.log.Info().Str(logging.FieldRoomID, roomID).Msg("room closed")
		return nil
	}
	m.log.Info().Str(logging.FieldRoomID, roomID).Str(logging.FieldConnID, connID).Str("host", room.HostID()).Msg("participant left")
	return notes
}

// unregister deletes room only if it is still the one registered under its
// id, and drops index entries of members that still point at it.
func (m *Manager) unregister(room *Room, members []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.rooms[room.ID()]; ok && current == room {
		delete(m.rooms, room.ID())
	}
	for _, connID := range members {
		if m.byConn[connID] == room.ID() {
			delete(m.byConn, connID)
		}
	}
}
