package rooms

import (
	"errors"
	"math"
	"sync"

	"syncroom/internal/protocol"
)

var (
	ErrRoomFull           = errors.New("room is full")
	ErrNotHost            = errors.New("only host can control playback")
	ErrUnrecognizedAction = errors.New("unrecognized playback action")
	ErrAlreadyJoined      = errors.New("connection already in room")
)

// MaxParticipantsPerRoom is the default room capacity.
const MaxParticipantsPerRoom = 10

// MediaType is a closed set. Kinds the server does not know are stored as
// video so every room has a playable type.
type MediaType string

const (
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
)

// ParseMediaType maps a wire value to a known media type. Empty and unknown
// values fall back to video.
func ParseMediaType(s string) MediaType {
	switch MediaType(s) {
	case MediaAudio:
		return MediaAudio
	default:
		return MediaVideo
	}
}

type PlaybackState string

const (
	Paused  PlaybackState = "paused"
	Playing PlaybackState = "playing"
)

type Action int

const (
	ActionUnknown Action = iota
	ActionLoad
	ActionPlay
	ActionPause
	ActionSeek
	ActionTimeUpdate
	ActionEnded
)

var actionNames = map[Action]string{
	ActionLoad:       "load",
	ActionPlay:       "play",
	ActionPause:      "pause",
	ActionSeek:       "seek",
	ActionTimeUpdate: "timeUpdate",
	ActionEnded:      "ended",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

// ParseAction returns ActionUnknown for anything outside the closed set.
func ParseAction(s string) Action {
	for a, name := range actionNames {
		if name == s {
			return a
		}
	}
	return ActionUnknown
}

type Media struct {
	URL  string
	Type MediaType
}

// Command is a host playback instruction. Time is optional; Media is only
// read by ActionLoad.
type Command struct {
	Action Action
	Time   *float64
	Media  Media
}

type Participant struct {
	ConnID string
	IsHost bool
}

// Notification is an outbound event with its recipients already resolved.
type Notification struct {
	Kind string
	Data interface{}
	To   []string
}

type Room struct {
	mu              sync.Mutex
	id              string
	media           Media
	state           PlaybackState
	currentTime     float64
	hostID          string
	participants    []Participant
	maxParticipants int
	closed          bool
}

// NewRoom creates a paused room at time 0 with hostID as its only member.
func NewRoom(roomID, hostID string, media Media, maxParticipants int) *Room {
	if media.Type == "" {
		media.Type = MediaVideo
	}
	if maxParticipants < 1 {
		maxParticipants = MaxParticipantsPerRoom
	}
	return &Room{
		id:              roomID,
		media:           media,
		state:           Paused,
		hostID:          hostID,
		participants:    []Participant{{ConnID: hostID, IsHost: true}},
		maxParticipants: maxParticipants,
	}
}

func (r *Room) ID() string {
	return r.id
}

// Created returns the roomCreated notification for the creator.
func (r *Room) Created() Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Notification{
		Kind: protocol.KindRoomCreated,
		Data: protocol.RoomCreatedPayload{
			RoomID:    r.id,
			MediaURL:  r.media.URL,
			MediaType: string(r.media.Type),
		},
		To: []string{r.hostID},
	}
}

// Join appends connID as a non-host participant.
func (r *Room) Join(connID string) ([]Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRoomNotFound
	}
	if r.indexOf(connID) >= 0 {
		return nil, ErrAlreadyJoined
	}
	if len(r.participants) >= r.maxParticipants {
		return nil, ErrRoomFull
	}

	others := r.memberIDs("")
	r.participants = append(r.participants, Participant{ConnID: connID})

	notes := r.syncLocked(connID)
	if len(others) > 0 {
		notes = append(notes, Notification{
			Kind: protocol.KindUserJoined,
			Data: protocol.UserPayload{UserID: connID},
			To:   others,
		})
	}
	notes = append(notes, r.participantsLocked())
	return notes, nil
}

// Resync returns joinedRoom and initialSync for a connection that is already
// a member, without touching membership.
func (r *Room) Resync(connID string) ([]Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.indexOf(connID) < 0 {
		return nil, ErrRoomNotFound
	}
	return r.syncLocked(connID), nil
}

// ApplyHostAction mutates playback state on behalf of the host. Commands from
// any other connection are rejected with ErrNotHost and change nothing.
func (r *Room) ApplyHostAction(connID string, cmd Command) ([]Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRoomNotFound
	}
	if connID != r.hostID {
		return nil, ErrNotHost
	}

	audience := r.memberIDs(r.hostID)
	payload := protocol.PlaybackUpdatePayload{Action: cmd.Action.String()}

	switch cmd.Action {
	case ActionLoad:
		r.media = Media{URL: cmd.Media.URL, Type: ParseMediaType(string(cmd.Media.Type))}
		r.currentTime = 0
		r.state = Paused
		payload.MediaURL = r.media.URL
		payload.MediaType = string(r.media.Type)
		audience = r.memberIDs("")
	case ActionPlay:
		r.state = Playing
		r.setTime(cmd.Time)
	case ActionPause:
		r.state = Paused
		r.setTime(cmd.Time)
	case ActionSeek, ActionTimeUpdate:
		r.setTime(cmd.Time)
	case ActionEnded:
		r.state = Paused
		r.setTime(cmd.Time)
	default:
		return nil, ErrUnrecognizedAction
	}

	payload.CurrentTime = r.currentTime
	payload.PlaybackState = string(r.state)
	if len(audience) == 0 {
		return nil, nil
	}
	return []Notification{{
		Kind: protocol.KindPlaybackUpdate,
		Data: payload,
		To:   audience,
	}}, nil
}

// RemoveParticipant drops connID. When the host leaves, the earliest joined
// survivor is promoted. empty reports that the room is now closed and must be
// deleted from the registry.
func (r *Room) RemoveParticipant(connID string) (notes []Notification, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(connID)
	if idx < 0 {
		return nil, r.closed
	}
	wasHost := r.participants[idx].IsHost
	r.participants = append(r.participants[:idx], r.participants[idx+1:]...)

	if len(r.participants) == 0 {
		r.closed = true
		r.hostID = ""
		return nil, true
	}

	if wasHost {
		r.participants[0].IsHost = true
		r.hostID = r.participants[0].ConnID
		notes = append(notes, Notification{
			Kind: protocol.KindHostAssigned,
			Data: protocol.Empty{},
			To:   []string{r.hostID},
		})
	}
	notes = append(notes,
		Notification{
			Kind: protocol.KindUserDisconnected,
			Data: protocol.UserPayload{UserID: connID},
			To:   r.memberIDs(""),
		},
		r.participantsLocked(),
	)
	return notes, false
}

// close marks the room closed and empties it, returning the former members.
func (r *Room) close() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.memberIDs("")
	r.closed = true
	r.participants = nil
	r.hostID = ""
	return members
}

func (r *Room) Snapshot() protocol.RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return protocol.RoomState{
		RoomID:        r.id,
		MediaURL:      r.media.URL,
		MediaType:     string(r.media.Type),
		PlaybackState: string(r.state),
		CurrentTime:   r.currentTime,
		HostID:        r.hostID,
		Participants:  r.viewsLocked(),
	}
}

func (r *Room) Participants() []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Participant, len(r.participants))
	copy(out, r.participants)
	return out
}

func (r *Room) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

func (r *Room) HostID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostID
}

// setTime ignores NaN and infinities and clamps negatives to zero.
func (r *Room) setTime(t *float64) {
	if t == nil || math.IsNaN(*t) || math.IsInf(*t, 0) {
		return
	}
	r.currentTime = math.Max(*t, 0)
}

func (r *Room) syncLocked(connID string) []Notification {
	isHost := connID == r.hostID
	return []Notification{
		{
			Kind: protocol.KindJoinedRoom,
			Data: protocol.JoinedRoomPayload{
				RoomID:        r.id,
				MediaURL:      r.media.URL,
				MediaType:     string(r.media.Type),
				PlaybackState: string(r.state),
				CurrentTime:   r.currentTime,
			},
			To: []string{connID},
		},
		{
			Kind: protocol.KindInitialSync,
			Data: protocol.InitialSyncPayload{
				MediaURL:      r.media.URL,
				MediaType:     string(r.media.Type),
				PlaybackState: string(r.state),
				CurrentTime:   r.currentTime,
				IsHost:        isHost,
			},
			To: []string{connID},
		},
	}
}

func (r *Room) participantsLocked() Notification {
	return Notification{
		Kind: protocol.KindParticipantsUpdate,
		Data: r.viewsLocked(),
		To:   r.memberIDs(""),
	}
}

func (r *Room) viewsLocked() []protocol.ParticipantView {
	views := make([]protocol.ParticipantView, 0, len(r.participants))
	for _, p := range r.participants {
		views = append(views, protocol.ParticipantView{ID: p.ConnID, IsHost: p.IsHost})
	}
	return views
}

// memberIDs lists members in join order, skipping exclude.
func (r *Room) memberIDs(exclude string) []string {
	ids := make([]string, 0, len(r.participants))
	for _, p := range r.participants {
		if p.ConnID == exclude {
			continue
		}
		ids = append(ids, p.ConnID)
	}
	return ids
}

func (r *Room) indexOf(connID string) int {
	for i, p := range r.participants {
		if p.ConnID == connID {
			return i
		}
	}
	return -1
}
