package protocol

import "encoding/json"

// Inbound event kinds.
const (
	KindCreateRoom     = "createRoom"
	KindJoinRoom       = "joinRoom"
	KindPlaybackAction = "playbackAction"
)

// Outbound event kinds.
const (
	KindRoomCreated        = "roomCreated"
	KindJoinedRoom         = "joinedRoom"
	KindInitialSync        = "initialSync"
	KindRoomFull           = "roomFull"
	KindRoomNotFound       = "roomNotFound"
	KindUserJoined         = "userJoined"
	KindPlaybackUpdate     = "playbackUpdate"
	KindHostAssigned       = "hostAssigned"
	KindUserDisconnected   = "userDisconnected"
	KindParticipantsUpdate = "participantsUpdate"
)

type Envelope struct {
	Kind string      `json:"kind"`
	Data interface{} `json:"data"`
}

type InboundEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type CreateRoomRequest struct {
	MediaURL  string `json:"mediaUrl"`
	MediaType string `json:"mediaType,omitempty"`
}

type JoinRoomRequest struct {
	RoomID string `json:"roomId"`
}

type PlaybackActionRequest struct {
	RoomID    string   `json:"roomId"`
	Action    string   `json:"action"`
	Time      *float64 `json:"time,omitempty"`
	MediaURL  *string  `json:"mediaUrl,omitempty"`
	MediaType *string  `json:"mediaType,omitempty"`
}

type RoomCreatedPayload struct {
	RoomID    string `json:"roomId"`
	MediaURL  string `json:"mediaUrl"`
	MediaType string `json:"mediaType"`
}

type JoinedRoomPayload struct {
	RoomID        string  `json:"roomId"`
	MediaURL      string  `json:"mediaUrl"`
	MediaType     string  `json:"mediaType"`
	PlaybackState string  `json:"playbackState"`
	CurrentTime   float64 `json:"currentTime"`
}

type InitialSyncPayload struct {
	MediaURL      string  `json:"mediaUrl"`
	MediaType     string  `json:"mediaType"`
	PlaybackState string  `json:"playbackState"`
	CurrentTime   float64 `json:"currentTime"`
	IsHost        bool    `json:"isHost"`
}

type PlaybackUpdatePayload struct {
	Action        string  `json:"action"`
	MediaURL      string  `json:"mediaUrl,omitempty"`
	MediaType     string  `json:"mediaType,omitempty"`
	CurrentTime   float64 `json:"currentTime"`
	PlaybackState string  `json:"playbackState"`
}

// UserPayload is shared by userJoined and userDisconnected.
type UserPayload struct {
	UserID string `json:"userId"`
}

// Empty serialises as {} for roomFull, roomNotFound and hostAssigned.
type Empty struct{}

type ParticipantView struct {
	ID     string `json:"id"`
	IsHost bool   `json:"isHost"`
}

// RoomState is the read-only view served by the HTTP API.
type RoomState struct {
	RoomID        string            `json:"roomId"`
	MediaURL      string            `json:"mediaUrl"`
	MediaType     string            `json:"mediaType"`
	PlaybackState string            `json:"playbackState"`
	CurrentTime   float64           `json:"currentTime"`
	HostID        string            `json:"hostId"`
	Participants  []ParticipantView `json:"participants"`
}

type Stats struct {
	Rooms       int `json:"rooms"`
	Connections int `json:"connections"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
