package models

import "encoding/json"

// Session protocol events. Client-to-server and server-to-client names are
// part of the stable wire contract.
const (
	// client -> server
	EventJoinRoom  = "join-room"
	EventLeaveRoom = "leave-room"
	EventDraw      = "draw"
	EventClear     = "clear"
	EventSignal    = "signal"
	EventChatSend  = "chat-send"

	// server -> client
	EventPresenceUpdate = "presence-update"
	EventRoomFull       = "room-full"
	EventRoomError      = "room-error"
	EventChatMessage    = "chat-message"
)

// Envelope frames every session protocol message: a named event plus its
// payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinRoomPayload struct {
	AppointmentID string `json:"appointmentId"`
	DisplayName   string `json:"displayName"`
}

type LeaveRoomPayload struct {
	AppointmentID string `json:"appointmentId"`
}

// DrawPayload carries a batch of whiteboard strokes. Stroke contents are
// opaque to the coordinator.
type DrawPayload struct {
	AppointmentID string          `json:"appointmentId"`
	Strokes       json.RawMessage `json:"strokes"`
}

// DrawBroadcast is the server-to-client form: the room is implicit in the
// receiving connection's membership.
type DrawBroadcast struct {
	Strokes json.RawMessage `json:"strokes"`
}

type ClearPayload struct {
	AppointmentID string `json:"appointmentId"`
}

// SignalPayload carries an opaque WebRTC negotiation payload toward one
// specific peer connection.
type SignalPayload struct {
	AppointmentID      string          `json:"appointmentId"`
	TargetConnectionID string          `json:"targetConnectionId"`
	Signal             json.RawMessage `json:"signal"`
}

// SignalDelivery wraps the relayed payload with the sending connection's id
// so the receiver can associate negotiation state with the right peer.
type SignalDelivery struct {
	From          string          `json:"from"`
	Signal        json.RawMessage `json:"signal"`
	AppointmentID string          `json:"appointmentId"`
}

type ChatSendPayload struct {
	AppointmentID string `json:"appointmentId"`
	Content       string `json:"content"`
	DisplayName   string `json:"displayName"`
}

type RoomErrorPayload struct {
	Message string `json:"message"`
}
