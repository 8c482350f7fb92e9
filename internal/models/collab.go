package models

import "time"

// Principal is the authenticated identity behind a connection, extracted
// from the verified handshake token.
type Principal struct {
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
}

// Appointment is the slice of the calendar record the coordinator needs for
// authorization: who created it and who is invited.
type Appointment struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	CreatorID   int       `json:"creator_id"`
	AttendeeIDs []int     `json:"attendee_ids"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
}

// Member is a connection's presence record within a room.
type Member struct {
	ConnectionID string `json:"connectionId"`
	UserID       int    `json:"userId"`
	DisplayName  string `json:"displayName"`
}

const (
	ChatTypeText   = "text"
	ChatTypeSystem = "system"
)

// ChatMessage is the canonical persisted record broadcast to the room.
// ID and CreatedAt are assigned by the store.
type ChatMessage struct {
	ID            int       `json:"id"`
	AppointmentID string    `json:"appointmentId"`
	SenderID      int       `json:"senderId"`
	SenderName    string    `json:"senderName"`
	Content       string    `json:"content"`
	Type          string    `json:"type"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NewChatMessage carries the client-supplied fields of a chat message into
// the store.
type NewChatMessage struct {
	AppointmentID string
	SenderID      int
	SenderName    string
	Content       string
	Type          string
}

// WhiteboardSnapshot is the periodically flushed picture of a room's
// whiteboard. Image is an opaque client-rendered encoding (data URL).
type WhiteboardSnapshot struct {
	AppointmentID string    `json:"appointmentId"`
	Image         string    `json:"image"`
	UpdatedAt     time.Time `json:"updatedAt"`
}
