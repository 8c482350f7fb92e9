package database

import (
	"context"
	"errors"

	"collab-app/internal/models"
)

// ErrNotFound is returned when a queried record does not exist.
var ErrNotFound = errors.New("not found")

type AppointmentStore interface {
	GetAppointment(ctx context.Context, id string) (*models.Appointment, error)
}

type RoomConfigStore interface {
	// GetRoomCapacity reports a per-appointment capacity override. The
	// second result is false when no override is persisted.
	GetRoomCapacity(ctx context.Context, appointmentID string) (int, bool, error)
}

type ChatStore interface {
	CreateChatMessage(ctx context.Context, msg *models.NewChatMessage) (*models.ChatMessage, error)
	ListChatMessages(ctx context.Context, appointmentID string, limit int) ([]*models.ChatMessage, error)
}

type WhiteboardStore interface {
	SaveSnapshot(ctx context.Context, appointmentID, image string) error
	GetSnapshot(ctx context.Context, appointmentID string) (*models.WhiteboardSnapshot, error)
}

type Database interface {
	AppointmentStore
	RoomConfigStore
	ChatStore
	WhiteboardStore
	Close() error
}
