package collab

import (
	"context"
	"errors"
	"time"

	"collab-app/internal/database"
	"collab-app/pkg/logger"
)

var (
	ErrRoomNotFound     = errors.New("appointment not found")
	ErrNotEligible      = errors.New("not a participant of this appointment")
	ErrStoreUnavailable = errors.New("appointment store unavailable")
)

// Room capacity is always clamped into this range, whatever the persisted
// override or configured default says.
const (
	MinRoomCapacity = 2
	MaxRoomCapacity = 32
)

// Gate decides whether a principal may join an appointment's room and how
// many members that room admits. Store failures deny access: the gate
// fails closed.
type Gate struct {
	appointments    database.AppointmentStore
	roomConfig      database.RoomConfigStore
	defaultCapacity int
	storeTimeout    time.Duration
}

func NewGate(appointments database.AppointmentStore, roomConfig database.RoomConfigStore, defaultCapacity int, storeTimeout time.Duration) *Gate {
	return &Gate{
		appointments:    appointments,
		roomConfig:      roomConfig,
		defaultCapacity: defaultCapacity,
		storeTimeout:    storeTimeout,
	}
}

// CheckEligibility reports nil iff the user created the appointment or is an
// invited attendee. Any store failure surfaces as ErrStoreUnavailable, which
// callers must treat as a denial.
func (g *Gate) CheckEligibility(ctx context.Context, userID int, appointmentID string) error {
	ctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()

	apt, err := g.appointments.GetAppointment(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrRoomNotFound
		}
		logger.Error("Appointment lookup failed for %s: %v", appointmentID, err)
		return ErrStoreUnavailable
	}

	if apt.CreatorID == userID {
		return nil
	}
	for _, attendeeID := range apt.AttendeeIDs {
		if attendeeID == userID {
			return nil
		}
	}
	return ErrNotEligible
}

// ResolveCapacity returns the room's member limit: a persisted override when
// one exists, otherwise the configured default, always clamped to
// [MinRoomCapacity, MaxRoomCapacity]. Capacity is sizing metadata rather
// than an authorization decision, so a store failure falls back to the
// default instead of refusing the join.
func (g *Gate) ResolveCapacity(ctx context.Context, appointmentID string) int {
	ctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()

	capacity, ok, err := g.roomConfig.GetRoomCapacity(ctx, appointmentID)
	if err != nil {
		logger.Warn("Capacity lookup failed for %s, using default: %v", appointmentID, err)
		return clampCapacity(g.defaultCapacity)
	}
	if !ok {
		return clampCapacity(g.defaultCapacity)
	}
	return clampCapacity(capacity)
}

func clampCapacity(capacity int) int {
	if capacity < MinRoomCapacity {
		return MinRoomCapacity
	}
	if capacity > MaxRoomCapacity {
		return MaxRoomCapacity
	}
	return capacity
}
