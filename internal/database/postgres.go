package database

import (
	"context"
	"errors"
	"fmt"

	"collab-app/internal/models"
	"collab-app/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

// Appointment Store Implementation
func (db *PostgresDB) GetAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	query := `SELECT id, title, creator_id, starts_at, ends_at FROM appointments WHERE id = $1`

	apt := &models.Appointment{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&apt.ID, &apt.Title, &apt.CreatorID, &apt.StartsAt, &apt.EndsAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	attendeeQuery := `SELECT user_id FROM appointment_attendees WHERE appointment_id = $1 ORDER BY user_id`
	rows, err := db.pool.Query(ctx, attendeeQuery, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var userID int
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		apt.AttendeeIDs = append(apt.AttendeeIDs, userID)
	}

	return apt, rows.Err()
}

// Room Config Store Implementation
func (db *PostgresDB) GetRoomCapacity(ctx context.Context, appointmentID string) (int, bool, error) {
	query := `SELECT capacity FROM room_settings WHERE appointment_id = $1`

	var capacity int
	err := db.pool.QueryRow(ctx, query, appointmentID).Scan(&capacity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}

	return capacity, true, nil
}

// Chat Store Implementation
func (db *PostgresDB) CreateChatMessage(ctx context.Context, msg *models.NewChatMessage) (*models.ChatMessage, error) {
	query := `
		INSERT INTO chat_messages (appointment_id, sender_id, sender_name, content, type, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, created_at`

	created := &models.ChatMessage{
		AppointmentID: msg.AppointmentID,
		SenderID:      msg.SenderID,
		SenderName:    msg.SenderName,
		Content:       msg.Content,
		Type:          msg.Type,
	}
	err := db.pool.QueryRow(ctx, query,
		msg.AppointmentID, msg.SenderID, msg.SenderName, msg.Content, msg.Type,
	).Scan(&created.ID, &created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat message: %w", err)
	}

	return created, nil
}

func (db *PostgresDB) ListChatMessages(ctx context.Context, appointmentID string, limit int) ([]*models.ChatMessage, error) {
	query := `
		SELECT id, appointment_id, sender_id, sender_name, content, type, created_at
		FROM chat_messages
		WHERE appointment_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := db.pool.Query(ctx, query, appointmentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*models.ChatMessage
	for rows.Next() {
		msg := &models.ChatMessage{}
		if err := rows.Scan(&msg.ID, &msg.AppointmentID, &msg.SenderID, &msg.SenderName, &msg.Content, &msg.Type, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to show oldest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// Whiteboard Store Implementation
func (db *PostgresDB) SaveSnapshot(ctx context.Context, appointmentID, image string) error {
	query := `
		INSERT INTO whiteboard_snapshots (appointment_id, image, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (appointment_id)
		DO UPDATE SET image = EXCLUDED.image, updated_at = NOW()`

	_, err := db.pool.Exec(ctx, query, appointmentID, image)
	return err
}

func (db *PostgresDB) GetSnapshot(ctx context.Context, appointmentID string) (*models.WhiteboardSnapshot, error) {
	query := `SELECT appointment_id, image, updated_at FROM whiteboard_snapshots WHERE appointment_id = $1`

	snapshot := &models.WhiteboardSnapshot{}
	err := db.pool.QueryRow(ctx, query, appointmentID).Scan(
		&snapshot.AppointmentID, &snapshot.Image, &snapshot.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return snapshot, nil
}
