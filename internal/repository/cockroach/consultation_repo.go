package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"teleclinic-backend/internal/domain"
	apperrors "teleclinic-backend/pkg/errors"
)

// ConsultationRepository handles consultation data operations
type ConsultationRepository struct {
	pool *pgxpool.Pool
}

// NewConsultationRepository creates a new consultation repository
func NewConsultationRepository(pool *pgxpool.Pool) *ConsultationRepository {
	return &ConsultationRepository{pool: pool}
}

// Create creates a new consultation record
func (r *ConsultationRepository) Create(ctx context.Context, c *domain.Consultation) error {
	query := `
		INSERT INTO consultations (
			id, doctor_id, patient_id, scheduled_at, duration_mins, room_name, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		c.ID,
		c.DoctorID,
		c.PatientID,
		c.ScheduledAt,
		c.DurationMins,
		c.RoomName,
		c.Status,
		c.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create consultation: %w", err)
	}

	return nil
}

// GetByID retrieves a consultation by ID
func (r *ConsultationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Consultation, error) {
	query := `
		SELECT id, doctor_id, patient_id, scheduled_at, duration_mins, room_name, status,
		       created_at, updated_at
		FROM consultations
		WHERE id = $1
	`

	c := &domain.Consultation{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.DoctorID,
		&c.PatientID,
		&c.ScheduledAt,
		&c.DurationMins,
		&c.RoomName,
		&c.Status,
		&c.CreatedAt,
		&c.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ConsultationNotFoundError()
		}
		return nil, fmt.Errorf("failed to get consultation: %w", err)
	}

	return c, nil
}

// ListForUser retrieves a party's consultations, most recent schedule first
func (r *ConsultationRepository) ListForUser(ctx context.Context, userID uuid.UUID, role domain.Role, limit, offset int) ([]*domain.Consultation, error) {
	column := "patient_id"
	if role == domain.RoleDoctor {
		column = "doctor_id"
	}

	query := fmt.Sprintf(`
		SELECT id, doctor_id, patient_id, scheduled_at, duration_mins, room_name, status,
		       created_at, updated_at
		FROM consultations
		WHERE %s = $1
		ORDER BY scheduled_at DESC
		LIMIT $2 OFFSET $3
	`, column)

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list consultations: %w", err)
	}
	defer rows.Close()

	var consultations []*domain.Consultation
	for rows.Next() {
		c := &domain.Consultation{}
		err := rows.Scan(
			&c.ID,
			&c.DoctorID,
			&c.PatientID,
			&c.ScheduledAt,
			&c.DurationMins,
			&c.RoomName,
			&c.Status,
			&c.CreatedAt,
			&c.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan consultation: %w", err)
		}
		consultations = append(consultations, c)
	}

	return consultations, nil
}

// UpdateStatus requests a status transition. The WHERE clause excludes
// terminal rows so two parties racing to complete the same consultation
// resolve in the database: the first write wins, the loser sees zero rows
// and gets a status conflict.
func (r *ConsultationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ConsultationStatus) error {
	query := `
		UPDATE consultations
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status NOT IN ('COMPLETED', 'CANCELLED')
	`

	tag, err := r.pool.Exec(ctx, query, id, status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update consultation status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return apperrors.StatusConflictError("consultation already reached a terminal state")
	}

	return nil
}
