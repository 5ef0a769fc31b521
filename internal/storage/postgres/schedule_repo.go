package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jkaninda/mpango/internal/domain"
	"github.com/jkaninda/mpango/internal/storage"
)

// ScheduledRunRepository implements storage.ScheduledRunStore with GORM.
// Shared by both the PostgreSQL and SQLite backends.
type ScheduledRunRepository struct {
	db *gorm.DB
}

// NewScheduledRunRepository creates a ScheduledRunRepository.
func NewScheduledRunRepository(db *gorm.DB) *ScheduledRunRepository {
	return &ScheduledRunRepository{db: db}
}

// Create persists a new schedule.
func (r *ScheduledRunRepository) Create(ctx context.Context, sr *domain.ScheduledRun) error {
	model := toScheduledRunModel(sr)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating schedule: %w", err)
	}
	return nil
}

// Get retrieves a schedule by ID.
func (r *ScheduledRunRepository) Get(ctx context.Context, id uuid.UUID) (*domain.ScheduledRun, error) {
	var model ScheduledRunModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("getting schedule %s: %w", id, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("getting schedule %s: %w", id, err)
	}
	return toScheduledRunDomain(&model), nil
}

// List returns all schedules.
func (r *ScheduledRunRepository) List(ctx context.Context) ([]domain.ScheduledRun, error) {
	var models []ScheduledRunModel
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing schedules: %w", err)
	}
	schedules := make([]domain.ScheduledRun, len(models))
	for i := range models {
		schedules[i] = *toScheduledRunDomain(&models[i])
	}
	return schedules, nil
}

// Update persists changes to an existing schedule.
func (r *ScheduledRunRepository) Update(ctx context.Context, sr *domain.ScheduledRun) error {
	model := toScheduledRunModel(sr)
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return fmt.Errorf("updating schedule: %w", err)
	}
	return nil
}

// Delete soft-deletes a schedule by ID.
func (r *ScheduledRunRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&ScheduledRunModel{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("deleting schedule %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("deleting schedule %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// ListDue returns enabled schedules whose NextRunAt <= now.
// On PostgreSQL the rows are locked with SELECT ... FOR UPDATE SKIP LOCKED
// to prevent double-firing across multiple instances; SQLite serializes
// writers itself and does not support the clause.
func (r *ScheduledRunRepository) ListDue(ctx context.Context, now time.Time) ([]domain.ScheduledRun, error) {
	q := r.db.WithContext(ctx)
	if r.db.Dialector.Name() == storage.DriverPostgres {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}

	var models []ScheduledRunModel
	if err := q.
		Where("enabled = ? AND next_run_at IS NOT NULL AND next_run_at <= ?", true, now).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing due schedules: %w", err)
	}
	schedules := make([]domain.ScheduledRun, len(models))
	for i := range models {
		schedules[i] = *toScheduledRunDomain(&models[i])
	}
	return schedules, nil
}

// RecordExecution updates the schedule after a run has been triggered.
func (r *ScheduledRunRepository) RecordExecution(ctx context.Context, id uuid.UUID, runID *uuid.UUID, nextRunAt *time.Time, errMsg string) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"last_run_at": now,
		"last_run_id": runID,
		"last_error":  errMsg,
		"next_run_at": nextRunAt,
		"updated_at":  now,
	}
	if err := r.db.WithContext(ctx).
		Model(&ScheduledRunModel{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("recording execution for schedule %s: %w", id, err)
	}
	return nil
}

// compile-time interface check
var _ storage.ScheduledRunStore = (*ScheduledRunRepository)(nil)
