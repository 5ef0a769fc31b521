package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/mpango/internal/domain"
	"github.com/jkaninda/mpango/internal/storage"
)

// RunRepository implements storage.RunStore with GORM.
// Shared by both the PostgreSQL and SQLite backends.
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a RunRepository.
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create persists a new run.
func (r *RunRepository) Create(ctx context.Context, run *domain.Run) error {
	model := toRunModel(run)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating run: %w", err)
	}
	return nil
}

// Update persists changes to an existing run.
func (r *RunRepository) Update(ctx context.Context, run *domain.Run) error {
	model := toRunModel(run)
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	return nil
}

// Get retrieves a run by ID.
func (r *RunRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	var model RunModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("getting run %s: %w", id, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("getting run %s: %w", id, err)
	}
	return toRunDomain(&model), nil
}

// List returns runs matching the filter, newest first.
func (r *RunRepository) List(ctx context.Context, filter storage.RunFilter) ([]domain.Run, error) {
	q := r.db.WithContext(ctx).Model(&RunModel{})
	if filter.State != "" {
		q = q.Where("state = ?", string(filter.State))
	}
	if filter.ScheduleID != nil {
		q = q.Where("schedule_id = ?", *filter.ScheduleID)
	}

	var models []RunModel
	if err := q.
		Order("created_at DESC").
		Limit(filter.PageSize()).
		Offset(filter.Offset).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	runs := make([]domain.Run, len(models))
	for i := range models {
		runs[i] = *toRunDomain(&models[i])
	}
	return runs, nil
}

// compile-time interface check
var _ storage.RunStore = (*RunRepository)(nil)
