package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/Andrlu75/healtCoach-sub000/apperrors"
	"github.com/Andrlu75/healtCoach-sub000/models"
)

// PlanStore persists day plans. Plans are always written whole.
type PlanStore struct {
	db *gorm.DB
}

func NewPlanStore(db *gorm.DB) *PlanStore {
	return &PlanStore{db: db}
}

func (s *PlanStore) Get(ctx context.Context, programID uint, day int) (*models.DayPlan, error) {
	var plan models.DayPlan
	err := s.db.WithContext(ctx).
		Where("program_id = ? AND day_number = ?", programID, day).
		First(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("program %d day %d: %w", programID, day, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// Replace atomically overwrites the stored plan for the same program and
// day with plan, creating it when missing.
func (s *PlanStore) Replace(ctx context.Context, plan *models.DayPlan) error {
	if err := plan.Validate(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.DayPlan
		err := tx.Where("program_id = ? AND day_number = ?", plan.ProgramID, plan.DayNumber).
			First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			plan.ID = 0
			return tx.Create(plan).Error
		case err != nil:
			return err
		}
		plan.ID = existing.ID
		plan.CreatedAt = existing.CreatedAt
		return tx.Save(plan).Error
	})
}
