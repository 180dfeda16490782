package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Andrlu75/healtCoach-sub000/drafts"
	"github.com/Andrlu75/healtCoach-sub000/logger"
	"github.com/Andrlu75/healtCoach-sub000/models"
)

// Finalizer closes a draft on the AI service once its meal is stored.
type Finalizer interface {
	Finalize(ctx context.Context, draft *models.Draft, meal *models.Meal) (string, error)
}

// MealEvents is notified after a meal is committed.
type MealEvents interface {
	MealConfirmed(ctx context.Context, meal *models.Meal) error
}

// MealService stores confirmed drafts in the food diary.
type MealService struct {
	db        *gorm.DB
	finalizer Finalizer
	events    MealEvents
	now       func() time.Time
}

// NewMealService wires the diary store. finalizer and events may be nil.
func NewMealService(db *gorm.DB, finalizer Finalizer, events MealEvents) *MealService {
	return &MealService{db: db, finalizer: finalizer, events: events, now: time.Now}
}

// Confirm persists the draft as a meal and then finalizes the draft on the
// AI service. A failed finalization removes the stored meal again, so no
// meal outlives a draft the service still considers open. Confirming the
// same draft twice returns the stored meal.
func (s *MealService) Confirm(ctx context.Context, req drafts.ConfirmRequest) (*models.Meal, string, error) {
	if existing, err := s.findByDraft(ctx, req.Draft.ID); err == nil {
		logger.Info("draft already confirmed, returning stored meal", "draft", req.Draft.ID, "meal", existing.ID)
		return existing, existing.Commentary, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", err
	}

	meal := models.NewMealFromDraft(req.Owner, req.Draft, req.Slot, s.now())
	if err := s.db.WithContext(ctx).Create(meal).Error; err != nil {
		return nil, "", fmt.Errorf("failed to save meal: %w", err)
	}

	if s.finalizer != nil {
		commentary, err := s.finalizer.Finalize(ctx, req.Draft, meal)
		if err != nil {
			if derr := s.deleteMeal(context.WithoutCancel(ctx), meal); derr != nil {
				logger.Error("meal left behind after failed finalize", "meal", meal.ID, "draft", meal.DraftID, "err", derr)
			}
			return nil, "", fmt.Errorf("failed to finalize draft: %w", err)
		}
		if commentary != "" {
			meal.Commentary = commentary
			if err := s.db.WithContext(ctx).Model(meal).Update("commentary", commentary).Error; err != nil {
				logger.Warn("commentary not saved", "meal", meal.ID, "err", err)
			}
		}
	}

	if s.events != nil {
		if err := s.events.MealConfirmed(ctx, meal); err != nil {
			logger.Warn("meal event not published", "meal", meal.ID, "err", err)
		}
	}
	logger.Info("meal stored", "meal", meal.ID, "user", meal.UserID, "draft", meal.DraftID, "kcal", meal.Calories)
	return meal, meal.Commentary, nil
}

// deleteMeal hard-deletes the meal and its items so the draft id can be
// confirmed again.
func (s *MealService) deleteMeal(ctx context.Context, meal *models.Meal) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("meal_id = ?", meal.ID).Delete(&models.MealItem{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&models.Meal{}, meal.ID).Error
	})
}

func (s *MealService) findByDraft(ctx context.Context, draftID string) (*models.Meal, error) {
	var meal models.Meal
	err := s.db.WithContext(ctx).Preload("Items").Where("draft_id = ?", draftID).First(&meal).Error
	if err != nil {
		return nil, err
	}
	return &meal, nil
}

// ListMeals returns the user's meals, newest first.
func (s *MealService) ListMeals(ctx context.Context, userID uint, limit int) ([]models.Meal, error) {
	if limit <= 0 {
		limit = 50
	}
	var meals []models.Meal
	err := s.db.WithContext(ctx).
		Preload("Items").
		Where("user_id = ?", userID).
		Order("ate_at desc").
		Limit(limit).
		Find(&meals).Error
	return meals, err
}
