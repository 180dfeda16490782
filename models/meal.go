package models

import (
	"time"

	"gorm.io/gorm"
)

// Meal is a confirmed draft persisted to the client's food diary.
type Meal struct {
	gorm.Model
	UserID   uint      `gorm:"index" json:"user_id"`
	DraftID  string    `gorm:"type:varchar(64);uniqueIndex" json:"draft_id"`
	Type     string    `json:"type"` // breakfast|lunch|dinner|snack
	AteAt    time.Time `json:"ate_at"`
	DishName string    `json:"dish_name"`
	DishType string    `json:"dish_type"`
	PhotoURL string    `json:"photo_url"`

	Weight       float64 `json:"weight"`
	Calories     float64 `json:"calories"`
	Proteins     float64 `json:"proteins"`
	Fats         float64 `json:"fats"`
	Carbs        float64 `json:"carbs"`
	AIConfidence float64 `json:"ai_confidence"`
	Commentary   string  `gorm:"type:text" json:"commentary,omitempty"`

	Items []MealItem `json:"items"`
}

// MealItem stores the ingredient snapshot taken at confirmation.
type MealItem struct {
	gorm.Model
	MealID uint `gorm:"index" json:"meal_id"`

	Name         string  `gorm:"not null" json:"name"`
	Weight       float64 `json:"weight"`
	Calories     float64 `json:"calories"`
	Proteins     float64 `json:"proteins"`
	Fats         float64 `json:"fats"`
	Carbs        float64 `json:"carbs"`
	IsAIDetected bool    `json:"is_ai_detected"`
	IsUserEdited bool    `json:"is_user_edited"`
}

// NewMealFromDraft builds the diary entry for a confirmed draft.
func NewMealFromDraft(userID uint, d *Draft, slot *MealSlot, now time.Time) *Meal {
	meal := &Meal{
		UserID:       userID,
		DraftID:      d.ID,
		Type:         d.DishType,
		AteAt:        now,
		DishName:     d.DishName,
		DishType:     d.DishType,
		PhotoURL:     d.PhotoURL,
		Weight:       d.EstimatedWeight,
		Calories:     d.Calories,
		Proteins:     d.Proteins,
		Fats:         d.Fats,
		Carbs:        d.Carbs,
		AIConfidence: d.AIConfidence,
	}
	if slot != nil {
		if slot.Type != "" {
			meal.Type = slot.Type
		}
		if slot.AteAt != nil {
			meal.AteAt = *slot.AteAt
		}
	}
	for _, ing := range d.Ingredients {
		meal.Items = append(meal.Items, MealItem{
			Name:         ing.Name,
			Weight:       ing.Weight,
			Calories:     ing.Calories,
			Proteins:     ing.Proteins,
			Fats:         ing.Fats,
			Carbs:        ing.Carbs,
			IsAIDetected: ing.IsAIDetected,
			IsUserEdited: ing.IsUserEdited,
		})
	}
	return meal
}
