package models

import (
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PlanMeal is one meal entry of a day plan.
type PlanMeal struct {
	Type        string `json:"type"`
	Time        string `json:"time"` // "08:30"
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ShoppingItem is a generated shopping-list entry.
type ShoppingItem struct {
	Name     string `json:"name"`
	Category string `json:"category"`
}

// DayPlan is one day of a coaching program. It is edited as a whole and
// persisted by full replacement.
type DayPlan struct {
	gorm.Model `json:"-"`
	ProgramID  uint `gorm:"uniqueIndex:idx_program_day;not null" json:"program_id"`
	DayNumber  int  `gorm:"uniqueIndex:idx_program_day;not null" json:"day_number"`

	Meals                datatypes.JSONSlice[PlanMeal]     `json:"meals"`
	AllowedIngredients   datatypes.JSONSlice[string]       `json:"allowed_ingredients"`
	ForbiddenIngredients datatypes.JSONSlice[string]       `json:"forbidden_ingredients"`
	ShoppingList         datatypes.JSONSlice[ShoppingItem] `json:"shopping_list"`
	Activity             string                            `gorm:"type:text" json:"activity"`
	Notes                string                            `gorm:"type:text" json:"notes"`
}

// Validate checks the document before it is accepted for persistence.
func (p *DayPlan) Validate() error {
	if p.ProgramID == 0 {
		return fmt.Errorf("program_id is required")
	}
	if p.DayNumber < 1 {
		return fmt.Errorf("day_number must be >= 1, got %d", p.DayNumber)
	}
	for i, m := range p.Meals {
		if strings.TrimSpace(m.Type) == "" {
			return fmt.Errorf("meal %d: type is required", i)
		}
	}
	for i, it := range p.ShoppingList {
		if strings.TrimSpace(it.Name) == "" {
			return fmt.Errorf("shopping item %d: name is required", i)
		}
	}
	return nil
}

// Vocabulary returns the shopping-list item names in list order.
func (p *DayPlan) Vocabulary() []string {
	out := make([]string, 0, len(p.ShoppingList))
	for _, it := range p.ShoppingList {
		out = append(out, it.Name)
	}
	return out
}
