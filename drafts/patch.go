package drafts

import (
	"fmt"
	"strings"

	"github.com/Andrlu75/healtCoach-sub000/apperrors"
	"github.com/Andrlu75/healtCoach-sub000/models"
)

// IngredientPatch holds the proposed values of one ingredient. Nil fields
// are left alone.
type IngredientPatch struct {
	Name     *string  `json:"name,omitempty"`
	Weight   *float64 `json:"weight,omitempty"`
	Calories *float64 `json:"calories,omitempty"`
	Proteins *float64 `json:"proteins,omitempty"`
	Fats     *float64 `json:"fats,omitempty"`
	Carbs    *float64 `json:"carbs,omitempty"`
}

func (p IngredientPatch) Empty() bool {
	return p.Name == nil && p.Weight == nil && p.Calories == nil &&
		p.Proteins == nil && p.Fats == nil && p.Carbs == nil
}

// Validate rejects blank names and negative quantities.
func (p IngredientPatch) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("%w: ingredient name must not be blank", apperrors.ErrInvalidInput)
	}
	for field, v := range map[string]*float64{
		"weight": p.Weight, "calories": p.Calories, "proteins": p.Proteins,
		"fats": p.Fats, "carbs": p.Carbs,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%w: %s must not be negative", apperrors.ErrInvalidInput, field)
		}
	}
	return nil
}

// Diff keeps only the fields that differ from the known server values.
func (p IngredientPatch) Diff(server models.Ingredient) IngredientPatch {
	var d IngredientPatch
	if p.Name != nil && strings.TrimSpace(*p.Name) != server.Name {
		name := strings.TrimSpace(*p.Name)
		d.Name = &name
	}
	d.Weight = changed(p.Weight, server.Weight)
	d.Calories = changed(p.Calories, server.Calories)
	d.Proteins = changed(p.Proteins, server.Proteins)
	d.Fats = changed(p.Fats, server.Fats)
	d.Carbs = changed(p.Carbs, server.Carbs)
	return d
}

// ApplyTo writes the patch into ing.
func (p IngredientPatch) ApplyTo(ing *models.Ingredient) {
	if p.Name != nil {
		ing.Name = *p.Name
	}
	set(&ing.Weight, p.Weight)
	set(&ing.Calories, p.Calories)
	set(&ing.Proteins, p.Proteins)
	set(&ing.Fats, p.Fats)
	set(&ing.Carbs, p.Carbs)
}

// MetaPatch holds proposed draft-level values.
type MetaPatch struct {
	DishName        *string  `json:"dish_name,omitempty"`
	DishType        *string  `json:"dish_type,omitempty"`
	EstimatedWeight *float64 `json:"estimated_weight,omitempty"`
}

func (p MetaPatch) Empty() bool {
	return p.DishName == nil && p.DishType == nil && p.EstimatedWeight == nil
}

func (p MetaPatch) Validate() error {
	if p.DishName != nil && strings.TrimSpace(*p.DishName) == "" {
		return fmt.Errorf("%w: dish name must not be blank", apperrors.ErrInvalidInput)
	}
	if p.EstimatedWeight != nil && *p.EstimatedWeight <= 0 {
		return fmt.Errorf("%w: estimated weight must be positive", apperrors.ErrInvalidInput)
	}
	return nil
}

func (p MetaPatch) Diff(server *models.Draft) MetaPatch {
	var d MetaPatch
	if p.DishName != nil && strings.TrimSpace(*p.DishName) != server.DishName {
		name := strings.TrimSpace(*p.DishName)
		d.DishName = &name
	}
	if p.DishType != nil && *p.DishType != server.DishType {
		typ := *p.DishType
		d.DishType = &typ
	}
	d.EstimatedWeight = changed(p.EstimatedWeight, server.EstimatedWeight)
	return d
}

func (p MetaPatch) ApplyTo(d *models.Draft) {
	if p.DishName != nil {
		d.DishName = *p.DishName
	}
	if p.DishType != nil {
		d.DishType = *p.DishType
	}
	set(&d.EstimatedWeight, p.EstimatedWeight)
}

func changed(proposed *float64, server float64) *float64 {
	if proposed == nil || *proposed == server {
		return nil
	}
	v := *proposed
	return &v
}

func set(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}
