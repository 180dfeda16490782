package models

import (
	"math"
	"time"
)

type DraftStatus string

const (
	DraftPending   DraftStatus = "pending"
	DraftConfirmed DraftStatus = "confirmed"
	DraftCancelled DraftStatus = "cancelled"
)

// Terminal reports whether no further mutation is valid.
func (s DraftStatus) Terminal() bool {
	return s == DraftConfirmed || s == DraftCancelled
}

// Macros is a nutrition aggregate in kcal / grams.
type Macros struct {
	Calories float64 `json:"calories"`
	Proteins float64 `json:"proteins"`
	Fats     float64 `json:"fats"`
	Carbs    float64 `json:"carbs"`
}

func (m Macros) Add(o Macros) Macros {
	return Macros{
		Calories: m.Calories + o.Calories,
		Proteins: m.Proteins + o.Proteins,
		Fats:     m.Fats + o.Fats,
		Carbs:    m.Carbs + o.Carbs,
	}
}

// Within reports whether every field of m is within tol of o.
func (m Macros) Within(o Macros, tol float64) bool {
	return math.Abs(m.Calories-o.Calories) <= tol &&
		math.Abs(m.Proteins-o.Proteins) <= tol &&
		math.Abs(m.Fats-o.Fats) <= tol &&
		math.Abs(m.Carbs-o.Carbs) <= tol
}

// Ingredient is one line of an AI-assisted meal analysis.
type Ingredient struct {
	Name     string  `json:"name"`
	Weight   float64 `json:"weight"` // grams
	Calories float64 `json:"calories"`
	Proteins float64 `json:"proteins"`
	Fats     float64 `json:"fats"`
	Carbs    float64 `json:"carbs"`

	IsAIDetected bool `json:"is_ai_detected"`
	// IsUserEdited locks the ingredient against recomputation triggered by
	// operations on other ingredients.
	IsUserEdited bool `json:"is_user_edited"`
}

func (i Ingredient) Macros() Macros {
	return Macros{Calories: i.Calories, Proteins: i.Proteins, Fats: i.Fats, Carbs: i.Carbs}
}

// SameValues compares the user-visible fields, ignoring the flags.
func (i Ingredient) SameValues(o Ingredient) bool {
	return i.Name == o.Name && i.Weight == o.Weight && i.Macros() == o.Macros()
}

// Draft is a transient, server-held meal analysis in progress.
type Draft struct {
	ID              string       `json:"id"`
	DishName        string       `json:"dish_name"`
	DishType        string       `json:"dish_type"`
	EstimatedWeight float64      `json:"estimated_weight"`
	AIConfidence    float64      `json:"ai_confidence"`
	Ingredients     []Ingredient `json:"ingredients"`
	Macros
	Status    DraftStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`

	PhotoKey string `json:"photo_key,omitempty"`
	PhotoURL string `json:"photo_url,omitempty"`
	// Processing is set on the locally visible draft while a change is in flight.
	Processing bool `json:"processing"`
}

// Clone returns a deep copy.
func (d *Draft) Clone() *Draft {
	if d == nil {
		return nil
	}
	c := *d
	if d.Ingredients != nil {
		c.Ingredients = make([]Ingredient, len(d.Ingredients))
		copy(c.Ingredients, d.Ingredients)
	}
	return &c
}

// IngredientTotals sums every ingredient's macros.
func (d *Draft) IngredientTotals() Macros {
	var total Macros
	for _, ing := range d.Ingredients {
		total = total.Add(ing.Macros())
	}
	return total
}

// Photo is the image a draft is analyzed from.
type Photo struct {
	Key         string `json:"key"`
	URL         string `json:"url,omitempty"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// MealSlot optionally pins a confirmed meal to a plan position.
type MealSlot struct {
	Type  string     `json:"type"`
	AteAt *time.Time `json:"ate_at,omitempty"`
}
