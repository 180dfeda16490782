package drafts

import (
	"context"

	"github.com/Andrlu75/healtCoach-sub000/models"
)

// Operation names a server-side recompute of a draft.
type Operation string

const (
	OpAddIngredient    Operation = "add_ingredient"
	OpRemoveIngredient Operation = "remove_ingredient"
	OpUpdateIngredient Operation = "update_ingredient"
	OpUpdateMeta       Operation = "update_meta"
)

type AnalysisRequest struct {
	Photo    models.Photo
	Caption  string
	MealType string
}

// Analyzer turns a meal photo into a new draft.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (*models.Draft, error)
}

// Recomputer applies an operation to the server-held draft and returns the
// full recomputed draft. It is the only authority for macro math.
type Recomputer interface {
	Recompute(ctx context.Context, draftID string, op Operation, payload any) (*models.Draft, error)
}

type ConfirmRequest struct {
	Owner uint
	Draft *models.Draft
	Slot  *models.MealSlot
}

// Confirmer persists the final draft as a meal and may return commentary.
type Confirmer interface {
	Confirm(ctx context.Context, req ConfirmRequest) (*models.Meal, string, error)
}

// Discarder releases a cancelled draft on the server. Failures are logged only.
type Discarder interface {
	Discard(ctx context.Context, draftID string) error
}

type AddPayload struct {
	Name string `json:"name"`
}

type RemovePayload struct {
	Index int `json:"index"`
}

type UpdateIngredientPayload struct {
	Index  int             `json:"index"`
	Fields IngredientPatch `json:"fields"`
}
