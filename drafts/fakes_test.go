package drafts

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Andrlu75/healtCoach-sub000/models"
)

// per-gram nutrition used by the fake server
var rates = map[string]models.Macros{
	"rice":     {Calories: 1.3, Proteins: 0.027, Fats: 0.003, Carbs: 0.28},
	"cucumber": {Calories: 0.15, Proteins: 0.007, Fats: 0.001, Carbs: 0.036},
	"chicken":  {Calories: 1.65, Proteins: 0.31, Fats: 0.036, Carbs: 0},
}

func ingredientOf(name string, weight float64, ai bool) models.Ingredient {
	r, ok := rates[name]
	if !ok {
		r = models.Macros{Calories: 1, Proteins: 0.1, Fats: 0.05, Carbs: 0.1}
	}
	return models.Ingredient{
		Name:         name,
		Weight:       weight,
		Calories:     r.Calories * weight,
		Proteins:     r.Proteins * weight,
		Fats:         r.Fats * weight,
		Carbs:        r.Carbs * weight,
		IsAIDetected: ai,
	}
}

type recomputeCall struct {
	DraftID string
	Op      Operation
	Payload any
}

// fakeServer plays the remote nutrition service.
type fakeServer struct {
	mu     sync.Mutex
	drafts map[string]*models.Draft
	calls  []recomputeCall

	analyzeErr error
	failNext   error
	// clobber makes the server rescale every ingredient on each call,
	// locked ones included.
	clobber bool
	// driftAggregate makes the server report a wrong aggregate.
	driftAggregate bool

	// gate, when set, blocks Recompute until it receives a value.
	gate    chan struct{}
	started chan struct{}

	confirmErr error
	confirmed  []ConfirmRequest
	discarded  []string
}

func newFakeServer() *fakeServer {
	return &fakeServer{drafts: make(map[string]*models.Draft)}
}

func (f *fakeServer) Analyze(_ context.Context, req AnalysisRequest) (*models.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.analyzeErr != nil {
		return nil, f.analyzeErr
	}
	id := fmt.Sprintf("d-%d", len(f.drafts)+1)
	d := &models.Draft{
		ID:              id,
		DishName:        "Rice",
		DishType:        req.MealType,
		EstimatedWeight: 150,
		AIConfidence:    0.82,
		Ingredients:     []models.Ingredient{ingredientOf("rice", 150, true)},
	}
	d.Macros = d.IngredientTotals()
	f.drafts[id] = d
	return d.Clone(), nil
}

func (f *fakeServer) Recompute(ctx context.Context, id string, op Operation, payload any) (*models.Draft, error) {
	f.mu.Lock()
	f.calls = append(f.calls, recomputeCall{DraftID: id, Op: op, Payload: payload})
	gate, started := f.gate, f.started
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext; err != nil {
		f.failNext = nil
		return nil, err
	}
	d, ok := f.drafts[id]
	if !ok {
		return nil, errors.New("unknown draft")
	}

	switch p := payload.(type) {
	case AddPayload:
		d.Ingredients = append(d.Ingredients, ingredientOf(p.Name, 100, false))
	case RemovePayload:
		d.Ingredients = append(d.Ingredients[:p.Index], d.Ingredients[p.Index+1:]...)
	case UpdateIngredientPayload:
		ing := &d.Ingredients[p.Index]
		if p.Fields.Weight != nil && ing.Weight > 0 {
			k := *p.Fields.Weight / ing.Weight
			ing.Calories *= k
			ing.Proteins *= k
			ing.Fats *= k
			ing.Carbs *= k
		}
		p.Fields.ApplyTo(ing)
		ing.IsUserEdited = true
	case MetaPatch:
		if p.EstimatedWeight != nil && d.EstimatedWeight > 0 {
			k := *p.EstimatedWeight / d.EstimatedWeight
			for i := range d.Ingredients {
				if d.Ingredients[i].IsUserEdited {
					continue
				}
				scale(&d.Ingredients[i], k)
			}
		}
		p.ApplyTo(d)
	default:
		return nil, fmt.Errorf("unexpected payload %T", payload)
	}

	if f.clobber {
		for i := range d.Ingredients {
			scale(&d.Ingredients[i], 2)
		}
	}
	d.Macros = d.IngredientTotals()
	if f.driftAggregate {
		d.Calories += 40
	}
	return d.Clone(), nil
}

func scale(ing *models.Ingredient, k float64) {
	ing.Weight *= k
	ing.Calories *= k
	ing.Proteins *= k
	ing.Fats *= k
	ing.Carbs *= k
}

func (f *fakeServer) Confirm(ctx context.Context, req ConfirmRequest) (*models.Meal, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if err := f.confirmErr; err != nil {
		f.confirmErr = nil
		return nil, "", err
	}
	f.confirmed = append(f.confirmed, req)
	meal := models.NewMealFromDraft(req.Owner, req.Draft, req.Slot, req.Draft.CreatedAt)
	meal.ID = uint(len(f.confirmed))
	return meal, "Nice balance of carbs and vegetables.", nil
}

func (f *fakeServer) Discard(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, id)
	return nil
}

func (f *fakeServer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeServer) lastCall() recomputeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}
