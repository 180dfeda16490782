package drafts

import (
	"context"
	"errors"
	"sort"

	"github.com/Andrlu75/healtCoach-sub000/apperrors"
	"github.com/Andrlu75/healtCoach-sub000/logger"
	"github.com/Andrlu75/healtCoach-sub000/models"
)

// command is one reversible draft mutation. apply changes the visible view
// optimistically and returns the compensation run when the server rejects
// the change.
type command struct {
	op Operation
	// target is the ingredient index the operation is about, -1 for none.
	target int
	// prepare runs under the engine lock against the last server state and
	// builds the request payload. errNoChange turns the call into a no-op.
	prepare func(server *models.Draft) (any, error)
	apply   func(view *models.Draft) (undo func())
	// remap maps an ingredient index before the operation to its index in
	// the recomputed draft.
	remap func(int) (int, bool)
	// finish adjusts the merged draft before it is stored.
	finish func(merged *models.Draft)
}

func (e *Engine) run(ctx context.Context, id string, cmd command) (*models.Draft, error) {
	op := string(cmd.op)

	e.mu.Lock()
	s, err := e.pendingSession(id)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if s.inFlight {
		e.mu.Unlock()
		return nil, apperrors.New(apperrors.KindRecompute, op, id, apperrors.ErrBusy)
	}
	payload, err := cmd.prepare(s.server)
	if errors.Is(err, errNoChange) {
		snapshot := s.view.Clone()
		e.mu.Unlock()
		logger.Debug("draft change is a no-op", "draft", id, "op", op)
		return snapshot, nil
	}
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	s.inFlight, s.inFlightOp = true, op
	gen := s.gen
	base := s.server.Clone()
	var undo func()
	if cmd.apply != nil {
		undo = cmd.apply(s.view)
	}
	s.view.Processing = true
	owner := s.owner
	processing := s.view.Clone()
	e.mu.Unlock()

	e.emit(Event{Kind: EventProcessing, Owner: owner, DraftID: id, Draft: processing})
	rctx, cancel := e.remoteContext(ctx)
	resp, rerr := e.opts.Recomputer.Recompute(rctx, id, cmd.op, payload)
	cancel()

	e.mu.Lock()
	if cur, ok := e.sessions[id]; !ok || cur != s || s.gen != gen {
		var snapshot *models.Draft
		if ok {
			snapshot = cur.view.Clone()
		}
		e.mu.Unlock()
		logger.Debug("dropping stale recompute response", "draft", id, "op", op)
		return snapshot, apperrors.New(apperrors.KindStale, op, id, nil)
	}
	s.inFlight, s.inFlightOp = false, ""
	s.touchedAt = e.opts.Now()

	if rerr == nil && (resp == nil || (resp.ID != "" && resp.ID != id)) {
		rerr = errors.New("recompute returned a different draft")
	}
	if rerr != nil {
		if undo != nil {
			undo()
		}
		s.view.Processing = false
		snapshot := s.view.Clone()
		e.mu.Unlock()
		logger.Warn("draft change failed", "draft", id, "op", op, "err", rerr)
		e.emit(Event{Kind: EventFailed, Owner: owner, DraftID: id, Draft: snapshot.Clone(), Err: rerr.Error()})
		return snapshot, apperrors.New(apperrors.KindRecompute, op, id, rerr)
	}

	merged := e.reconcile(base, resp, cmd)
	s.server = merged
	s.view = merged.Clone()
	snapshot := merged.Clone()
	e.mu.Unlock()

	e.emit(Event{Kind: EventUpdated, Owner: owner, DraftID: id, Draft: snapshot.Clone()})
	return snapshot, nil
}

// reconcile merges a recomputed draft into the last known server state.
// Locked ingredients not targeted by the operation keep their values even if
// the server changed them; the aggregate then mirrors the ingredient sums.
func (e *Engine) reconcile(base, resp *models.Draft, cmd command) *models.Draft {
	merged := resp.Clone()
	merged.ID = base.ID
	merged.Status = models.DraftPending
	merged.Processing = false
	merged.CreatedAt = base.CreatedAt
	if merged.PhotoKey == "" {
		merged.PhotoKey = base.PhotoKey
	}
	if merged.PhotoURL == "" {
		merged.PhotoURL = base.PhotoURL
	}
	if merged.Ingredients == nil {
		merged.Ingredients = []models.Ingredient{}
	}

	restored := false
	for i, prev := range base.Ingredients {
		if !prev.IsUserEdited || i == cmd.target {
			continue
		}
		j, ok := cmd.remap(i)
		if !ok || j >= len(merged.Ingredients) {
			continue
		}
		got := &merged.Ingredients[j]
		if !got.SameValues(prev) {
			logger.Warn("server changed a locked ingredient, keeping user values",
				"draft", base.ID, "op", cmd.op, "ingredient", prev.Name)
			*got = prev
			restored = true
		}
		got.IsUserEdited = true
	}
	if cmd.finish != nil {
		cmd.finish(merged)
	}
	e.settleTotals(merged, restored)
	return merged
}

// settleTotals keeps the aggregate equal to the ingredient sums. The server
// figures are kept when they agree within tolerance.
func (e *Engine) settleTotals(d *models.Draft, force bool) {
	totals := d.IngredientTotals()
	if force {
		d.Macros = totals
		return
	}
	if len(d.Ingredients) == 0 && d.Macros == (models.Macros{}) {
		return
	}
	if !d.Macros.Within(totals, e.opts.Tolerance) {
		logger.Warn("draft aggregate drifted from ingredient sums",
			"draft", d.ID, "aggregate_kcal", d.Calories, "sum_kcal", totals.Calories)
		d.Macros = totals
	}
}

func sortByCreated(ds []*models.Draft) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].CreatedAt.Equal(ds[j].CreatedAt) {
			return ds[i].ID < ds[j].ID
		}
		return ds[i].CreatedAt.Before(ds[j].CreatedAt)
	})
}
