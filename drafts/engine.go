// Package drafts keeps AI-produced meal drafts consistent while users edit
// them. The remote nutrition service is the only authority for macro math;
// the engine issues minimal diff-based mutations, merges the recomputed
// drafts it gets back and guarantees that user-locked ingredients survive
// recomputations triggered by other edits.
package drafts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Andrlu75/healtCoach-sub000/apperrors"
	"github.com/Andrlu75/healtCoach-sub000/logger"
	"github.com/Andrlu75/healtCoach-sub000/models"
)

// DefaultTolerance is the accepted drift between the aggregate and the sum
// of ingredient macros, covering server-side rounding.
const DefaultTolerance = 0.5

// DefaultRemoteTimeout matches the AI service's slowest recomputations.
const DefaultRemoteTimeout = 3 * time.Minute

const opConfirm = "confirm"

var errNoChange = errors.New("no change")

type Options struct {
	Analyzer   Analyzer
	Recomputer Recomputer
	Confirmer  Confirmer
	// Discarder is optional.
	Discarder Discarder
	// Observer receives lifecycle events outside the engine lock.
	Observer func(Event)

	Tolerance float64
	// TerminalTTL is how long ended drafts stay around so late responses
	// still find them. Defaults to one hour.
	TerminalTTL time.Duration
	// IdleTTL evicts pending drafts nobody touched for that long. Zero keeps them.
	IdleTTL time.Duration
	// RemoteTimeout bounds recompute and confirm calls, which run detached
	// from the caller's context. Defaults to DefaultRemoteTimeout.
	RemoteTimeout time.Duration
	Now           func() time.Time
}

type session struct {
	owner  uint
	server *models.Draft // last authoritative state
	view   *models.Draft // what callers see, including optimistic changes

	// gen changes whenever the session stops accepting responses issued
	// before that point.
	gen        uint64
	inFlight   bool
	inFlightOp string
	touchedAt  time.Time
}

// Engine owns every active draft session, keyed by draft id.
type Engine struct {
	mu       sync.Mutex
	sessions map[string]*session
	opts     Options
}

func NewEngine(opts Options) *Engine {
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	if opts.TerminalTTL <= 0 {
		opts.TerminalTTL = time.Hour
	}
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = DefaultRemoteTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{sessions: make(map[string]*session), opts: opts}
}

// ConfirmResult is returned by Confirm.
type ConfirmResult struct {
	Draft      *models.Draft `json:"draft"`
	Meal       *models.Meal  `json:"meal"`
	Commentary string        `json:"commentary,omitempty"`
}

// CreateDraft analyzes a photo and opens a session for the resulting draft.
// On failure the returned error carries the photo key so the caller can
// retry with the same photo.
func (e *Engine) CreateDraft(ctx context.Context, owner uint, req AnalysisRequest) (*models.Draft, error) {
	d, err := e.opts.Analyzer.Analyze(ctx, req)
	if err == nil && (d == nil || d.ID == "") {
		err = errors.New("analysis returned no draft")
	}
	if err != nil {
		var ae *apperrors.Error
		if !errors.As(err, &ae) || ae.Kind != apperrors.KindAnalysis {
			ae = apperrors.New(apperrors.KindAnalysis, "create_draft", "", err)
		}
		if req.Photo.Key != "" {
			ae.WithDetail("photo_key", req.Photo.Key)
		}
		return nil, ae
	}

	d = d.Clone()
	d.Status = models.DraftPending
	d.Processing = false
	if d.CreatedAt.IsZero() {
		d.CreatedAt = e.opts.Now()
	}
	if d.PhotoKey == "" {
		d.PhotoKey = req.Photo.Key
	}
	if d.PhotoURL == "" {
		d.PhotoURL = req.Photo.URL
	}
	if d.Ingredients == nil {
		d.Ingredients = []models.Ingredient{}
	}
	e.settleTotals(d, false)

	e.mu.Lock()
	if _, exists := e.sessions[d.ID]; exists {
		e.mu.Unlock()
		return nil, apperrors.New(apperrors.KindAnalysis, "create_draft", d.ID,
			errors.New("draft id already in use"))
	}
	e.sessions[d.ID] = &session{
		owner:     owner,
		server:    d,
		view:      d.Clone(),
		touchedAt: e.opts.Now(),
	}
	e.mu.Unlock()

	logger.Info("draft created", "draft", d.ID, "owner", owner, "ingredients", len(d.Ingredients))
	e.emit(Event{Kind: EventUpdated, Owner: owner, DraftID: d.ID, Draft: d.Clone()})
	return d.Clone(), nil
}

// Get returns the visible state of a draft. Processing is true while a
// change is in flight.
func (e *Engine) Get(id string) (*models.Draft, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	if !ok {
		return nil, fmt.Errorf("draft %s: %w", id, apperrors.ErrNotFound)
	}
	return s.view.Clone(), nil
}

// OwnedBy reports whether the draft exists and belongs to owner.
func (e *Engine) OwnedBy(id string, owner uint) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	return ok && s.owner == owner
}

// List returns the owner's pending drafts, oldest first.
func (e *Engine) List(owner uint) []*models.Draft {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*models.Draft
	for _, s := range e.sessions {
		if s.owner == owner && !s.server.Status.Terminal() {
			out = append(out, s.view.Clone())
		}
	}
	sortByCreated(out)
	return out
}

// AddIngredient appends a user-named ingredient and lets the server
// estimate it.
func (e *Engine) AddIngredient(ctx context.Context, id, name string) (*models.Draft, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: ingredient name must not be blank", apperrors.ErrInvalidInput)
	}
	var before int
	return e.run(ctx, id, command{
		op:     OpAddIngredient,
		target: -1,
		prepare: func(server *models.Draft) (any, error) {
			before = len(server.Ingredients)
			return AddPayload{Name: name}, nil
		},
		apply: func(view *models.Draft) func() {
			n := len(view.Ingredients)
			view.Ingredients = append(view.Ingredients, models.Ingredient{Name: name})
			return func() { view.Ingredients = view.Ingredients[:n] }
		},
		remap: identity,
		finish: func(merged *models.Draft) {
			if len(merged.Ingredients) == before+1 {
				added := &merged.Ingredients[before]
				added.IsAIDetected = false
				added.IsUserEdited = false
			}
		},
	})
}

// RemoveIngredient drops the ingredient at index. The remaining totals come
// from the server.
func (e *Engine) RemoveIngredient(ctx context.Context, id string, index int) (*models.Draft, error) {
	return e.run(ctx, id, command{
		op:     OpRemoveIngredient,
		target: index,
		prepare: func(server *models.Draft) (any, error) {
			if err := checkIndex(server, index); err != nil {
				return nil, err
			}
			return RemovePayload{Index: index}, nil
		},
		apply: func(view *models.Draft) func() {
			prev := append([]models.Ingredient(nil), view.Ingredients...)
			view.Ingredients = append(view.Ingredients[:index:index], view.Ingredients[index+1:]...)
			return func() { view.Ingredients = prev }
		},
		remap: func(i int) (int, bool) {
			switch {
			case i < index:
				return i, true
			case i == index:
				return 0, false
			default:
				return i - 1, true
			}
		},
	})
}

// EditIngredient sends only the fields that differ from the last known
// server values. An empty diff returns the current draft without a call.
// A successful edit locks the ingredient for the rest of the draft's life.
func (e *Engine) EditIngredient(ctx context.Context, id string, index int, patch IngredientPatch) (*models.Draft, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	var diff IngredientPatch
	return e.run(ctx, id, command{
		op:     OpUpdateIngredient,
		target: index,
		prepare: func(server *models.Draft) (any, error) {
			if err := checkIndex(server, index); err != nil {
				return nil, err
			}
			diff = patch.Diff(server.Ingredients[index])
			if diff.Empty() {
				return nil, errNoChange
			}
			return UpdateIngredientPayload{Index: index, Fields: diff}, nil
		},
		apply: func(view *models.Draft) func() {
			prev := view.Ingredients[index]
			diff.ApplyTo(&view.Ingredients[index])
			view.Ingredients[index].IsUserEdited = true
			return func() { view.Ingredients[index] = prev }
		},
		remap: identity,
		finish: func(merged *models.Draft) {
			if index < len(merged.Ingredients) {
				merged.Ingredients[index].IsUserEdited = true
			}
		},
	})
}

// UpdateDraftMeta changes dish name, type or estimated weight. A weight
// change makes the server rescale every ingredient that is not locked.
func (e *Engine) UpdateDraftMeta(ctx context.Context, id string, patch MetaPatch) (*models.Draft, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	var diff MetaPatch
	return e.run(ctx, id, command{
		op:     OpUpdateMeta,
		target: -1,
		prepare: func(server *models.Draft) (any, error) {
			diff = patch.Diff(server)
			if diff.Empty() {
				return nil, errNoChange
			}
			return diff, nil
		},
		apply: func(view *models.Draft) func() {
			name, typ, weight := view.DishName, view.DishType, view.EstimatedWeight
			diff.ApplyTo(view)
			return func() { view.DishName, view.DishType, view.EstimatedWeight = name, typ, weight }
		},
		remap: identity,
	})
}

// Confirm persists the draft as a meal and ends the session.
func (e *Engine) Confirm(ctx context.Context, id string, slot *models.MealSlot) (*ConfirmResult, error) {
	e.mu.Lock()
	s, err := e.pendingSession(id)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if s.inFlight {
		e.mu.Unlock()
		return nil, fmt.Errorf("confirm %s: %w", id, apperrors.ErrBusy)
	}
	s.inFlight, s.inFlightOp = true, opConfirm
	s.view.Processing = true
	gen := s.gen
	req := ConfirmRequest{Owner: s.owner, Draft: s.server.Clone(), Slot: slot}
	e.mu.Unlock()

	e.emit(Event{Kind: EventProcessing, Owner: req.Owner, DraftID: id, Draft: req.Draft})
	rctx, cancel := e.remoteContext(ctx)
	meal, commentary, cerr := e.opts.Confirmer.Confirm(rctx, req)
	cancel()

	e.mu.Lock()
	if cur, ok := e.sessions[id]; !ok || cur != s || s.gen != gen {
		e.mu.Unlock()
		logger.Warn("dropping stale confirm response", "draft", id)
		return nil, apperrors.New(apperrors.KindStale, opConfirm, id, nil)
	}
	s.inFlight, s.inFlightOp = false, ""
	s.view.Processing = false
	s.touchedAt = e.opts.Now()
	if cerr != nil {
		snapshot := s.view.Clone()
		e.mu.Unlock()
		logger.Error("confirm failed", "draft", id, "err", cerr)
		e.emit(Event{Kind: EventFailed, Owner: req.Owner, DraftID: id, Draft: snapshot, Err: cerr.Error()})
		return nil, apperrors.New(apperrors.KindConfirm, opConfirm, id, cerr)
	}
	s.gen++
	s.server.Status = models.DraftConfirmed
	s.view = s.server.Clone()
	snapshot := s.view.Clone()
	e.mu.Unlock()

	logger.Info("draft confirmed", "draft", id, "owner", req.Owner)
	e.emit(Event{Kind: EventConfirmed, Owner: req.Owner, DraftID: id, Draft: snapshot.Clone()})
	return &ConfirmResult{Draft: snapshot, Meal: meal, Commentary: commentary}, nil
}

// Cancel ends the draft without creating a meal. Requests still in flight
// are left to finish; their responses are discarded.
func (e *Engine) Cancel(ctx context.Context, id string) (*models.Draft, error) {
	e.mu.Lock()
	s, err := e.pendingSession(id)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if s.inFlight && s.inFlightOp == opConfirm {
		e.mu.Unlock()
		return nil, fmt.Errorf("cancel %s: %w", id, apperrors.ErrBusy)
	}
	s.gen++
	s.inFlight, s.inFlightOp = false, ""
	s.server.Status = models.DraftCancelled
	s.view = s.server.Clone()
	s.touchedAt = e.opts.Now()
	snapshot := s.view.Clone()
	owner := s.owner
	e.mu.Unlock()

	logger.Info("draft cancelled", "draft", id, "owner", owner)
	e.emit(Event{Kind: EventCancelled, Owner: owner, DraftID: id, Draft: snapshot.Clone()})
	if e.opts.Discarder != nil {
		if err := e.opts.Discarder.Discard(ctx, id); err != nil {
			logger.Warn("remote discard failed", "draft", id, "err", err)
		}
	}
	return snapshot, nil
}

// Sweep evicts ended sessions older than TerminalTTL and, when IdleTTL is
// set, pending sessions idle for longer than that. It returns how many
// sessions were removed.
func (e *Engine) Sweep(ctx context.Context) int {
	now := e.opts.Now()
	var abandoned []string

	e.mu.Lock()
	removed := 0
	for id, s := range e.sessions {
		switch {
		case s.server.Status.Terminal() && now.Sub(s.touchedAt) > e.opts.TerminalTTL:
		case e.opts.IdleTTL > 0 && !s.inFlight && !s.server.Status.Terminal() && now.Sub(s.touchedAt) > e.opts.IdleTTL:
			abandoned = append(abandoned, id)
		default:
			continue
		}
		delete(e.sessions, id)
		removed++
	}
	e.mu.Unlock()

	if e.opts.Discarder != nil {
		for _, id := range abandoned {
			if err := e.opts.Discarder.Discard(ctx, id); err != nil {
				logger.Warn("remote discard of idle draft failed", "draft", id, "err", err)
			}
		}
	}
	if removed > 0 {
		logger.Debug("swept draft sessions", "removed", removed, "abandoned", len(abandoned))
	}
	return removed
}

// remoteContext keeps a remote call running when the caller goes away. The
// answer is then merged, or dropped as stale, like any other.
func (e *Engine) remoteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.opts.RemoteTimeout)
}

// pendingSession must be called with e.mu held.
func (e *Engine) pendingSession(id string) (*session, error) {
	s, ok := e.sessions[id]
	if !ok {
		return nil, fmt.Errorf("draft %s: %w", id, apperrors.ErrNotFound)
	}
	if s.server.Status.Terminal() {
		return nil, fmt.Errorf("draft %s is %s: %w", id, s.server.Status, apperrors.ErrTerminal)
	}
	return s, nil
}

func (e *Engine) emit(ev Event) {
	if e.opts.Observer != nil {
		e.opts.Observer(ev)
	}
}

func checkIndex(d *models.Draft, index int) error {
	if index < 0 || index >= len(d.Ingredients) {
		return fmt.Errorf("%w: ingredient index %d out of range [0,%d)",
			apperrors.ErrInvalidInput, index, len(d.Ingredients))
	}
	return nil
}

func identity(i int) (int, bool) { return i, true }
