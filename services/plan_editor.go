package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Andrlu75/healtCoach-sub000/apperrors"
	"github.com/Andrlu75/healtCoach-sub000/autosave"
	"github.com/Andrlu75/healtCoach-sub000/highlight"
	"github.com/Andrlu75/healtCoach-sub000/logger"
	"github.com/Andrlu75/healtCoach-sub000/models"
)

// PlanRepository loads and fully replaces day plans.
type PlanRepository interface {
	Get(ctx context.Context, programID uint, day int) (*models.DayPlan, error)
	Replace(ctx context.Context, plan *models.DayPlan) error
}

// Broadcaster delivers realtime messages to a user.
type Broadcaster interface {
	Broadcast(userID uint, payload any)
}

type PlanKey struct {
	ProgramID uint `json:"program_id"`
	Day       int  `json:"day_number"`
}

func (k PlanKey) String() string {
	return fmt.Sprintf("program-%d/day-%d", k.ProgramID, k.Day)
}

// PlanView is what the editor shows for an open plan.
type PlanView struct {
	Plan  *models.DayPlan `json:"plan"`
	State autosave.State  `json:"autosave"`
}

// PlanStatusEvent is broadcast whenever the autosave state of a plan changes.
type PlanStatusEvent struct {
	Kind  string         `json:"kind"`
	Key   PlanKey        `json:"plan"`
	State autosave.State `json:"autosave"`
}

type MealHighlights struct {
	Index int              `json:"index"`
	Name  []highlight.Span `json:"name"`
	Text  []highlight.Span `json:"description"`
}

type planSession struct {
	key   PlanKey
	owner uint

	mu        sync.Mutex
	doc       *models.DayPlan
	touchedAt time.Time

	ctrl *autosave.Controller
}

func (s *planSession) snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(s.doc)
}

func (s *planSession) view() *PlanView {
	s.mu.Lock()
	doc := *s.doc
	s.mu.Unlock()
	return &PlanView{Plan: &doc, State: s.ctrl.State()}
}

type PlanEditorOptions struct {
	Delay      time.Duration
	RetryDelay time.Duration
	// IdleTTL closes plans nobody touched for that long. Zero keeps them.
	IdleTTL time.Duration
	Clock   autosave.Clock
}

// PlanEditor holds the day plans currently open in the console. Each open
// plan autosaves through its own debounced controller.
type PlanEditor struct {
	repo PlanRepository
	hub  Broadcaster
	opts PlanEditorOptions

	mu       sync.Mutex
	sessions map[PlanKey]*planSession
}

func NewPlanEditor(repo PlanRepository, hub Broadcaster, opts PlanEditorOptions) *PlanEditor {
	if opts.Clock == nil {
		opts.Clock = autosave.RealClock
	}
	return &PlanEditor{repo: repo, hub: hub, opts: opts, sessions: make(map[PlanKey]*planSession)}
}

// Open loads the plan into an editing session, starting from a blank plan
// when none is stored yet. Reopening an open plan returns the live session.
func (e *PlanEditor) Open(ctx context.Context, owner uint, key PlanKey) (*PlanView, error) {
	if key.ProgramID == 0 || key.Day < 1 {
		return nil, fmt.Errorf("%w: program and day >= 1 are required", apperrors.ErrInvalidInput)
	}

	e.mu.Lock()
	if s, ok := e.sessions[key]; ok {
		defer e.mu.Unlock()
		if s.owner != owner {
			return nil, fmt.Errorf("plan %s is being edited by another user: %w", key, apperrors.ErrBusy)
		}
		e.touch(s)
		return s.view(), nil
	}
	e.mu.Unlock()

	doc, err := e.repo.Get(ctx, key.ProgramID, key.Day)
	if errors.Is(err, apperrors.ErrNotFound) {
		doc = &models.DayPlan{ProgramID: key.ProgramID, DayNumber: key.Day}
	} else if err != nil {
		return nil, err
	}

	s := &planSession{key: key, owner: owner, doc: doc, touchedAt: e.opts.Clock.Now()}
	s.ctrl = autosave.New(s.snapshot, autosave.PersistFunc(func(ctx context.Context, payload []byte) error {
		var plan models.DayPlan
		if err := json.Unmarshal(payload, &plan); err != nil {
			return err
		}
		return e.repo.Replace(ctx, &plan)
	}), autosave.Options{
		Name:       key.String(),
		Delay:      e.opts.Delay,
		RetryDelay: e.opts.RetryDelay,
		Clock:      e.opts.Clock,
		OnChange: func(st autosave.State) {
			if e.hub != nil {
				e.hub.Broadcast(owner, PlanStatusEvent{Kind: "plan.autosave", Key: key, State: st})
			}
		},
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.sessions[key]; ok {
		// lost an open race
		if cur.owner != owner {
			return nil, fmt.Errorf("plan %s is being edited by another user: %w", key, apperrors.ErrBusy)
		}
		return cur.view(), nil
	}
	e.sessions[key] = s
	logger.Info("plan opened", "plan", key.String(), "user", owner)
	return s.view(), nil
}

// Apply replaces the working document with doc and schedules an autosave.
func (e *PlanEditor) Apply(owner uint, key PlanKey, doc models.DayPlan) (*PlanView, error) {
	s, err := e.session(owner, key)
	if err != nil {
		return nil, err
	}
	if doc.ProgramID == 0 && doc.DayNumber == 0 {
		doc.ProgramID, doc.DayNumber = key.ProgramID, key.Day
	}
	if doc.ProgramID != key.ProgramID || doc.DayNumber != key.Day {
		return nil, fmt.Errorf("%w: document belongs to program %d day %d", apperrors.ErrInvalidInput, doc.ProgramID, doc.DayNumber)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
	}

	s.mu.Lock()
	s.doc = &doc
	s.mu.Unlock()
	s.ctrl.MarkDirty()
	return s.view(), nil
}

// Get returns the live view of an open plan.
func (e *PlanEditor) Get(owner uint, key PlanKey) (*PlanView, error) {
	s, err := e.session(owner, key)
	if err != nil {
		return nil, err
	}
	return s.view(), nil
}

// Save persists pending edits now.
func (e *PlanEditor) Save(ctx context.Context, owner uint, key PlanKey) (*PlanView, error) {
	s, err := e.session(owner, key)
	if err != nil {
		return nil, err
	}
	if err := s.ctrl.Flush(ctx); err != nil {
		return s.view(), err
	}
	return s.view(), nil
}

func (e *PlanEditor) CheckExit(owner uint, key PlanKey) (autosave.ExitDecision, error) {
	s, err := e.session(owner, key)
	if err != nil {
		return autosave.ExitDecision{}, err
	}
	return s.ctrl.CheckExit(), nil
}

// Leave closes the editing session. An intentional leave drops unsaved
// edits; otherwise pending edits are saved first and a failed save keeps
// the session open.
func (e *PlanEditor) Leave(ctx context.Context, owner uint, key PlanKey, intentional bool) (autosave.ExitDecision, error) {
	s, err := e.session(owner, key)
	if err != nil {
		return autosave.ExitDecision{}, err
	}
	if intentional {
		s.ctrl.MarkIntentionalExit()
	} else if err := s.ctrl.SaveAndLeave(ctx); err != nil {
		return s.ctrl.CheckExit(), err
	}

	e.mu.Lock()
	if e.sessions[key] == s {
		delete(e.sessions, key)
	}
	e.mu.Unlock()
	if err := s.ctrl.Close(ctx); err != nil {
		logger.Warn("closing plan session", "plan", key.String(), "err", err)
	}
	logger.Info("plan closed", "plan", key.String(), "user", owner, "intentional", intentional)
	return autosave.ExitDecision{Allowed: true}, nil
}

// Highlights marks shopping-list items in the names and descriptions of
// the plan's meals.
func (e *PlanEditor) Highlights(owner uint, key PlanKey) ([]MealHighlights, error) {
	s, err := e.session(owner, key)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	doc := *s.doc
	s.mu.Unlock()

	m := highlight.NewMatcher(doc.Vocabulary())
	out := make([]MealHighlights, 0, len(doc.Meals))
	for i, meal := range doc.Meals {
		out = append(out, MealHighlights{
			Index: i,
			Name:  m.Match(meal.Name),
			Text:  m.Match(meal.Description),
		})
	}
	return out, nil
}

// Close flushes and closes every open plan. Used on shutdown.
func (e *PlanEditor) Close(ctx context.Context) error {
	e.mu.Lock()
	sessions := make([]*planSession, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.sessions = make(map[PlanKey]*planSession)
	e.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.ctrl.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.key, err))
		}
	}
	return errors.Join(errs...)
}

// Sweep saves and closes plans idle for longer than IdleTTL. A plan whose
// save fails stays open. It returns how many plans were closed.
func (e *PlanEditor) Sweep(ctx context.Context) int {
	if e.opts.IdleTTL <= 0 {
		return 0
	}
	e.mu.Lock()
	var idle []*planSession
	for _, s := range e.sessions {
		if e.idle(s) {
			idle = append(idle, s)
		}
	}
	e.mu.Unlock()

	closed := 0
	for _, s := range idle {
		if err := s.ctrl.Flush(ctx); err != nil {
			logger.Warn("idle plan not saved, keeping it open", "plan", s.key.String(), "err", err)
			continue
		}
		e.mu.Lock()
		evict := e.sessions[s.key] == s && e.idle(s)
		if evict {
			delete(e.sessions, s.key)
		}
		e.mu.Unlock()
		if !evict {
			continue
		}
		if err := s.ctrl.Close(ctx); err != nil {
			logger.Warn("closing idle plan", "plan", s.key.String(), "err", err)
		}
		closed++
		logger.Info("idle plan closed", "plan", s.key.String(), "user", s.owner)
	}
	return closed
}

// idle must be called with e.mu held.
func (e *PlanEditor) idle(s *planSession) bool {
	s.mu.Lock()
	touched := s.touchedAt
	s.mu.Unlock()
	return e.opts.Clock.Now().Sub(touched) > e.opts.IdleTTL && s.ctrl.State().Phase != autosave.PhaseInFlight
}

func (e *PlanEditor) session(owner uint, key PlanKey) (*planSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[key]
	if !ok || s.owner != owner {
		return nil, fmt.Errorf("plan %s is not open: %w", key, apperrors.ErrNotFound)
	}
	e.touch(s)
	return s, nil
}

func (e *PlanEditor) touch(s *planSession) {
	s.mu.Lock()
	s.touchedAt = e.opts.Clock.Now()
	s.mu.Unlock()
}
