package drafts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Andrlu75/healtCoach-sub000/apperrors"
	"github.com/Andrlu75/healtCoach-sub000/models"
)

const owner uint = 7

func ptr[T any](v T) *T { return &v }

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Kind)
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *fakeServer, *eventLog) {
	t.Helper()
	srv := newFakeServer()
	log := &eventLog{}
	e := NewEngine(Options{
		Analyzer:   srv,
		Recomputer: srv,
		Confirmer:  srv,
		Discarder:  srv,
		Observer:   log.record,
	})
	return e, srv, log
}

func createRice(t *testing.T, e *Engine) *models.Draft {
	t.Helper()
	d, err := e.CreateDraft(context.Background(), owner, AnalysisRequest{
		Photo:    models.Photo{Key: "meal-photos/7/rice.jpg", ContentType: "image/jpeg", Data: []byte{0xff}},
		MealType: "lunch",
	})
	require.NoError(t, err)
	return d
}

func assertConsistent(t *testing.T, d *models.Draft) {
	t.Helper()
	assert.True(t, d.Macros.Within(d.IngredientTotals(), DefaultTolerance),
		"aggregate %+v should equal ingredient sums %+v", d.Macros, d.IngredientTotals())
}

func TestEngine_EndToEnd(t *testing.T) {
	ctx := context.Background()
	e, srv, _ := newTestEngine(t)

	d := createRice(t, e)
	require.Len(t, d.Ingredients, 1)
	assert.Equal(t, "rice", d.Ingredients[0].Name)
	assert.Equal(t, 150.0, d.Ingredients[0].Weight)
	assert.True(t, d.Ingredients[0].IsAIDetected)
	assert.Equal(t, 150.0, d.EstimatedWeight)
	assert.Equal(t, models.DraftPending, d.Status)
	assert.Equal(t, "meal-photos/7/rice.jpg", d.PhotoKey)

	// unchanged fields are not sent
	d, err := e.EditIngredient(ctx, d.ID, 0, IngredientPatch{Weight: ptr(200.0), Calories: ptr(d.Ingredients[0].Calories)})
	require.NoError(t, err)
	call := srv.lastCall()
	assert.Equal(t, OpUpdateIngredient, call.Op)
	assert.Equal(t, UpdateIngredientPayload{Index: 0, Fields: IngredientPatch{Weight: ptr(200.0)}}, call.Payload)
	assert.True(t, d.Ingredients[0].IsUserEdited)
	assert.Equal(t, 200.0, d.Ingredients[0].Weight)
	assert.InDelta(t, 260.0, d.Ingredients[0].Calories, 0.001)
	assertConsistent(t, d)
	rice := d.Ingredients[0]

	d, err = e.AddIngredient(ctx, d.ID, "cucumber")
	require.NoError(t, err)
	require.Len(t, d.Ingredients, 2)
	assert.Equal(t, rice, d.Ingredients[0])
	assert.Equal(t, "cucumber", d.Ingredients[1].Name)
	assert.False(t, d.Ingredients[1].IsAIDetected)
	assert.False(t, d.Ingredients[1].IsUserEdited)
	assertConsistent(t, d)

	res, err := e.Confirm(ctx, d.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Meal)
	assert.Equal(t, models.DraftConfirmed, res.Draft.Status)
	assert.Len(t, res.Meal.Items, 2)
	assert.NotEmpty(t, res.Commentary)

	calls := srv.callCount()
	_, err = e.AddIngredient(ctx, d.ID, "salt")
	assert.ErrorIs(t, err, apperrors.ErrTerminal)
	_, err = e.Cancel(ctx, d.ID)
	assert.ErrorIs(t, err, apperrors.ErrTerminal)
	_, err = e.Confirm(ctx, d.ID, nil)
	assert.ErrorIs(t, err, apperrors.ErrTerminal)
	assert.Equal(t, calls, srv.callCount())
}

func TestEngine_EditWithoutChangesSkipsNetwork(t *testing.T) {
	e, srv, _ := newTestEngine(t)
	d := createRice(t, e)

	got, err := e.EditIngredient(context.Background(), d.ID, 0, IngredientPatch{
		Name:   ptr("rice"),
		Weight: ptr(150.0),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, srv.callCount())
	assert.False(t, got.Ingredients[0].IsUserEdited, "no-op must not lock")

	got, err = e.UpdateDraftMeta(context.Background(), d.ID, MetaPatch{DishName: ptr(" Rice ")})
	require.NoError(t, err)
	assert.Equal(t, 0, srv.callCount())
	assert.Equal(t, "Rice", got.DishName)
}

func TestEngine_LockedIngredientSurvivesOtherOperations(t *testing.T) {
	ctx := context.Background()
	e, srv, _ := newTestEngine(t)
	d := createRice(t, e)

	d, err := e.AddIngredient(ctx, d.ID, "chicken")
	require.NoError(t, err)
	d, err = e.EditIngredient(ctx, d.ID, 0, IngredientPatch{Weight: ptr(120.0)})
	require.NoError(t, err)
	locked := d.Ingredients[0]
	require.True(t, locked.IsUserEdited)

	// the server misbehaves and rescales everything
	srv.mu.Lock()
	srv.clobber = true
	srv.mu.Unlock()

	d, err = e.AddIngredient(ctx, d.ID, "cucumber")
	require.NoError(t, err)
	require.Len(t, d.Ingredients, 3)
	assert.Equal(t, locked, d.Ingredients[0])
	assertConsistent(t, d)

	d, err = e.RemoveIngredient(ctx, d.ID, 1)
	require.NoError(t, err)
	require.Len(t, d.Ingredients, 2)
	assert.Equal(t, locked, d.Ingredients[0])
	assert.Equal(t, "cucumber", d.Ingredients[1].Name)
	assertConsistent(t, d)
}

func TestEngine_RemoveShiftsLockedIndex(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t)
	d := createRice(t, e)

	d, err := e.AddIngredient(ctx, d.ID, "chicken")
	require.NoError(t, err)
	d, err = e.EditIngredient(ctx, d.ID, 1, IngredientPatch{Calories: ptr(150.0)})
	require.NoError(t, err)
	locked := d.Ingredients[1]

	d, err = e.RemoveIngredient(ctx, d.ID, 0)
	require.NoError(t, err)
	require.Len(t, d.Ingredients, 1)
	assert.Equal(t, locked, d.Ingredients[0])
	assert.True(t, d.Ingredients[0].IsUserEdited)
	assertConsistent(t, d)
}

func TestEngine_WeightChangeSkipsLockedIngredients(t *testing.T) {
	ctx := context.Background()
	e, srv, _ := newTestEngine(t)
	d := createRice(t, e)

	d, err := e.AddIngredient(ctx, d.ID, "chicken")
	require.NoError(t, err)
	d, err = e.EditIngredient(ctx, d.ID, 0, IngredientPatch{Weight: ptr(100.0)})
	require.NoError(t, err)
	locked := d.Ingredients[0]
	chicken := d.Ingredients[1]

	d, err = e.UpdateDraftMeta(ctx, d.ID, MetaPatch{EstimatedWeight: ptr(300.0)})
	require.NoError(t, err)
	assert.Equal(t, MetaPatch{EstimatedWeight: ptr(300.0)}, srv.lastCall().Payload)
	assert.Equal(t, 300.0, d.EstimatedWeight)
	assert.Equal(t, locked, d.Ingredients[0])
	assert.InDelta(t, chicken.Weight*2, d.Ingredients[1].Weight, 0.001)
	assertConsistent(t, d)
}

func TestEngine_AggregateMirrorsIngredientSums(t *testing.T) {
	e, srv, _ := newTestEngine(t)
	d := createRice(t, e)

	srv.mu.Lock()
	srv.driftAggregate = true
	srv.mu.Unlock()

	d, err := e.AddIngredient(context.Background(), d.ID, "cucumber")
	require.NoError(t, err)
	assertConsistent(t, d)
}

func TestEngine_FailedMutationKeepsLastGoodDraft(t *testing.T) {
	ctx := context.Background()
	e, srv, log := newTestEngine(t)
	before := createRice(t, e)

	srv.mu.Lock()
	srv.failNext = errors.New("upstream timeout")
	srv.mu.Unlock()

	_, err := e.RemoveIngredient(ctx, before.ID, 0)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindRecompute))
	assert.True(t, apperrors.Retryable(err))

	after, err := e.Get(before.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Contains(t, log.kinds(), EventFailed)

	// retry succeeds
	d, err := e.RemoveIngredient(ctx, before.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, d.Ingredients)
}

func TestEngine_LateResponseAfterCancelIsDropped(t *testing.T) {
	ctx := context.Background()
	e, srv, _ := newTestEngine(t)
	d := createRice(t, e)

	srv.mu.Lock()
	srv.gate = make(chan struct{})
	srv.started = make(chan struct{}, 1)
	srv.mu.Unlock()

	type result struct {
		draft *models.Draft
		err   error
	}
	done := make(chan result, 1)
	go func() {
		got, err := e.EditIngredient(ctx, d.ID, 0, IngredientPatch{Weight: ptr(300.0)})
		done <- result{got, err}
	}()
	<-srv.started

	processing, err := e.Get(d.ID)
	require.NoError(t, err)
	assert.True(t, processing.Processing)

	cancelled, err := e.Cancel(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftCancelled, cancelled.Status)

	srv.gate <- struct{}{}
	res := <-done
	assert.True(t, apperrors.Is(res.err, apperrors.KindStale))
	assert.False(t, apperrors.Retryable(res.err))
	require.NotNil(t, res.draft)
	assert.Equal(t, models.DraftCancelled, res.draft.Status)

	got, err := e.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftCancelled, got.Status)
	assert.Equal(t, d.Ingredients, got.Ingredients)
	assert.Equal(t, []string{d.ID}, srv.discarded)
}

func TestEngine_OneMutationInFlight(t *testing.T) {
	ctx := context.Background()
	e, srv, _ := newTestEngine(t)
	d := createRice(t, e)

	srv.mu.Lock()
	srv.gate = make(chan struct{})
	srv.started = make(chan struct{}, 1)
	srv.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := e.AddIngredient(ctx, d.ID, "chicken")
		done <- err
	}()
	<-srv.started

	_, err := e.AddIngredient(ctx, d.ID, "cucumber")
	assert.ErrorIs(t, err, apperrors.ErrBusy)
	_, err = e.Confirm(ctx, d.ID, nil)
	assert.ErrorIs(t, err, apperrors.ErrBusy)

	view, err := e.Get(d.ID)
	require.NoError(t, err)
	require.Len(t, view.Ingredients, 2, "optimistic entry is visible while processing")
	assert.Equal(t, "chicken", view.Ingredients[1].Name)

	srv.gate <- struct{}{}
	require.NoError(t, <-done)
	assert.Equal(t, 1, srv.callCount())
}

func TestEngine_AnalysisFailureKeepsPhotoForRetry(t *testing.T) {
	e, srv, _ := newTestEngine(t)
	srv.analyzeErr = errors.New("no food found")

	_, err := e.CreateDraft(context.Background(), owner, AnalysisRequest{
		Photo: models.Photo{Key: "meal-photos/7/blurry.jpg"},
	})
	require.Error(t, err)
	var ae *apperrors.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperrors.KindAnalysis, ae.Kind)
	assert.Equal(t, "meal-photos/7/blurry.jpg", ae.Details["photo_key"])
	assert.Empty(t, e.List(owner))

	srv.analyzeErr = nil
	d, err := e.CreateDraft(context.Background(), owner, AnalysisRequest{
		Photo:   models.Photo{Key: "meal-photos/7/blurry.jpg"},
		Caption: "rice bowl",
	})
	require.NoError(t, err)
	assert.Equal(t, "meal-photos/7/blurry.jpg", d.PhotoKey)
}

func TestEngine_ConfirmFailureKeepsDraftPending(t *testing.T) {
	ctx := context.Background()
	e, srv, _ := newTestEngine(t)
	d := createRice(t, e)
	srv.confirmErr = errors.New("db unavailable")

	_, err := e.Confirm(ctx, d.ID, nil)
	assert.True(t, apperrors.Is(err, apperrors.KindConfirm))

	got, err := e.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftPending, got.Status)
	assert.False(t, got.Processing)

	ateAt := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	res, err := e.Confirm(ctx, d.ID, &models.MealSlot{Type: "dinner", AteAt: &ateAt})
	require.NoError(t, err)
	assert.Equal(t, "dinner", res.Meal.Type)
	assert.Equal(t, ateAt, res.Meal.AteAt)
	assert.Equal(t, owner, srv.confirmed[0].Owner)
}

func TestEngine_InvalidInput(t *testing.T) {
	ctx := context.Background()
	e, srv, _ := newTestEngine(t)
	d := createRice(t, e)

	_, err := e.RemoveIngredient(ctx, d.ID, 3)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = e.EditIngredient(ctx, d.ID, 0, IngredientPatch{Weight: ptr(-1.0)})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = e.AddIngredient(ctx, d.ID, "  ")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = e.UpdateDraftMeta(ctx, d.ID, MetaPatch{EstimatedWeight: ptr(0.0)})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = e.AddIngredient(ctx, "missing", "salt")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	assert.Equal(t, 0, srv.callCount())
}

func TestEngine_EventsAndOwnership(t *testing.T) {
	ctx := context.Background()
	e, _, log := newTestEngine(t)
	d := createRice(t, e)

	_, err := e.AddIngredient(ctx, d.ID, "cucumber")
	require.NoError(t, err)
	_, err = e.Cancel(ctx, d.ID)
	require.NoError(t, err)

	assert.Equal(t, []EventKind{EventUpdated, EventProcessing, EventUpdated, EventCancelled}, log.kinds())
	assert.True(t, e.OwnedBy(d.ID, owner))
	assert.False(t, e.OwnedBy(d.ID, owner+1))
	assert.Empty(t, e.List(owner), "ended drafts are not listed")
}

func TestEngine_Sweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	srv := newFakeServer()
	e := NewEngine(Options{
		Analyzer: srv, Recomputer: srv, Confirmer: srv, Discarder: srv,
		TerminalTTL: time.Minute,
		IdleTTL:     time.Hour,
		Now:         func() time.Time { return now },
	})

	ended := createRice(t, e)
	idle := createRice(t, e)
	_, err := e.Cancel(ctx, ended.ID)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, e.Sweep(ctx))
	_, err = e.Get(ended.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, e.Sweep(ctx))
	_, err = e.Get(idle.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, []string{ended.ID, idle.ID}, srv.discarded)
}

func TestEngine_CallerGoingAwayDoesNotAbortRecompute(t *testing.T) {
	e, srv, _ := newTestEngine(t)
	d := createRice(t, e)

	srv.mu.Lock()
	srv.gate = make(chan struct{})
	srv.started = make(chan struct{}, 1)
	srv.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := e.AddIngredient(ctx, d.ID, "chicken")
		done <- err
	}()
	<-srv.started
	cancel()
	srv.gate <- struct{}{}
	require.NoError(t, <-done)

	view, err := e.Get(d.ID)
	require.NoError(t, err)
	require.Len(t, view.Ingredients, 2)
	assert.Equal(t, "chicken", view.Ingredients[1].Name)
	assert.False(t, view.Processing)

	srv.mu.Lock()
	remote := len(srv.drafts[d.ID].Ingredients)
	srv.mu.Unlock()
	assert.Equal(t, remote, len(view.Ingredients), "local draft mirrors the server")
}

func TestEngine_ConfirmSurvivesCancelledCaller(t *testing.T) {
	e, srv, _ := newTestEngine(t)
	d := createRice(t, e)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := e.Confirm(ctx, d.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.DraftConfirmed, res.Draft.Status)
	assert.Len(t, srv.confirmed, 1)
}
