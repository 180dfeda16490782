package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/gin-gonic/gin"

	"github.com/Andrlu75/healtCoach-sub000/config"
	"github.com/Andrlu75/healtCoach-sub000/controllers"
	"github.com/Andrlu75/healtCoach-sub000/drafts"
	"github.com/Andrlu75/healtCoach-sub000/logger"
	"github.com/Andrlu75/healtCoach-sub000/routes"
	"github.com/Andrlu75/healtCoach-sub000/services"
)

type ServeCmd struct {
	Addr        string        `help:"Listen address; defaults to :PORT."`
	SweepEvery  time.Duration `help:"How often ended drafts and idle day plans are evicted." default:"5m"`
	GracePeriod time.Duration `help:"Time allowed for in-flight requests and autosaves on shutdown." default:"20s"`
}

func (s *ServeCmd) Run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := config.OpenDB(cfg.DB)
	if err != nil {
		return err
	}

	hub := services.NewRealtimeHub()
	ai := services.NewNutritionAI(cfg.AI.BaseURL, cfg.AI.APIKey, cfg.AI.Timeout)

	var (
		detector  services.LabelDetector
		photos    controllers.PhotoStore
		publisher *services.EventPublisher
	)
	if cfg.AWS.Region != "" {
		awsCfg, err := services.LoadAWSConfig(ctx, cfg.AWS.Region)
		if err != nil {
			return err
		}
		if cfg.AWS.FoodGate {
			detector = rekognition.NewFromConfig(awsCfg)
		}
		if cfg.AWS.S3Bucket != "" {
			s3Cfg := awsCfg.Copy()
			s3Cfg.Region = cfg.AWS.S3Region
			photos = services.NewPhotoStore(s3.NewFromConfig(s3Cfg), cfg.AWS.S3Bucket, cfg.AWS.PublicURL)
		}
		if cfg.AWS.SNSTopicARN != "" {
			publisher = services.NewEventPublisher(awssns.NewFromConfig(awsCfg), cfg.AWS.SNSTopicARN)
		}
	}

	var events services.MealEvents
	if publisher != nil {
		events = publisher
	}
	meals := services.NewMealService(db, ai, events)
	engine := drafts.NewEngine(drafts.Options{
		Analyzer:      services.NewPhotoAnalyzer(detector, ai, cfg.AWS.GateConfidence),
		Recomputer:    ai,
		Confirmer:     meals,
		Discarder:     ai,
		Observer:      hub.DraftObserver(),
		IdleTTL:       cfg.DraftIdleTTL,
		RemoteTimeout: cfg.AI.Timeout,
	})
	editor := services.NewPlanEditor(services.NewPlanStore(db), hub, services.PlanEditorOptions{
		Delay:      cfg.Autosave.Delay,
		RetryDelay: cfg.Autosave.RetryDelay,
		IdleTTL:    cfg.Autosave.PlanIdleTTL,
	})

	gin.SetMode(gin.ReleaseMode)
	router := routes.SetupRouter(routes.Deps{
		JWTSecret: []byte(cfg.JWTSecret),
		Drafts:    controllers.NewDraftController(engine, photos),
		Plans:     controllers.NewPlanController(editor),
		Meals:     controllers.NewMealController(meals),
		Realtime:  controllers.NewRealtimeController(hub),
	})

	addr := s.Addr
	if addr == "" {
		addr = ":" + cfg.Port
	}
	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	go janitor(ctx, engine, editor, s.SweepEvery)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "db", cfg.DB.Driver, "food_gate", detector != nil, "photo_store", photos != nil)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.GracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	// open plans get their last autosave
	if err := editor.Close(shutdownCtx); err != nil {
		logger.Error("unsaved day plans on shutdown", "err", err)
	}
	return nil
}

func janitor(ctx context.Context, engine *drafts.Engine, editor *services.PlanEditor, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			engine.Sweep(ctx)
			editor.Sweep(ctx)
		}
	}
}
