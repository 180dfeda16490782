package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Andrlu75/healtCoach-sub000/logger"
	"github.com/Andrlu75/healtCoach-sub000/models"
)

type DBConfig struct {
	Driver   string // postgres | sqlite
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	// Path is the sqlite database file.
	Path string
}

type AIConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type AWSConfig struct {
	Region string
	// S3Region falls back to Region.
	S3Region       string
	S3Bucket       string
	PublicURL      string
	FoodGate       bool
	GateConfidence float32
	SNSTopicARN    string
}

type AutosaveConfig struct {
	Delay      time.Duration
	RetryDelay time.Duration
	// PlanIdleTTL closes day plans left open without activity.
	PlanIdleTTL time.Duration
}

type Config struct {
	Port      string
	JWTSecret string
	DB        DBConfig
	AI        AIConfig
	AWS       AWSConfig
	Autosave  AutosaveConfig
	// DraftIdleTTL evicts untouched pending drafts. Zero keeps them.
	DraftIdleTTL time.Duration
	Log          logger.Config
}

// Load reads an optional .env file and then the environment.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && len(envFiles) > 0 {
		return nil, fmt.Errorf("loading env file: %w", err)
	}

	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		JWTSecret: os.Getenv("JWT_SECRET"),
		DB: DBConfig{
			Driver:   strings.ToLower(getEnv("DB_DRIVER", "postgres")),
			Host:     os.Getenv("DB_HOST"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     os.Getenv("DB_NAME"),
			Path:     getEnv("DB_PATH", "coach.db"),
		},
		AI: AIConfig{
			BaseURL: os.Getenv("AI_BASE_URL"),
			APIKey:  os.Getenv("AI_API_KEY"),
		},
		AWS: AWSConfig{
			Region:      os.Getenv("AWS_REGION"),
			S3Region:    os.Getenv("S3_REGION"),
			S3Bucket:    os.Getenv("S3_BUCKET"),
			PublicURL:   os.Getenv("CLOUDFRONT_URL"),
			SNSTopicARN: os.Getenv("SNS_MEAL_TOPIC_ARN"),
		},
		Log: logger.Config{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  os.Getenv("LOG_FILE"),
		},
	}
	if cfg.AWS.S3Region == "" {
		cfg.AWS.S3Region = cfg.AWS.Region
	}

	var err error
	if cfg.AI.Timeout, err = getDuration("AI_TIMEOUT", 3*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Autosave.Delay, err = getDuration("AUTOSAVE_DELAY", 1500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.Autosave.RetryDelay, err = getDuration("AUTOSAVE_RETRY_DELAY", 0); err != nil {
		return nil, err
	}
	if cfg.Autosave.PlanIdleTTL, err = getDuration("PLAN_IDLE_TTL", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.DraftIdleTTL, err = getDuration("DRAFT_IDLE_TTL", 0); err != nil {
		return nil, err
	}
	if cfg.AWS.FoodGate, err = getBool("FOOD_GATE", false); err != nil {
		return nil, err
	}
	conf, err := strconv.ParseFloat(getEnv("FOOD_GATE_MIN_CONFIDENCE", "75"), 32)
	if err != nil {
		return nil, fmt.Errorf("FOOD_GATE_MIN_CONFIDENCE: %w", err)
	}
	cfg.AWS.GateConfidence = float32(conf)

	return cfg, cfg.Validate()
}

// Validate checks settings the server cannot start without.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DB.Driver)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET not set")
	}
	if c.AI.BaseURL == "" {
		return fmt.Errorf("AI_BASE_URL not set")
	}
	return nil
}

func (d DBConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		d.Host, d.User, d.Password, d.Name, d.Port)
}

// OpenDB connects and migrates the schema.
func OpenDB(d DBConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if d.Driver == "sqlite" {
		dialector = sqlite.Open(d.DSN())
	} else {
		dialector = postgres.Open(d.DSN())
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("AutoMigrate failed: %w", err)
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Meal{},
		&models.MealItem{},
		&models.DayPlan{},
	)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
