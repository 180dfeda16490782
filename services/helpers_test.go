package services

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Andrlu75/healtCoach-sub000/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "coach.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Meal{}, &models.MealItem{}, &models.DayPlan{}))
	return db
}

func sampleDraft() *models.Draft {
	d := &models.Draft{
		ID:              "draft-1",
		DishName:        "Rice with chicken",
		DishType:        "lunch",
		EstimatedWeight: 300,
		AIConfidence:    0.9,
		Status:          models.DraftPending,
		Ingredients: []models.Ingredient{
			{Name: "rice", Weight: 150, Calories: 195, Proteins: 4, Fats: 0.5, Carbs: 42, IsAIDetected: true},
			{Name: "chicken", Weight: 150, Calories: 247, Proteins: 46, Fats: 5.4, IsAIDetected: true, IsUserEdited: true},
		},
	}
	d.Macros = d.IngredientTotals()
	return d
}
