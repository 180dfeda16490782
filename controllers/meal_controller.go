package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Andrlu75/healtCoach-sub000/services"
)

type MealController struct {
	Meals *services.MealService
}

func NewMealController(meals *services.MealService) *MealController {
	return &MealController{Meals: meals}
}

// ListMeals returns the confirmed meals of the caller, newest first.
func (mc *MealController) ListMeals(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	meals, err := mc.Meals.ListMeals(c.Request.Context(), uid, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, meals)
}
