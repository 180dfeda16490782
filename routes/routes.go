package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Andrlu75/healtCoach-sub000/controllers"
	"github.com/Andrlu75/healtCoach-sub000/middlewares"
)

type Deps struct {
	JWTSecret []byte
	Drafts    *controllers.DraftController
	Plans     *controllers.PlanController
	Meals     *controllers.MealController
	Realtime  *controllers.RealtimeController
}

func SetupRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middlewares.RequestLogger())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/")
	api.Use(middlewares.AuthMiddleware(d.JWTSecret))

	drafts := api.Group("/drafts")
	{
		drafts.POST("", d.Drafts.Create)
		drafts.POST("/retry", d.Drafts.Retry)
		drafts.GET("", d.Drafts.List)
		drafts.GET("/:id", d.Drafts.Get)
		drafts.PATCH("/:id", d.Drafts.UpdateMeta)
		drafts.POST("/:id/ingredients", d.Drafts.AddIngredient)
		drafts.PATCH("/:id/ingredients/:index", d.Drafts.EditIngredient)
		drafts.DELETE("/:id/ingredients/:index", d.Drafts.RemoveIngredient)
		drafts.POST("/:id/confirm", d.Drafts.Confirm)
		drafts.POST("/:id/cancel", d.Drafts.Cancel)
	}

	plans := api.Group("/programs/:program/days/:day")
	{
		plans.POST("/open", d.Plans.Open)
		plans.GET("", d.Plans.Get)
		plans.PUT("", d.Plans.Update)
		plans.POST("/save", d.Plans.Save)
		plans.GET("/exit", d.Plans.CheckExit)
		plans.POST("/leave", d.Plans.Leave)
		plans.GET("/highlights", d.Plans.Highlights)
	}

	if d.Meals != nil {
		api.GET("/meals", d.Meals.ListMeals)
	}
	api.POST("/highlight", controllers.Highlight)
	if d.Realtime != nil {
		api.GET("/ws", d.Realtime.EventsWS)
	}
	return r
}
