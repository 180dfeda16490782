package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Andrlu75/healtCoach-sub000/models"
	"github.com/Andrlu75/healtCoach-sub000/services"
)

type PlanController struct {
	Editor *services.PlanEditor
}

func NewPlanController(editor *services.PlanEditor) *PlanController {
	return &PlanController{Editor: editor}
}

func (pc *PlanController) Open(c *gin.Context) {
	uid, key, ok := planParams(c)
	if !ok {
		return
	}
	v, err := pc.Editor.Open(c.Request.Context(), uid, key)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (pc *PlanController) Get(c *gin.Context) {
	uid, key, ok := planParams(c)
	if !ok {
		return
	}
	v, err := pc.Editor.Get(uid, key)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, v)
}

// Update replaces the working document. It is persisted by the debounced
// autosave, hence 202.
func (pc *PlanController) Update(c *gin.Context) {
	uid, key, ok := planParams(c)
	if !ok {
		return
	}
	var doc models.DayPlan
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, err := pc.Editor.Apply(uid, key, doc)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusAccepted, v)
}

func (pc *PlanController) Save(c *gin.Context) {
	uid, key, ok := planParams(c)
	if !ok {
		return
	}
	v, err := pc.Editor.Save(c.Request.Context(), uid, key)
	if err != nil {
		if v != nil {
			respondError(c, err, v)
		} else {
			respondError(c, err, nil)
		}
		return
	}
	c.JSON(http.StatusOK, v)
}

func (pc *PlanController) CheckExit(c *gin.Context) {
	uid, key, ok := planParams(c)
	if !ok {
		return
	}
	dec, err := pc.Editor.CheckExit(uid, key)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, dec)
}

type leaveRequest struct {
	Intentional bool `json:"intentional"`
}

func (pc *PlanController) Leave(c *gin.Context) {
	uid, key, ok := planParams(c)
	if !ok {
		return
	}
	var req leaveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	dec, err := pc.Editor.Leave(c.Request.Context(), uid, key, req.Intentional)
	if err != nil {
		respondError(c, err, dec)
		return
	}
	c.JSON(http.StatusOK, dec)
}

func (pc *PlanController) Highlights(c *gin.Context) {
	uid, key, ok := planParams(c)
	if !ok {
		return
	}
	hl, err := pc.Editor.Highlights(uid, key)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"meals": hl})
}

func planParams(c *gin.Context) (uint, services.PlanKey, bool) {
	uid, ok := mustUser(c)
	if !ok {
		return 0, services.PlanKey{}, false
	}
	program, err := strconv.ParseUint(c.Param("program"), 10, 64)
	if err != nil || program == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid program id"})
		return 0, services.PlanKey{}, false
	}
	day, err := strconv.Atoi(c.Param("day"))
	if err != nil || day < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid day number"})
		return 0, services.PlanKey{}, false
	}
	return uid, services.PlanKey{ProgramID: uint(program), Day: day}, true
}
