package controllers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Andrlu75/healtCoach-sub000/apperrors"
	"github.com/Andrlu75/healtCoach-sub000/drafts"
	"github.com/Andrlu75/healtCoach-sub000/models"
	"github.com/Andrlu75/healtCoach-sub000/utils"
)

// PhotoStore keeps uploaded meal photos for analysis retries.
type PhotoStore interface {
	Upload(ctx context.Context, owner uint, data []byte, contentType string) (models.Photo, error)
	Fetch(ctx context.Context, owner uint, key string) (models.Photo, error)
}

type DraftController struct {
	Drafts *drafts.Engine
	// Photos is optional; without it failed analyses cannot be retried.
	Photos PhotoStore
}

func NewDraftController(engine *drafts.Engine, photos PhotoStore) *DraftController {
	return &DraftController{Drafts: engine, Photos: photos}
}

type createDraftRequest struct {
	ImageBase64 string `json:"image_base64" binding:"required"`
	Caption     string `json:"caption"`
	MealType    string `json:"meal_type"`
}

func (dc *DraftController) Create(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	var req createDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	data, contentType, err := utils.DecodeImage(req.ImageBase64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	photo := models.Photo{Data: data, ContentType: contentType}
	if dc.Photos != nil {
		if photo, err = dc.Photos.Upload(c.Request.Context(), uid, data, contentType); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Upload failed", "detail": err.Error()})
			return
		}
	}
	dc.analyze(c, uid, drafts.AnalysisRequest{Photo: photo, Caption: req.Caption, MealType: req.MealType})
}

type retryDraftRequest struct {
	PhotoKey string `json:"photo_key" binding:"required"`
	Caption  string `json:"caption"`
	MealType string `json:"meal_type"`
}

// Retry reanalyzes a stored photo, usually with a better caption.
func (dc *DraftController) Retry(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	var req retryDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if dc.Photos == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "photo storage is not configured"})
		return
	}
	photo, err := dc.Photos.Fetch(c.Request.Context(), uid, req.PhotoKey)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	dc.analyze(c, uid, drafts.AnalysisRequest{Photo: photo, Caption: req.Caption, MealType: req.MealType})
}

func (dc *DraftController) analyze(c *gin.Context, uid uint, req drafts.AnalysisRequest) {
	d, err := dc.Drafts.CreateDraft(c.Request.Context(), uid, req)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (dc *DraftController) List(c *gin.Context) {
	uid, ok := mustUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"drafts": dc.Drafts.List(uid)})
}

func (dc *DraftController) Get(c *gin.Context) {
	id, ok := dc.ownedDraft(c)
	if !ok {
		return
	}
	d, err := dc.Drafts.Get(id)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (dc *DraftController) UpdateMeta(c *gin.Context) {
	id, ok := dc.ownedDraft(c)
	if !ok {
		return
	}
	var patch drafts.MetaPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := dc.Drafts.UpdateDraftMeta(c.Request.Context(), id, patch)
	mutationResult(c, d, err)
}

type addIngredientRequest struct {
	Name string `json:"name" binding:"required"`
}

func (dc *DraftController) AddIngredient(c *gin.Context) {
	id, ok := dc.ownedDraft(c)
	if !ok {
		return
	}
	var req addIngredientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := dc.Drafts.AddIngredient(c.Request.Context(), id, req.Name)
	mutationResult(c, d, err)
}

func (dc *DraftController) EditIngredient(c *gin.Context) {
	id, ok := dc.ownedDraft(c)
	if !ok {
		return
	}
	index, ok := indexParam(c)
	if !ok {
		return
	}
	var patch drafts.IngredientPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := dc.Drafts.EditIngredient(c.Request.Context(), id, index, patch)
	mutationResult(c, d, err)
}

func (dc *DraftController) RemoveIngredient(c *gin.Context) {
	id, ok := dc.ownedDraft(c)
	if !ok {
		return
	}
	index, ok := indexParam(c)
	if !ok {
		return
	}
	d, err := dc.Drafts.RemoveIngredient(c.Request.Context(), id, index)
	mutationResult(c, d, err)
}

type confirmRequest struct {
	Slot *models.MealSlot `json:"slot"`
}

func (dc *DraftController) Confirm(c *gin.Context) {
	id, ok := dc.ownedDraft(c)
	if !ok {
		return
	}
	var req confirmRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	res, err := dc.Drafts.Confirm(c.Request.Context(), id, req.Slot)
	if err != nil {
		if current, gerr := dc.Drafts.Get(id); gerr == nil {
			respondError(c, err, current)
		} else {
			respondError(c, err, nil)
		}
		return
	}
	c.JSON(http.StatusOK, res)
}

func (dc *DraftController) Cancel(c *gin.Context) {
	id, ok := dc.ownedDraft(c)
	if !ok {
		return
	}
	d, err := dc.Drafts.Cancel(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, d)
}

// ownedDraft resolves :id, answering 404 for drafts of other users.
func (dc *DraftController) ownedDraft(c *gin.Context) (string, bool) {
	uid, ok := mustUser(c)
	if !ok {
		return "", false
	}
	id := c.Param("id")
	if !dc.Drafts.OwnedBy(id, uid) {
		c.JSON(http.StatusNotFound, gin.H{"error": "draft not found"})
		return "", false
	}
	return id, true
}

func indexParam(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ingredient index"})
		return 0, false
	}
	return index, true
}

// mutationResult answers a draft mutation. A stale response is not an
// error for the client: it gets the current draft.
func mutationResult(c *gin.Context, d *models.Draft, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, d)
	case apperrors.Is(err, apperrors.KindStale) && d != nil:
		c.JSON(http.StatusOK, d)
	case d != nil:
		respondError(c, err, d)
	default:
		respondError(c, err, nil)
	}
}
