package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Andrlu75/healtCoach-sub000/apperrors"
)

func userIDFromCtx(c *gin.Context) (uint, bool) {
	v, ok := c.Get("userID")
	if !ok {
		return 0, false
	}
	switch id := v.(type) {
	case uint:
		return id, true
	case int:
		return uint(id), true
	case int64:
		return uint(id), true
	default:
		return 0, false
	}
}

// mustUser aborts with 401 when the auth middleware did not run.
func mustUser(c *gin.Context) (uint, bool) {
	uid, ok := userIDFromCtx(c)
	if !ok || uid == 0 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return 0, false
	}
	return uid, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrTerminal), errors.Is(err, apperrors.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrInvalidInput):
		return http.StatusBadRequest
	}
	kind, _ := apperrors.KindOf(err)
	switch kind {
	case apperrors.KindAnalysis:
		return http.StatusUnprocessableEntity
	case apperrors.KindRecompute, apperrors.KindPersist, apperrors.KindConfirm:
		return http.StatusBadGateway
	case apperrors.KindStale:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// respondError writes err with its retry hint. current, when set, is the
// state the client should keep showing.
func respondError(c *gin.Context, err error, current any) {
	body := gin.H{
		"error":     err.Error(),
		"retryable": apperrors.Retryable(err),
	}
	var ae *apperrors.Error
	if errors.As(err, &ae) {
		body["kind"] = ae.Kind
		for k, v := range ae.Details {
			body[k] = v
		}
	}
	if current != nil {
		body["current"] = current
	}
	_ = c.Error(err)
	c.JSON(statusFor(err), body)
}
