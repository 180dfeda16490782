package controllers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Andrlu75/healtCoach-sub000/highlight"
)

// Matching costs tokens × terms.
const (
	maxHighlightBody  = 64 << 10
	maxHighlightTerms = 500
)

type highlightRequest struct {
	Text       string   `json:"text"`
	Vocabulary []string `json:"vocabulary"`
}

// Highlight marks vocabulary terms in free text.
func Highlight(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxHighlightBody)

	var req highlightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("request body exceeds %d bytes", maxHighlightBody)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Vocabulary) > maxHighlightTerms {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("at most %d vocabulary terms", maxHighlightTerms)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"spans": highlight.Match(req.Text, req.Vocabulary)})
}
