package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Andrlu75/healtCoach-sub000/apperrors"
	"github.com/Andrlu75/healtCoach-sub000/drafts"
	"github.com/Andrlu75/healtCoach-sub000/models"
)

// Recomputations run a model and routinely take tens of seconds.
const DefaultAITimeout = 3 * time.Minute

// NutritionAI talks to the remote meal-analysis service, which owns every
// draft and all macro math.
type NutritionAI struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewNutritionAI(baseURL, apiKey string, timeout time.Duration) *NutritionAI {
	if timeout <= 0 {
		timeout = DefaultAITimeout
	}
	return &NutritionAI{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// StatusError is a non-2xx answer of the AI service.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("nutrition service error %d: %s", e.Code, e.Message)
}

type analyzeRequest struct {
	ImageBase64 string `json:"image_base64"`
	ContentType string `json:"content_type"`
	PhotoURL    string `json:"photo_url,omitempty"`
	Caption     string `json:"caption,omitempty"`
	MealType    string `json:"meal_type,omitempty"`
}

// Analyze uploads the photo for recognition. Answers the service could not
// make sense of (4xx) are analysis failures.
func (s *NutritionAI) Analyze(ctx context.Context, req drafts.AnalysisRequest) (*models.Draft, error) {
	body := analyzeRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(req.Photo.Data),
		ContentType: req.Photo.ContentType,
		PhotoURL:    req.Photo.URL,
		Caption:     req.Caption,
		MealType:    req.MealType,
	}
	var d models.Draft
	if err := s.do(ctx, http.MethodPost, "/drafts", body, &d); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
			return nil, apperrors.New(apperrors.KindAnalysis, "analyze", "", err)
		}
		return nil, err
	}
	return &d, nil
}

// Recompute applies op to the server-side draft and returns the result.
func (s *NutritionAI) Recompute(ctx context.Context, draftID string, op drafts.Operation, payload any) (*models.Draft, error) {
	var d models.Draft
	path := fmt.Sprintf("/drafts/%s/%s", url.PathEscape(draftID), op)
	if err := s.do(ctx, http.MethodPost, path, payload, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *NutritionAI) Discard(ctx context.Context, draftID string) error {
	return s.do(ctx, http.MethodDelete, "/drafts/"+url.PathEscape(draftID), nil, nil)
}

type finalizeRequest struct {
	MealID uint          `json:"meal_id"`
	Draft  *models.Draft `json:"draft"`
}

type finalizeResponse struct {
	Commentary string `json:"commentary"`
}

// Finalize closes the draft on the server once the meal is stored and
// returns the optional coaching commentary.
func (s *NutritionAI) Finalize(ctx context.Context, draft *models.Draft, meal *models.Meal) (string, error) {
	var out finalizeResponse
	path := fmt.Sprintf("/drafts/%s/finalize", url.PathEscape(draft.ID))
	if err := s.do(ctx, http.MethodPost, path, finalizeRequest{MealID: meal.ID, Draft: draft}, &out); err != nil {
		return "", err
	}
	return out.Commentary, nil
}

func (s *NutritionAI) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call nutrition service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read nutrition service response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse nutrition service JSON: %w", err)
	}
	return nil
}

// errorMessage extracts {"error": "..."} bodies and falls back to the raw text.
func errorMessage(raw []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(raw))
}
