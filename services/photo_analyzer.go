package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"

	"github.com/Andrlu75/healtCoach-sub000/apperrors"
	"github.com/Andrlu75/healtCoach-sub000/drafts"
	"github.com/Andrlu75/healtCoach-sub000/logger"
	"github.com/Andrlu75/healtCoach-sub000/models"
)

// LabelDetector is the part of the Rekognition client the gate needs.
type LabelDetector interface {
	DetectLabels(ctx context.Context, in *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error)
}

var foodLabels = map[string]bool{
	"food": true, "meal": true, "dish": true, "lunch": true, "dinner": true,
	"breakfast": true, "snack": true, "fruit": true, "vegetable": true,
	"produce": true, "dessert": true, "beverage": true, "drink": true,
	"bread": true, "plate": true, "bowl": true, "salad": true,
}

// PhotoAnalyzer rejects photos that show no food before handing them to
// the AI service, saving a slow analysis round-trip.
type PhotoAnalyzer struct {
	labels        LabelDetector
	next          drafts.Analyzer
	minConfidence float32
}

// NewPhotoAnalyzer wraps next with a Rekognition gate. A nil detector
// disables the gate.
func NewPhotoAnalyzer(labels LabelDetector, next drafts.Analyzer, minConfidence float32) *PhotoAnalyzer {
	if minConfidence <= 0 {
		minConfidence = 75
	}
	return &PhotoAnalyzer{labels: labels, next: next, minConfidence: minConfidence}
}

func (a *PhotoAnalyzer) Analyze(ctx context.Context, req drafts.AnalysisRequest) (*models.Draft, error) {
	if a.labels != nil && len(req.Photo.Data) > 0 {
		found, err := a.detect(ctx, req.Photo.Data)
		if err != nil {
			// the gate is advisory; the AI service decides
			logger.Warn("label detection failed, skipping food gate", "photo", req.Photo.Key, "err", err)
		} else if !containsFood(found) {
			return nil, apperrors.New(apperrors.KindAnalysis, "analyze", "",
				fmt.Errorf("no food recognized in photo")).
				WithDetail("labels", strings.Join(found, ","))
		}
	}
	return a.next.Analyze(ctx, req)
}

func (a *PhotoAnalyzer) detect(ctx context.Context, img []byte) ([]string, error) {
	out, err := a.labels.DetectLabels(ctx, &rekognition.DetectLabelsInput{
		Image:         &types.Image{Bytes: img},
		MaxLabels:     aws.Int32(10),
		MinConfidence: aws.Float32(a.minConfidence),
	})
	if err != nil {
		return nil, err
	}
	var labels []string
	for _, l := range out.Labels {
		labels = append(labels, aws.ToString(l.Name))
	}
	return labels, nil
}

func containsFood(labels []string) bool {
	for _, l := range labels {
		if foodLabels[strings.ToLower(l)] {
			return true
		}
	}
	return false
}
