package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/Andrlu75/healtCoach-sub000/models"
)

// TopicPublisher is the part of the SNS client the publisher needs.
type TopicPublisher interface {
	Publish(ctx context.Context, in *awssns.PublishInput, optFns ...func(*awssns.Options)) (*awssns.PublishOutput, error)
}

// EventPublisher fans meal events out to the coaching console over SNS.
type EventPublisher struct {
	sns      TopicPublisher
	topicARN string
}

// NewEventPublisher returns a publisher; an empty topic turns it into a no-op.
func NewEventPublisher(client TopicPublisher, topicARN string) *EventPublisher {
	return &EventPublisher{sns: client, topicARN: topicARN}
}

type mealConfirmedEvent struct {
	Kind     string    `json:"kind"`
	MealID   uint      `json:"meal_id"`
	UserID   uint      `json:"user_id"`
	DraftID  string    `json:"draft_id"`
	Type     string    `json:"type"`
	DishName string    `json:"dish_name"`
	AteAt    time.Time `json:"ate_at"`
	Calories float64   `json:"calories"`
	Proteins float64   `json:"proteins"`
	Fats     float64   `json:"fats"`
	Carbs    float64   `json:"carbs"`
}

func (p *EventPublisher) MealConfirmed(ctx context.Context, meal *models.Meal) error {
	if p == nil || p.sns == nil || p.topicARN == "" {
		return nil
	}
	raw, err := json.Marshal(mealConfirmedEvent{
		Kind:     "meal.confirmed",
		MealID:   meal.ID,
		UserID:   meal.UserID,
		DraftID:  meal.DraftID,
		Type:     meal.Type,
		DishName: meal.DishName,
		AteAt:    meal.AteAt,
		Calories: meal.Calories,
		Proteins: meal.Proteins,
		Fats:     meal.Fats,
		Carbs:    meal.Carbs,
	})
	if err != nil {
		return err
	}
	_, err = p.sns.Publish(ctx, &awssns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(raw)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"kind": {DataType: aws.String("String"), StringValue: aws.String("meal.confirmed")},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish meal event: %w", err)
	}
	return nil
}
