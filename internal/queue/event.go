// Package queue publishes committed meal log records to the message broker.
package queue

import (
	"time"

	"github.com/franckalain/nutritrack/internal/models"
)

// MealLoggedEvent is published once per committed capture session.
type MealLoggedEvent struct {
	RecordID      string          `json:"record_id"`
	UserID        string          `json:"user_id"`
	FoodName      string          `json:"food_name"`
	Description   string          `json:"description,omitempty"`
	DetectedName  string          `json:"detected_name"`
	Confidence    float64         `json:"confidence"`
	LowConfidence bool            `json:"low_confidence"`
	AmountGrams   float64         `json:"amount_grams,omitempty"`
	MealType      models.MealType `json:"meal_type,omitempty"`
	ImageURI      string          `json:"image_uri,omitempty"`
	LoggedAt      string          `json:"logged_at"`
}

// NewMealLoggedEvent projects a record onto the wire event.
func NewMealLoggedEvent(rec *models.LogRecord) MealLoggedEvent {
	return MealLoggedEvent{
		RecordID:      rec.ID,
		UserID:        rec.UserID,
		FoodName:      rec.FoodName,
		Description:   rec.FoodDescription,
		DetectedName:  rec.DetectedName,
		Confidence:    rec.Confidence,
		LowConfidence: rec.LowConfidence,
		AmountGrams:   rec.AmountGrams,
		MealType:      rec.MealType,
		ImageURI:      rec.ImageURI,
		LoggedAt:      rec.Timestamp.UTC().Format(time.RFC3339),
	}
}
