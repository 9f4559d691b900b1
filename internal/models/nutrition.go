package models

import (
	"fmt"
	"strings"
	"time"
)

// MealType tags a logged food with the meal it belongs to
type MealType string

const (
	MealBreakfast MealType = "breakfast"
	MealLunch     MealType = "lunch"
	MealDinner    MealType = "dinner"
	MealSnacks    MealType = "snacks"
)

// ParseMealType accepts the meal ids used by the app. An empty string means
// no meal was selected.
func ParseMealType(s string) (MealType, error) {
	switch m := MealType(strings.ToLower(strings.TrimSpace(s))); m {
	case "", MealBreakfast, MealLunch, MealDinner, MealSnacks:
		return m, nil
	default:
		return "", fmt.Errorf("unknown meal type %q", s)
	}
}

// ImageSource is where a captured image came from
type ImageSource string

const (
	SourceCamera  ImageSource = "camera"
	SourceGallery ImageSource = "gallery"
)

// ImageRef is a handle to a local image resource. It is not owned across
// sessions.
type ImageRef struct {
	URI    string      `json:"uri"`
	Source ImageSource `json:"source"`
}

// PredictionResult is the recognition endpoint's answer for one image
type PredictionResult struct {
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Confidence    float64   `json:"confidence"` // 0..1
	SuggestedFood string    `json:"suggested_food,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// LogRecord is the finalized entry emitted to the meal journal on commit
type LogRecord struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"user_id"`
	FoodName            string    `json:"food_name"`
	FoodDescription     string    `json:"food_description"`
	DetectedName        string    `json:"detected_name"`
	DetectedDescription string    `json:"detected_description"`
	Confidence          float64   `json:"confidence"`
	LowConfidence       bool      `json:"low_confidence"`
	AmountGrams         float64   `json:"amount_grams,omitempty"`
	MealType            MealType  `json:"meal_type,omitempty"`
	ImageURI            string    `json:"image_uri"`
	Timestamp           time.Time `json:"timestamp"`
}

// CommitReceipt is returned once a session's record has been handed to the
// journal
type CommitReceipt struct {
	SessionID   string    `json:"session_id"`
	Record      LogRecord `json:"record"`
	CommittedAt time.Time `json:"committed_at"`
}

// PredictionRequest is what the pipeline submits to the recognizer
type PredictionRequest struct {
	Image       ImageRef
	Name        string
	Description string
}
