package capture

import (
	"context"

	"github.com/franckalain/nutritrack/internal/models"
)

// LowConfidenceThreshold splits reviews: confidence below it gets the
// low-confidence warning, confidence at or above it the normal review.
const LowConfidenceThreshold = 0.20

type State int

const (
	StateIdle State = iota
	StateNameEntered
	StateReadyToCapture
	StateUploading
	StateUploadFailed
	StatePredicted
	StateLowConfidenceReview
	StateNormalReview
	StateCommitted
)

var stateNames = [...]string{
	"idle",
	"name_entered",
	"ready_to_capture",
	"uploading",
	"upload_failed",
	"predicted",
	"low_confidence_review",
	"normal_review",
	"committed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Decision is a user's answer at a review or recovery point
type Decision string

const (
	DecisionCancel  Decision = "cancel"
	DecisionRetake  Decision = "retake"
	DecisionProceed Decision = "proceed"
	DecisionAdd     Decision = "add"
	DecisionRetry   Decision = "retry"
)

type ReviewKind string

const (
	ReviewNormal        ReviewKind = "normal"
	ReviewLowConfidence ReviewKind = "low_confidence"
)

// Handle identifies one capture session
type Handle string

// Session is a snapshot of the pipeline's current capture session. The
// zero value is the idle session.
type Session struct {
	ID              Handle                   `json:"id,omitempty"`
	State           State                    `json:"state"`
	FoodName        string                   `json:"food_name,omitempty"`
	FoodDescription string                   `json:"food_description,omitempty"`
	MealType        models.MealType          `json:"meal_type,omitempty"`
	AmountGrams     float64                  `json:"amount_grams,omitempty"`
	Image           models.ImageRef          `json:"image"`
	Prediction      *models.PredictionResult `json:"prediction,omitempty"`
}

func (s Session) clone() Session {
	if s.Prediction != nil {
		p := *s.Prediction
		s.Prediction = &p
	}
	return s
}

// Review is presented to the user once a prediction has been resolved
type Review struct {
	Kind                ReviewKind `json:"kind"`
	SessionID           Handle     `json:"session_id"`
	FoodName            string     `json:"food_name"`
	FoodDescription     string     `json:"food_description"`
	DetectedName        string     `json:"detected_name"`
	DetectedDescription string     `json:"detected_description"`
	SuggestedFood       string     `json:"suggested_food,omitempty"`
	Confidence          float64    `json:"confidence"`
	Options             []Decision `json:"options"`
}

// Allows reports whether d is one of the review's options.
func (r *Review) Allows(d Decision) bool {
	for _, o := range r.Options {
		if o == d {
			return true
		}
	}
	return false
}

type SessionOption func(*Session)

func WithMealType(m models.MealType) SessionOption {
	return func(s *Session) { s.MealType = m }
}

// WithAmount records the estimated serving size in grams.
func WithAmount(grams float64) SessionOption {
	return func(s *Session) {
		if grams > 0 {
			s.AmountGrams = grams
		}
	}
}

type (
	// Camera is the platform camera
	Camera interface {
		RequestPermission(ctx context.Context) (bool, error)
		Capture(ctx context.Context) (models.ImageRef, error)
	}

	// Gallery is the platform image picker
	Gallery interface {
		Pick(ctx context.Context) (models.ImageRef, error)
	}

	// Recognizer submits an image and label to the recognition endpoint
	Recognizer interface {
		Predict(ctx context.Context, req models.PredictionRequest) (*models.PredictionResult, error)
	}

	// Journal is the logging collaborator that receives committed records
	Journal interface {
		Commit(ctx context.Context, rec *models.LogRecord) error
	}
)
