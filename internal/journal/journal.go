// Package journal delivers committed capture records to the meal log.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/franckalain/nutritrack/internal/backend"
	"github.com/franckalain/nutritrack/internal/capture"
	"github.com/franckalain/nutritrack/internal/models"
)

// Journal receives finalized records, keyed by the record's user id
type Journal = capture.Journal

// History is implemented by journals that can read back what they stored.
// Recent is capped; Since returns everything logged from a point in time.
type History interface {
	Recent(ctx context.Context, userID string, limit int) ([]*models.LogRecord, error)
	Since(ctx context.Context, userID string, from time.Time) ([]*models.LogRecord, error)
}

var _ Journal = (*Remote)(nil)

const analysePath = "/api/v1/log/analyse"

// defaultAmount is the serving size sent when the user gave none.
const defaultAmount = 100.0

// Remote commits records to the backend's analysis endpoint, which stores
// the meal and computes its nutrient breakdown
type Remote struct {
	client *backend.Client
}

func NewRemote(client *backend.Client) *Remote {
	return &Remote{client: client}
}

type analyseRequest struct {
	Username            string          `json:"username"`
	Name                string          `json:"name"`
	Description         string          `json:"description,omitempty"`
	Amount              float64         `json:"amnt"`
	DetectedName        string          `json:"detected_name"`
	DetectedDescription string          `json:"detected_description"`
	Confidence          float64         `json:"confidence"`
	LowConfidence       bool            `json:"low_confidence"`
	MealType            models.MealType `json:"meal_type,omitempty"`
	ImageURI            string          `json:"image_uri,omitempty"`
	Timestamp           time.Time       `json:"timestamp"`
}

type analyseResponse struct {
	Status string `json:"status"`
	DocID  string `json:"doc_id"`
}

func (r *Remote) Commit(ctx context.Context, rec *models.LogRecord) error {
	if rec == nil || rec.UserID == "" {
		return errors.New("record has no user id")
	}
	amount := rec.AmountGrams
	if amount <= 0 {
		amount = defaultAmount
	}

	var resp analyseResponse
	err := r.client.PostJSON(ctx, analysePath, analyseRequest{
		Username:            rec.UserID,
		Name:                rec.FoodName,
		Description:         rec.FoodDescription,
		Amount:              amount,
		DetectedName:        rec.DetectedName,
		DetectedDescription: rec.DetectedDescription,
		Confidence:          rec.Confidence,
		LowConfidence:       rec.LowConfidence,
		MealType:            rec.MealType,
		ImageURI:            rec.ImageURI,
		Timestamp:           rec.Timestamp,
	}, &resp)
	if err != nil {
		return err
	}
	if resp.DocID != "" {
		rec.ID = resp.DocID
	}
	return nil
}
