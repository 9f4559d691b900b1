package journal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franckalain/nutritrack/internal/backend"
	"github.com/franckalain/nutritrack/internal/models"
)

func newRemote(t *testing.T, h http.HandlerFunc) *Remote {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client, err := backend.New(srv.URL)
	require.NoError(t, err)
	return NewRemote(client)
}

func TestRemoteCommitSendsAnalyseRequest(t *testing.T) {
	var got map[string]any
	r := newRemote(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "/api/v1/log/analyse", req.URL.Path)
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","doc_id":"doc-42"}`))
	})

	rec := &models.LogRecord{
		UserID:        "sam",
		FoodName:      "Greek Yogurt",
		DetectedName:  "Yogurt",
		Confidence:    0.85,
		MealType:      models.MealBreakfast,
		Timestamp:     time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC),
		LowConfidence: false,
	}
	require.NoError(t, r.Commit(context.Background(), rec))

	assert.Equal(t, "doc-42", rec.ID)
	assert.Equal(t, "sam", got["username"])
	assert.Equal(t, "Greek Yogurt", got["name"])
	assert.Equal(t, 100.0, got["amnt"])
	assert.Equal(t, "breakfast", got["meal_type"])
	assert.Equal(t, 0.85, got["confidence"])
}

func TestRemoteCommitKeepsAmount(t *testing.T) {
	var got analyseRequest
	r := newRemote(t, func(w http.ResponseWriter, req *http.Request) {
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":"success"}`))
	})

	rec := &models.LogRecord{ID: "local-1", UserID: "sam", FoodName: "Pizza", AmountGrams: 250}
	require.NoError(t, r.Commit(context.Background(), rec))
	assert.Equal(t, 250.0, got.Amount)
	assert.Equal(t, "local-1", rec.ID)
}

func TestRemoteCommitErrors(t *testing.T) {
	r := newRemote(t, func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	assert.ErrorContains(t, r.Commit(context.Background(), &models.LogRecord{FoodName: "Pizza"}), "no user id")
	assert.ErrorContains(t, r.Commit(context.Background(), nil), "no user id")

	err := r.Commit(context.Background(), &models.LogRecord{UserID: "sam", FoodName: "Pizza"})
	var se *backend.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
}
