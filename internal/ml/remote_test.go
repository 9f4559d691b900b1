package ml

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franckalain/nutritrack/internal/backend"
	"github.com/franckalain/nutritrack/internal/models"
)

func writeImage(t *testing.T, name string) models.ImageRef {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("fake image bytes"), 0o644))
	return models.ImageRef{URI: "file://" + path, Source: models.SourceCamera}
}

func newRemote(t *testing.T, h http.HandlerFunc) Model {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	client, err := backend.New(srv.URL)
	require.NoError(t, err)
	m, err := NewModel("remote", "", client)
	require.NoError(t, err)
	require.NoError(t, m.Load(context.Background()))
	return m
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"photo.jpg":  "image/jpeg",
		"photo.JPEG": "image/jpeg",
		"photo.png":  "image/png",
		"photo.heic": "image/heic",
		"photo.webp": "image/webp",
		"photo":      "image/jpeg",
		"photo.xyz":  "image/jpeg",
	}
	for name, want := range tests {
		assert.Equal(t, want, ContentType(name), name)
	}
}

func TestRemotePredictSendsMultipart(t *testing.T) {
	img := writeImage(t, "lunch.png")

	m := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/log/predict", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}

		assert.Equal(t, "Greek Yogurt", r.FormValue("name"))
		assert.Equal(t, "", r.FormValue("description"))
		_, hasDesc := r.MultipartForm.Value["description"]
		assert.True(t, hasDesc, "description is always sent")

		f, fh, err := r.FormFile("image")
		if assert.NoError(t, err) {
			defer f.Close()
			assert.Equal(t, "lunch.png", fh.Filename)
			assert.Equal(t, "image/png", fh.Header.Get("Content-Type"))
			data, _ := io.ReadAll(f)
			assert.Equal(t, "fake image bytes", string(data))
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"result":{"name":"Yogurt","description":"Strained yogurt"},"suggested_food":"frozen_yogurt","confidence":0.85,"original_ml_confidence":0.6,"timestamp":"2026-03-14T12:30:00.123456"}`)
	})

	res, err := m.Predict(context.Background(), models.PredictionRequest{Image: img, Name: "Greek Yogurt"})
	require.NoError(t, err)
	assert.Equal(t, "Yogurt", res.Name)
	assert.Equal(t, "Strained yogurt", res.Description)
	assert.Equal(t, 0.85, res.Confidence)
	assert.Equal(t, "frozen_yogurt", res.SuggestedFood)
	assert.Equal(t, time.Date(2026, 3, 14, 12, 30, 0, 123456000, time.UTC), res.Timestamp)
}

func TestRemotePredictFailures(t *testing.T) {
	img := writeImage(t, "dinner.jpg")
	ctx := context.Background()

	t.Run("non-2xx", func(t *testing.T) {
		m := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"detail":"Prediction failed"}`, http.StatusInternalServerError)
		})
		_, err := m.Predict(ctx, models.PredictionRequest{Image: img, Name: "Pizza"})
		var se *backend.StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	})

	t.Run("missing confidence", func(t *testing.T) {
		m := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"result":{"name":"Pizza","description":""}}`)
		})
		_, err := m.Predict(ctx, models.PredictionRequest{Image: img, Name: "Pizza"})
		assert.ErrorContains(t, err, "missing confidence")
	})

	t.Run("malformed body", func(t *testing.T) {
		m := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `<html>`)
		})
		_, err := m.Predict(ctx, models.PredictionRequest{Image: img, Name: "Pizza"})
		assert.ErrorContains(t, err, "failed to decode")
	})

	t.Run("missing image file", func(t *testing.T) {
		m := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})
		_, err := m.Predict(ctx, models.PredictionRequest{Image: models.ImageRef{URI: "/does/not/exist.jpg"}, Name: "Pizza"})
		assert.ErrorContains(t, err, "failed to read image")
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		m := newRemote(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})
		_, err := m.Predict(ctx, models.PredictionRequest{Image: models.ImageRef{URI: "content://media/1"}, Name: "Pizza"})
		assert.ErrorContains(t, err, "unsupported image uri scheme")
	})
}

func TestNewModel(t *testing.T) {
	_, err := NewModel("tflite", "", nil)
	assert.ErrorContains(t, err, "unsupported model type")

	_, err = NewModel("remote", "", nil)
	assert.ErrorContains(t, err, "requires a backend client")
}

func TestParseGeminiAnswer(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	res, err := parseGeminiAnswer("```json\n{\"name\":\"Pizza\",\"description\":\"Cheese pizza\",\"confidence\":0.9}\n```", now)
	require.NoError(t, err)
	assert.Equal(t, "Pizza", res.Name)
	assert.Equal(t, 0.9, res.Confidence)
	assert.Equal(t, now, res.Timestamp)

	res, err = parseGeminiAnswer(`{"name":"Salad","description":"","confidence":0}`, now)
	require.NoError(t, err)
	assert.Zero(t, res.Confidence)

	_, err = parseGeminiAnswer(`{"name":"Salad"}`, now)
	assert.ErrorContains(t, err, "confidence")

	_, err = parseGeminiAnswer(`not json`, now)
	assert.ErrorContains(t, err, "failed to parse model response")
}

func TestGoogleConfigRequiresProject(t *testing.T) {
	t.Setenv("GOOGLE_PROJECT_ID", "")
	t.Setenv("GOOGLE_LOCATION", "")
	t.Chdir(t.TempDir())

	cfg := GoogleConfig{}
	assert.Error(t, cfg.Load())

	t.Setenv("GOOGLE_PROJECT_ID", "nutri-123")
	t.Setenv("GOOGLE_LOCATION", "europe-west1")
	cfg = GoogleConfig{}
	require.NoError(t, cfg.Load())
	assert.Equal(t, defaultGeminiModel, cfg.ModelName)
}
