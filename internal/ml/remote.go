package ml

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/franckalain/nutritrack/internal/backend"
	"github.com/franckalain/nutritrack/internal/models"
)

const predictPath = "/api/v1/log/predict"

// RemoteModel implements the Model interface against the backend's
// recognition endpoint
type RemoteModel struct {
	client *backend.Client
}

// RemoteModelFactory implements ModelFactory for the backend endpoint
type RemoteModelFactory struct {
	client *backend.Client
}

func NewRemoteModelFactory(client *backend.Client) *RemoteModelFactory {
	return &RemoteModelFactory{client: client}
}

func (f *RemoteModelFactory) CreateModel() (Model, error) {
	return &RemoteModel{client: f.client}, nil
}

// Load is a no-op; the backend holds the model.
func (m *RemoteModel) Load(ctx context.Context) error {
	return nil
}

type predictResponse struct {
	Result struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"result"`
	SuggestedFood string   `json:"suggested_food"`
	Confidence    *float64 `json:"confidence"`
	Timestamp     string   `json:"timestamp"`
}

// Predict uploads the image with the label as multipart form data.
func (m *RemoteModel) Predict(ctx context.Context, req models.PredictionRequest) (*models.PredictionResult, error) {
	data, filename, err := readImage(req.Image)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, escapeQuotes(filename)))
	h.Set("Content-Type", ContentType(filename))
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create image part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write image part: %w", err)
	}
	if err := w.WriteField("name", req.Name); err != nil {
		return nil, err
	}
	if err := w.WriteField("description", req.Description); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	var resp predictResponse
	if err := m.client.Do(ctx, http.MethodPost, predictPath, w.FormDataContentType(), &body, &resp); err != nil {
		return nil, err
	}
	if resp.Confidence == nil {
		return nil, fmt.Errorf("missing confidence in prediction response")
	}

	return &models.PredictionResult{
		Name:          resp.Result.Name,
		Description:   resp.Result.Description,
		Confidence:    *resp.Confidence,
		SuggestedFood: resp.SuggestedFood,
		Timestamp:     parseTimestamp(resp.Timestamp),
	}, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// parseTimestamp accepts RFC 3339 and the zone-less ISO form the backend
// emits. Unparseable values fall back to the current time.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Now()
}
