package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"

	"github.com/franckalain/nutritrack/internal/models"
)

const defaultGeminiModel = "gemini-1.5-flash"

// GoogleConfig holds configuration for the Google model
type GoogleConfig struct {
	BaseConfig
	ProjectID       string `json:"project_id"`
	Location        string `json:"location"`
	CredentialsFile string `json:"credentials_file"`
	ModelName       string `json:"model_name"`
}

// Load loads the Google configuration
func (c *GoogleConfig) Load() error {
	if err := c.LoadConfig(c.ConfigPath, "google", c); err != nil {
		return err
	}

	// Fall back to environment variables if not set
	if c.ProjectID == "" {
		c.ProjectID = os.Getenv("GOOGLE_PROJECT_ID")
	}
	if c.Location == "" {
		c.Location = os.Getenv("GOOGLE_LOCATION")
	}
	if c.CredentialsFile == "" {
		c.CredentialsFile = os.Getenv("GOOGLE_CREDENTIALS_FILE")
	}
	if c.ModelName == "" {
		c.ModelName = defaultGeminiModel
	}

	if c.ProjectID == "" || c.Location == "" {
		return fmt.Errorf("google project id and location are required")
	}
	return nil
}

// GoogleModel implements the Model interface for Google's Vertex AI
type GoogleModel struct {
	config GoogleConfig
	client *genai.Client
	model  *genai.GenerativeModel
}

// GoogleModelFactory implements ModelFactory for Google models
type GoogleModelFactory struct {
	config GoogleConfig
}

// NewGoogleModelFactory creates a new Google model factory
func NewGoogleModelFactory(config GoogleConfig) *GoogleModelFactory {
	return &GoogleModelFactory{config: config}
}

// CreateModel creates a new Google model instance
func (f *GoogleModelFactory) CreateModel() (Model, error) {
	return &GoogleModel{
		config: f.config,
	}, nil
}

// Load initializes the Google model
func (m *GoogleModel) Load(ctx context.Context) error {
	opts := []option.ClientOption{}

	if m.config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(m.config.CredentialsFile))
	}

	client, err := genai.NewClient(ctx, m.config.ProjectID, m.config.Location, opts...)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	m.client = client
	m.model = client.GenerativeModel(m.config.ModelName)
	m.model.SetTemperature(0)
	return nil
}

// Close releases the Vertex AI client.
func (m *GoogleModel) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}

const recognitionPrompt = `Identify the food in this photo. The user says it is %q%s.

Format the response as a JSON object:
{
	"name": "short name of the food you see",
	"description": "one sentence describing the dish and its main ingredients",
	"confidence": number between 0 and 1 for how well the photo matches what the user said
}
If there is no food in the photo, return a confidence of 0.`

// Predict asks Gemini to identify the food and score the user's label.
func (m *GoogleModel) Predict(ctx context.Context, req models.PredictionRequest) (*models.PredictionResult, error) {
	if m.model == nil {
		return nil, fmt.Errorf("model not loaded")
	}

	data, filename, err := readImage(req.Image)
	if err != nil {
		return nil, err
	}

	described := ""
	if req.Description != "" {
		described = fmt.Sprintf(" (%s)", req.Description)
	}
	prompt := fmt.Sprintf(recognitionPrompt, req.Name, described)
	img := genai.ImageData(strings.TrimPrefix(ContentType(filename), "image/"), data)

	resp, err := m.model.GenerateContent(ctx, genai.Text(prompt), img)
	if err != nil {
		return nil, fmt.Errorf("failed to call ai: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no content in response")
	}

	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return nil, fmt.Errorf("unexpected response part %T", resp.Candidates[0].Content.Parts[0])
	}
	return parseGeminiAnswer(string(text), time.Now())
}

// parseGeminiAnswer strips an optional ```json fence and decodes the answer.
func parseGeminiAnswer(text string, now time.Time) (*models.PredictionResult, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var output struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Confidence  *float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(text), &output); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w while parsing %s", err, text)
	}
	if output.Confidence == nil {
		return nil, fmt.Errorf("missing required field 'confidence' in response")
	}
	if output.Name == "" {
		return nil, fmt.Errorf("missing required field 'name' in response")
	}

	return &models.PredictionResult{
		Name:        output.Name,
		Description: output.Description,
		Confidence:  *output.Confidence,
		Timestamp:   now,
	}, nil
}
