package ml

import (
	"context"
	"fmt"

	"github.com/franckalain/nutritrack/internal/backend"
	"github.com/franckalain/nutritrack/internal/models"
)

// Model represents a food recognizer that checks a photo against the
// user's label
type Model interface {
	// Load initializes the model with its configuration
	Load(ctx context.Context) error
	// Predict identifies the food in the image and scores how well it
	// matches the label
	Predict(ctx context.Context, req models.PredictionRequest) (*models.PredictionResult, error)
}

// ModelFactory creates a new model instance based on configuration
type ModelFactory interface {
	// CreateModel creates a new model instance
	CreateModel() (Model, error)
}

// NewModel creates a new model instance based on the model type. configPath
// is the optional per-model configuration file.
func NewModel(modelType, configPath string, client *backend.Client) (Model, error) {
	var factory ModelFactory

	switch modelType {
	case "google":
		config := GoogleConfig{
			BaseConfig: BaseConfig{
				ConfigPath: configPath,
			},
		}
		if err := config.Load(); err != nil {
			return nil, fmt.Errorf("failed to load Google config: %w", err)
		}
		factory = NewGoogleModelFactory(config)
	case "remote", "":
		if client == nil {
			return nil, fmt.Errorf("remote model requires a backend client")
		}
		factory = NewRemoteModelFactory(client)
	default:
		return nil, fmt.Errorf("unsupported model type: %s", modelType)
	}
	return factory.CreateModel()
}
