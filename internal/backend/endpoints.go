package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Profile is the user document kept by the backend
type Profile struct {
	Username  string    `json:"username"`
	Nickname  string    `json:"nickname,omitempty"`
	Gender    string    `json:"gender"`
	Age       int       `json:"age"`
	Height    float64   `json:"height,omitempty"` // cm
	Weight    float64   `json:"weight,omitempty"` // kg
	Meals     []string  `json:"meals"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ErrInvalidProfile is returned before any request is made.
var ErrInvalidProfile = errors.New("invalid profile")

func (p *Profile) validate() error {
	if n := len(p.Username); n < 3 || n > 30 {
		return fmt.Errorf("%w: username must be 3 to 30 characters", ErrInvalidProfile)
	}
	switch p.Gender {
	case "male", "female", "other":
	default:
		return fmt.Errorf("%w: gender must be male, female or other", ErrInvalidProfile)
	}
	if p.Age < 0 || p.Age > 120 {
		return fmt.Errorf("%w: age must be between 0 and 120", ErrInvalidProfile)
	}
	if p.Meals == nil {
		p.Meals = []string{}
	}
	return nil
}

func (c *Client) GetUser(ctx context.Context, username string) (*Profile, error) {
	var p Profile
	if err := c.getJSON(ctx, "/api/v1/user/"+url.PathEscape(username), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// InitUser creates the profile at the end of onboarding.
func (c *Client) InitUser(ctx context.Context, p Profile) (*Profile, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	var out Profile
	if err := c.sendJSON(ctx, http.MethodPost, "/api/v1/user/init", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateUser(ctx context.Context, p Profile) (*Profile, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	var out Profile
	if err := c.sendJSON(ctx, http.MethodPut, "/api/v1/user/"+url.PathEscape(p.Username), p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type WaterIntake struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Amount    int       `json:"amount"` // ml
}

type DailyWaterStats struct {
	Date                string        `json:"date"`
	TotalIntake         int           `json:"total_intake"`
	IntakeCount         int           `json:"intake_count"`
	Intakes             []WaterIntake `json:"intakes"`
	RecommendedIntake   int           `json:"recommended_intake"`
	PercentageCompleted float64       `json:"percentage_completed"`
}

// LogWater records amountML of water, timestamped now when at is zero.
func (c *Client) LogWater(ctx context.Context, username string, amountML int, at time.Time) (*WaterIntake, error) {
	if amountML <= 0 {
		return nil, errors.New("water amount must be positive")
	}
	in := struct {
		Amount    int        `json:"amount"`
		Timestamp *time.Time `json:"timestamp,omitempty"`
	}{Amount: amountML}
	if !at.IsZero() {
		in.Timestamp = &at
	}
	var out WaterIntake
	if err := c.sendJSON(ctx, http.MethodPost, "/api/v1/water/water/intake/"+url.PathEscape(username), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QuickGlass logs one standard glass.
func (c *Client) QuickGlass(ctx context.Context, username string) (*WaterIntake, error) {
	var out WaterIntake
	if err := c.sendJSON(ctx, http.MethodPost, "/api/v1/water/water/quick-glass/"+url.PathEscape(username), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DailyWaterStats returns today's stats when day is zero.
func (c *Client) DailyWaterStats(ctx context.Context, username string, day time.Time) (*DailyWaterStats, error) {
	path := "/api/v1/water/water/stats/" + url.PathEscape(username) + "/daily"
	if !day.IsZero() {
		path += "/" + day.Format(time.DateOnly)
	}
	var out DailyWaterStats
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Meal is one entry of the backend's meal log
type Meal map[string]any

type DailyMeals struct {
	Date  string `json:"date"`
	Meals []Meal `json:"meals"`
}

func (c *Client) DailyMeals(ctx context.Context, username string, day time.Time) (*DailyMeals, error) {
	q := url.Values{"username": {username}}
	if !day.IsZero() {
		q.Set("date", day.Format(time.DateOnly))
	}
	var out DailyMeals
	if err := c.getJSON(ctx, "/api/v1/log/meals/daily?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type Answer struct {
	Answer  string `json:"answer"`
	NumDocs int    `json:"num_docs"`
	Success bool   `json:"success"`
}

// Ask sends a question to the conversational assistant.
func (c *Client) Ask(ctx context.Context, userID, query string) (*Answer, error) {
	if query == "" {
		return nil, errors.New("query is required")
	}
	in := struct {
		Query  string `json:"query"`
		UserID string `json:"user_id"`
	}{Query: query, UserID: userID}
	var out Answer
	if err := c.PostJSON(ctx, "/api/v1/query", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
