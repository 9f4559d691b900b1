package backend

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"time"
)

// Stats is an aggregate computed by the backend. Its shape depends on the
// endpoint and is relayed to the shell as is.
type Stats map[string]any

func (c *Client) logStats(ctx context.Context, path string, q url.Values) (Stats, error) {
	var out Stats
	if err := c.getJSON(ctx, "/api/v1/log/"+path+"?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DailyNutrition returns the nutrient totals for day, today when zero.
func (c *Client) DailyNutrition(ctx context.Context, username string, day time.Time) (Stats, error) {
	q := url.Values{"username": {username}}
	if !day.IsZero() {
		q.Set("date", day.Format(time.DateOnly))
	}
	return c.logStats(ctx, "nutrition/daily", q)
}

// WeeklyNutrition returns the summary of the week containing day.
func (c *Client) WeeklyNutrition(ctx context.Context, username string, day time.Time) (Stats, error) {
	q := url.Values{"username": {username}}
	if !day.IsZero() {
		q.Set("date", day.Format(time.DateOnly))
	}
	return c.logStats(ctx, "nutrition/weekly", q)
}

// Streak counts consecutive days with at least minMeals logged, looking
// back days. Zero values use the backend defaults.
func (c *Client) Streak(ctx context.Context, username string, minMeals, days int) (Stats, error) {
	q := url.Values{"username": {username}}
	if minMeals > 0 {
		q.Set("min_meals_per_day", strconv.Itoa(minMeals))
	}
	if days > 0 {
		q.Set("days_to_check", strconv.Itoa(days))
	}
	return c.logStats(ctx, "streak", q)
}

func (c *Client) TopNutrients(ctx context.Context, username string, start, end time.Time, topN int) (Stats, error) {
	if start.IsZero() || end.IsZero() {
		return nil, errors.New("start and end dates are required")
	}
	if end.Before(start) {
		return nil, errors.New("end date is before start date")
	}
	q := url.Values{
		"username":   {username},
		"start_date": {start.Format(time.DateOnly)},
		"end_date":   {end.Format(time.DateOnly)},
	}
	if topN > 0 {
		q.Set("top_n", strconv.Itoa(topN))
	}
	return c.logStats(ctx, "nutrients/top", q)
}

type HabitReport struct {
	UserID string `json:"user_id"`
	Report Stats  `json:"report"`
}

// HabitAnalysis is returned when a new habit analysis starts. The report
// is available once the backend finishes it.
type HabitAnalysis struct {
	Status  string `json:"status"`
	DocID   string `json:"doc_id"`
	Message string `json:"message"`
}

// HabitReport returns the latest habit analysis. A user without one gets a
// 404 *StatusError.
func (c *Client) HabitReport(ctx context.Context, userID string) (*HabitReport, error) {
	var out HabitReport
	if err := c.getJSON(ctx, "/api/v1/habit/report/"+url.PathEscape(userID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshHabits starts a habit analysis. The backend answers 409 while one
// is already running.
func (c *Client) RefreshHabits(ctx context.Context, userID string) (*HabitAnalysis, error) {
	var out HabitAnalysis
	if err := c.getJSON(ctx, "/api/v1/habit/refresh/"+url.PathEscape(userID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}
