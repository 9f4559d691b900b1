package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesBaseURL(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	_, err = New("ftp://example.com")
	assert.ErrorContains(t, err, "unsupported backend url scheme")

	c, err := New("http://example.com/")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/api/v1/query", c.URL("/api/v1/query"))
}

func TestNon2xxReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "username already exists", http.StatusConflict)
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.InitUser(context.Background(), Profile{Username: "sam", Gender: "other", Age: 30})
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusConflict, se.StatusCode)
	assert.Equal(t, "username already exists", se.Body)
}

func TestInitUserValidatesLocally(t *testing.T) {
	c, err := New("http://127.0.0.1:1")
	require.NoError(t, err)

	_, err = c.InitUser(context.Background(), Profile{Username: "ab", Gender: "other"})
	assert.ErrorIs(t, err, ErrInvalidProfile)
	assert.ErrorContains(t, err, "username")

	_, err = c.InitUser(context.Background(), Profile{Username: "abc", Gender: "robot"})
	assert.ErrorContains(t, err, "gender")
}

func TestUpdateUserSendsProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/user/sam", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var p Profile
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, []string{}, p.Meals)
		p.CreatedAt = time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
		_ = json.NewEncoder(w).Encode(p)
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	p, err := c.UpdateUser(context.Background(), Profile{Username: "sam", Gender: "female", Age: 41, Weight: 60})
	require.NoError(t, err)
	assert.Equal(t, 60.0, p.Weight)
	assert.Equal(t, 2026, p.CreatedAt.Year())
}

func TestWaterEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/water/water/quick-glass/sam":
			_ = json.NewEncoder(w).Encode(WaterIntake{ID: "w1", Amount: 250})
		case "/api/v1/water/water/intake/sam":
			var in map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			assert.Equal(t, 500.0, in["amount"])
			_ = json.NewEncoder(w).Encode(WaterIntake{ID: "w2", Amount: 500})
		case "/api/v1/water/water/stats/sam/daily/2026-05-01":
			_ = json.NewEncoder(w).Encode(DailyWaterStats{Date: "2026-05-01", TotalIntake: 750})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	ctx := context.Background()

	glass, err := c.QuickGlass(ctx, "sam")
	require.NoError(t, err)
	assert.Equal(t, 250, glass.Amount)

	intake, err := c.LogWater(ctx, "sam", 500, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "w2", intake.ID)

	_, err = c.LogWater(ctx, "sam", 0, time.Time{})
	assert.Error(t, err)

	stats, err := c.DailyWaterStats(ctx, "sam", time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 750, stats.TotalIntake)
}

func TestAsk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "u1", in["user_id"])
		_ = json.NewEncoder(w).Encode(Answer{Answer: "Eat more fiber", Success: true})
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	a, err := c.Ask(context.Background(), "u1", "what should I eat?")
	require.NoError(t, err)
	assert.True(t, a.Success)

	_, err = c.Ask(context.Background(), "u1", "")
	assert.Error(t, err)
}

func TestAnalyticsEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch r.URL.Path {
		case "/api/v1/log/nutrition/daily":
			assert.Equal(t, "sam", q.Get("username"))
			assert.Equal(t, "2026-05-01", q.Get("date"))
			_, _ = w.Write([]byte(`{"status":"success","total_calories":1800}`))
		case "/api/v1/log/nutrition/weekly":
			assert.Empty(t, q.Get("date"))
			_, _ = w.Write([]byte(`{"status":"success","days":7}`))
		case "/api/v1/log/streak":
			assert.Equal(t, "2", q.Get("min_meals_per_day"))
			assert.Empty(t, q.Get("days_to_check"))
			_, _ = w.Write([]byte(`{"status":"success","current_streak":4}`))
		case "/api/v1/log/nutrients/top":
			assert.Equal(t, "2026-04-01", q.Get("start_date"))
			assert.Equal(t, "2026-04-30", q.Get("end_date"))
			assert.Equal(t, "3", q.Get("top_n"))
			_, _ = w.Write([]byte(`{"status":"success","top_nutrients":[]}`))
		case "/api/v1/habit/report/sam":
			_, _ = w.Write([]byte(`{"user_id":"sam","report":{"summary":"regular breakfasts"}}`))
		case "/api/v1/habit/refresh/sam":
			w.WriteHeader(http.StatusConflict)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	ctx := context.Background()

	daily, err := c.DailyNutrition(ctx, "sam", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1800.0, daily["total_calories"])

	weekly, err := c.WeeklyNutrition(ctx, "sam", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 7.0, weekly["days"])

	streak, err := c.Streak(ctx, "sam", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 4.0, streak["current_streak"])

	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)
	_, err = c.TopNutrients(ctx, "sam", start, end, 3)
	require.NoError(t, err)
	_, err = c.TopNutrients(ctx, "sam", end, start, 3)
	assert.Error(t, err)

	report, err := c.HabitReport(ctx, "sam")
	require.NoError(t, err)
	assert.Equal(t, "regular breakfasts", report.Report["summary"])

	_, err = c.RefreshHabits(ctx, "sam")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusConflict, se.StatusCode)
}
