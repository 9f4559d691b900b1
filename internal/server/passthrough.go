package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/franckalain/nutritrack/internal/backend"
	"github.com/franckalain/nutritrack/internal/identity"
)

// Messages relayed to the backend for the signed-in user. They are not
// part of the capture flow and need the backend client to be configured.

type waterRequest struct {
	Amount int `json:"amount"` // ml; zero logs one glass
}

type dayRequest struct {
	Date string `json:"date"` // YYYY-MM-DD; empty means today
}

type askRequest struct {
	Query string `json:"query"`
}

type profileFields struct {
	Nickname string   `json:"nickname"`
	Gender   string   `json:"gender"`
	Age      int      `json:"age"`
	Height   float64  `json:"height"`
	Weight   float64  `json:"weight"`
	Meals    []string `json:"meals"`
}

// profile keys the backend document by the signed-in user.
func (f profileFields) profile(userID string) backend.Profile {
	return backend.Profile{
		Username: userID,
		Nickname: f.Nickname,
		Gender:   f.Gender,
		Age:      f.Age,
		Height:   f.Height,
		Weight:   f.Weight,
		Meals:    f.Meals,
	}
}

type streakRequest struct {
	MinMealsPerDay int `json:"min_meals_per_day"`
	Days           int `json:"days"`
}

type rangeRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	TopN      int    `json:"top_n"`
}

func (c *client) backendUser() (*identity.User, bool) {
	if c.srv.cfg.Backend == nil {
		c.sendError(codeUnavailable, "Backend is not configured")
		return nil, false
	}
	user := c.identity.Current()
	if user == nil {
		c.sendError(codeAccessDenied, "Sign in first")
		return nil, false
	}
	return user, true
}

func parseDay(raw json.RawMessage) (time.Time, error) {
	var req dayRequest
	if err := decode(raw, &req); err != nil {
		return time.Time{}, err
	}
	if req.Date == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, req.Date)
}

func (c *client) relay(messageType string, out any, err error) {
	if errors.Is(err, backend.ErrInvalidProfile) {
		c.sendError(codeValidation, err.Error())
		return
	}
	if err != nil {
		c.logger.Warn("backend request failed", "type", messageType, "error", err)
		c.sendError(codeUnavailable, "Backend request failed")
		return
	}
	c.sendMessage(messageType, out)
}

func (c *client) handleGetProfile() {
	user, ok := c.backendUser()
	if !ok {
		return
	}
	p, err := c.srv.cfg.Backend.GetUser(c.ctx, user.ID)
	c.relay("profile", p, err)
}

func (c *client) handleLogWater(raw json.RawMessage) {
	user, ok := c.backendUser()
	if !ok {
		return
	}
	var req waterRequest
	if err := decode(raw, &req); err != nil || req.Amount < 0 {
		c.sendError(codeBadRequest, "Invalid water amount")
		return
	}
	if req.Amount == 0 {
		w, err := c.srv.cfg.Backend.QuickGlass(c.ctx, user.ID)
		c.relay("water_logged", w, err)
		return
	}
	w, err := c.srv.cfg.Backend.LogWater(c.ctx, user.ID, req.Amount, time.Time{})
	c.relay("water_logged", w, err)
}

func (c *client) handleWaterStats(raw json.RawMessage) {
	user, ok := c.backendUser()
	if !ok {
		return
	}
	day, err := parseDay(raw)
	if err != nil {
		c.sendError(codeBadRequest, "Invalid date")
		return
	}
	stats, err := c.srv.cfg.Backend.DailyWaterStats(c.ctx, user.ID, day)
	c.relay("water_stats", stats, err)
}

func (c *client) handleDailyMeals(raw json.RawMessage) {
	user, ok := c.backendUser()
	if !ok {
		return
	}
	day, err := parseDay(raw)
	if err != nil {
		c.sendError(codeBadRequest, "Invalid date")
		return
	}
	meals, err := c.srv.cfg.Backend.DailyMeals(c.ctx, user.ID, day)
	c.relay("daily_meals", meals, err)
}

func (c *client) handleAsk(raw json.RawMessage) {
	user, ok := c.backendUser()
	if !ok {
		return
	}
	var req askRequest
	if err := decode(raw, &req); err != nil || req.Query == "" {
		c.sendError(codeBadRequest, "Missing query")
		return
	}
	// The assistant can be slow; keep the read loop free.
	c.background(func() {
		answer, err := c.srv.cfg.Backend.Ask(c.ctx, user.ID, req.Query)
		c.relay("answer", answer, err)
	})
}

func (c *client) handleSaveProfile(raw json.RawMessage, create bool) {
	user, ok := c.backendUser()
	if !ok {
		return
	}
	var req profileFields
	if err := decode(raw, &req); err != nil {
		c.sendError(codeBadRequest, "Invalid profile data")
		return
	}
	var (
		p   *backend.Profile
		err error
	)
	if create {
		p, err = c.srv.cfg.Backend.InitUser(c.ctx, req.profile(user.ID))
	} else {
		p, err = c.srv.cfg.Backend.UpdateUser(c.ctx, req.profile(user.ID))
	}
	c.relay("profile", p, err)
}

func (c *client) handleNutrition(raw json.RawMessage, weekly bool) {
	user, ok := c.backendUser()
	if !ok {
		return
	}
	day, err := parseDay(raw)
	if err != nil {
		c.sendError(codeBadRequest, "Invalid date")
		return
	}
	if weekly {
		stats, err := c.srv.cfg.Backend.WeeklyNutrition(c.ctx, user.ID, day)
		c.relay("nutrition_weekly", stats, err)
		return
	}
	stats, err := c.srv.cfg.Backend.DailyNutrition(c.ctx, user.ID, day)
	c.relay("nutrition_daily", stats, err)
}

func (c *client) handleStreak(raw json.RawMessage) {
	user, ok := c.backendUser()
	if !ok {
		return
	}
	var req streakRequest
	if err := decode(raw, &req); err != nil || req.MinMealsPerDay < 0 || req.Days < 0 {
		c.sendError(codeBadRequest, "Invalid streak request")
		return
	}
	stats, err := c.srv.cfg.Backend.Streak(c.ctx, user.ID, req.MinMealsPerDay, req.Days)
	c.relay("streak", stats, err)
}

func (c *client) handleTopNutrients(raw json.RawMessage) {
	user, ok := c.backendUser()
	if !ok {
		return
	}
	var req rangeRequest
	if err := decode(raw, &req); err != nil {
		c.sendError(codeBadRequest, "Invalid date range")
		return
	}
	start, err := time.Parse(time.DateOnly, req.StartDate)
	if err != nil {
		c.sendError(codeBadRequest, "Invalid start date")
		return
	}
	end, err := time.Parse(time.DateOnly, req.EndDate)
	if err != nil || end.Before(start) {
		c.sendError(codeBadRequest, "Invalid end date")
		return
	}
	stats, err := c.srv.cfg.Backend.TopNutrients(c.ctx, user.ID, start, end, req.TopN)
	c.relay("top_nutrients", stats, err)
}

func (c *client) handleHabitReport() {
	user, ok := c.backendUser()
	if !ok {
		return
	}
	report, err := c.srv.cfg.Backend.HabitReport(c.ctx, user.ID)
	var se *backend.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		c.sendError(codeNotFound, "No habit report yet")
		return
	}
	c.relay("habit_report", report, err)
}

func (c *client) handleRefreshHabits() {
	user, ok := c.backendUser()
	if !ok {
		return
	}
	analysis, err := c.srv.cfg.Backend.RefreshHabits(c.ctx, user.ID)
	var se *backend.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusConflict {
		c.sendError(codeInProgress, "Habit analysis already running")
		return
	}
	c.relay("habit_refresh", analysis, err)
}
