package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/franckalain/nutritrack/internal/capture"
	"github.com/franckalain/nutritrack/internal/identity"
	"github.com/franckalain/nutritrack/internal/models"
)

const historyLimit = 20

// Error codes sent with "error" messages
const (
	codeBadRequest        = "bad_request"
	codeAccessDenied      = "access_denied"
	codeInvalidToken      = "invalid_token"
	codeSignedOut         = "signed_out"
	codeValidation        = "validation"
	codePermissionDenied  = "permission_denied"
	codeCaptureFailed     = "capture_failed"
	codePredictionFailed  = "prediction_failed"
	codeCommitFailed      = "commit_failed"
	codeStaleSession      = "stale_session"
	codeInvalidTransition = "invalid_transition"
	codeInvalidDecision   = "invalid_decision"
	codeCancelled         = "cancelled"
	codeUnavailable       = "unavailable"
	codeNotFound          = "not_found"
	codeInProgress        = "in_progress"
	codeInternal          = "internal"
)

func errorCode(err error) string {
	switch {
	case errors.Is(err, capture.ErrValidation):
		return codeValidation
	case errors.Is(err, capture.ErrPermissionDenied):
		return codePermissionDenied
	case errors.Is(err, capture.ErrCaptureFailed):
		return codeCaptureFailed
	case errors.Is(err, capture.ErrPredictionFailed):
		return codePredictionFailed
	case errors.Is(err, capture.ErrCommitFailed):
		return codeCommitFailed
	case errors.Is(err, capture.ErrStaleSession):
		return codeStaleSession
	case errors.Is(err, capture.ErrInvalidTransition):
		return codeInvalidTransition
	case errors.Is(err, capture.ErrInvalidDecision):
		return codeInvalidDecision
	case errors.Is(err, capture.ErrSessionCancelled), errors.Is(err, capture.ErrCancelled):
		return codeCancelled
	case errors.Is(err, identity.ErrInvalidToken):
		return codeInvalidToken
	case errors.Is(err, identity.ErrSignedOut):
		return codeSignedOut
	}
	return codeInternal
}

type guardsMessage struct {
	Guards models.AccessGuards `json:"guards"`
	Screen models.ScreenGroup  `json:"screen"`
	User   *identity.User      `json:"user"`
}

type authRequest struct {
	Token string `json:"token"`
}

type profileRequest struct {
	DisplayName string `json:"display_name"`
}

type startScanRequest struct {
	Name             string  `json:"name"`
	Description      string  `json:"description"`
	MealType         string  `json:"meal_type"`
	Amount           float64 `json:"amount"`
	CameraPermission *bool   `json:"camera_permission"`
}

type imageRequest struct {
	SessionID string             `json:"session_id"`
	Source    models.ImageSource `json:"source"`
	Image     string             `json:"image"`
	Filename  string             `json:"filename"`
	Error     string             `json:"error"`
}

type decisionRequest struct {
	SessionID string           `json:"session_id"`
	Decision  capture.Decision `json:"decision"`
}

type cancelRequest struct {
	SessionID string `json:"session_id"`
}

type predictionFailedMessage struct {
	SessionID capture.Handle     `json:"session_id"`
	Error     string             `json:"error"`
	Options   []capture.Decision `json:"options"`
}

func (c *client) handleMessage(msg inbound) {
	switch msg.Type {
	case "auth":
		c.handleAuth(msg.Data)
	case "logout":
		c.handleLogout()
	case "update_profile":
		c.handleUpdateProfile(msg.Data)
	case "start_scan":
		c.handleStartScan(msg.Data)
	case "image":
		c.handleImage(msg.Data)
	case "decision":
		c.handleDecision(msg.Data)
	case "cancel":
		c.handleCancel(msg.Data)
	case "get_session":
		c.sendSession()
	case "get_history":
		c.handleGetHistory()
	case "get_profile":
		c.handleGetProfile()
	case "log_water":
		c.handleLogWater(msg.Data)
	case "water_stats":
		c.handleWaterStats(msg.Data)
	case "daily_meals":
		c.handleDailyMeals(msg.Data)
	case "ask":
		c.handleAsk(msg.Data)
	case "init_profile":
		c.handleSaveProfile(msg.Data, true)
	case "update_user":
		c.handleSaveProfile(msg.Data, false)
	case "nutrition_daily":
		c.handleNutrition(msg.Data, false)
	case "nutrition_weekly":
		c.handleNutrition(msg.Data, true)
	case "streak":
		c.handleStreak(msg.Data)
	case "top_nutrients":
		c.handleTopNutrients(msg.Data)
	case "habit_report":
		c.handleHabitReport()
	case "refresh_habits":
		c.handleRefreshHabits()
	default:
		c.sendError(codeBadRequest, "Unknown message type")
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func (c *client) handleAuth(raw json.RawMessage) {
	var req authRequest
	if err := decode(raw, &req); err != nil || req.Token == "" {
		c.sendError(codeBadRequest, "Missing token")
		return
	}
	if _, err := c.identity.SignIn(c.ctx, req.Token); err != nil {
		c.logger.Info("sign-in rejected", "error", err)
		c.sendErr(err)
	}
}

func (c *client) handleLogout() {
	if err := c.identity.SignOut(c.ctx); err != nil {
		c.sendErr(err)
	}
}

func (c *client) handleUpdateProfile(raw json.RawMessage) {
	var req profileRequest
	if err := decode(raw, &req); err != nil {
		c.sendError(codeBadRequest, "Invalid profile data")
		return
	}
	if _, err := c.identity.UpdateDisplayName(c.ctx, req.DisplayName); err != nil {
		c.sendErr(err)
	}
}

func (c *client) handleStartScan(raw json.RawMessage) {
	var req startScanRequest
	if err := decode(raw, &req); err != nil {
		c.sendError(codeBadRequest, "Invalid scan data")
		return
	}

	screen, ok := c.gate.Screen()
	user := c.identity.Current()
	if !ok || screen != models.ScreenTabs || user == nil {
		c.sendError(codeAccessDenied, "Complete sign-in before logging meals")
		return
	}

	mealType, err := models.ParseMealType(req.MealType)
	if err != nil {
		c.sendError(codeValidation, err.Error())
		return
	}

	p, err := c.pipelineFor(user.ID)
	if err != nil {
		c.logger.Error("error creating pipeline", "error", err)
		c.sendError(codeInternal, "Failed to start scan")
		return
	}

	granted := true
	if req.CameraPermission != nil {
		granted = *req.CameraPermission
	}
	c.device.setPermission(granted)

	h, err := p.StartSession(c.ctx, req.Name, req.Description,
		capture.WithMealType(mealType),
		capture.WithAmount(req.Amount),
	)
	if err != nil {
		c.sendErr(err)
		c.sendSession()
		return
	}
	c.setHandle(p, h)
	c.sendSession()
}

func (c *client) handleImage(raw json.RawMessage) {
	var req imageRequest
	if err := decode(raw, &req); err != nil {
		c.sendError(codeBadRequest, "Invalid image data")
		return
	}
	p, h, err := c.current(req.SessionID)
	if err != nil {
		c.sendErr(err)
		return
	}

	var img models.ImageRef
	var stageErr error
	if req.Error != "" {
		stageErr = errors.New(req.Error)
	} else {
		// Decode base64 image
		data, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil || len(data) == 0 {
			c.sendError(codeBadRequest, "Invalid image format")
			return
		}
		img, err = c.images.save(data, req.Filename)
		if err != nil {
			c.logger.Error("error staging image", "error", err)
			c.sendError(codeInternal, "Failed to store image")
			return
		}
	}
	c.device.stage(img, stageErr)

	c.background(func() {
		var err error
		if req.Source == models.SourceGallery {
			img, err = p.PickFromGallery(c.ctx, h)
		} else {
			img, err = p.Capture(c.ctx, h)
		}
		c.device.settle()
		if err != nil {
			c.sendErr(err)
			c.sendSession()
			return
		}

		res, err := p.SubmitForPrediction(c.ctx, h, img)
		c.afterPrediction(p, h, res, err)
	})
}

// afterPrediction reports a failed upload with its recovery options, or
// routes the result to a review.
func (c *client) afterPrediction(p *capture.Pipeline, h capture.Handle, res *models.PredictionResult, err error) {
	if errors.Is(err, capture.ErrPredictionFailed) {
		c.sendMessage("prediction_failed", predictionFailedMessage{
			SessionID: h,
			Error:     "We couldn't analyze this photo. Please try again.",
			Options:   []capture.Decision{capture.DecisionRetry, capture.DecisionCancel},
		})
		return
	}
	if err != nil {
		c.sendErr(err)
		c.sendSession()
		return
	}

	review, err := p.ResolvePrediction(h, res)
	if err != nil {
		c.sendErr(err)
		c.sendSession()
		return
	}
	c.sendMessage("review", review)
}

func (c *client) handleDecision(raw json.RawMessage) {
	var req decisionRequest
	if err := decode(raw, &req); err != nil || req.Decision == "" {
		c.sendError(codeBadRequest, "Invalid decision")
		return
	}
	p, h, err := c.current(req.SessionID)
	if err != nil {
		c.sendErr(err)
		return
	}

	if p.Session().State == capture.StateUploadFailed {
		switch req.Decision {
		case capture.DecisionRetry:
			c.background(func() {
				res, err := p.Retry(c.ctx, h)
				c.afterPrediction(p, h, res, err)
			})
		case capture.DecisionCancel:
			if err := p.Cancel(h); err != nil {
				c.sendErr(err)
			}
			c.sendSession()
		default:
			c.sendError(codeInvalidDecision, "Choose retry or cancel")
		}
		return
	}

	receipt, err := p.Decide(c.ctx, h, req.Decision)
	if err != nil {
		c.sendErr(err)
		c.sendSession()
		return
	}
	if receipt != nil {
		c.images.release(receipt.Record.ImageURI)
		c.images.sweep(c.device.pending()...)
		c.sendMessage("committed", receipt)
		return
	}
	c.sendSession()
}

func (c *client) handleCancel(raw json.RawMessage) {
	var req cancelRequest
	if err := decode(raw, &req); err != nil {
		c.sendError(codeBadRequest, "Invalid cancel request")
		return
	}
	p, h, err := c.current(req.SessionID)
	if err != nil {
		// Nothing active: cancelling is a no-op.
		if errors.Is(err, capture.ErrStaleSession) && req.SessionID == "" {
			c.sendSession()
			return
		}
		c.sendErr(err)
		return
	}
	if err := p.Cancel(h); err != nil {
		c.sendErr(err)
	}
	c.sendSession()
}

func (c *client) sendSession() {
	c.mu.Lock()
	p := c.pipeline
	c.mu.Unlock()

	var s capture.Session
	if p != nil {
		s = p.Session()
	}
	c.sweepImages(s)
	c.sendMessage("session", s)
}

type totals struct {
	Meals      int                     `json:"meals"`
	Grams      float64                 `json:"grams"`
	ByMealType map[models.MealType]int `json:"by_meal_type"`
}

func (t *totals) add(rec *models.LogRecord) {
	t.Meals++
	t.Grams += rec.AmountGrams
	if rec.MealType != "" {
		t.ByMealType[rec.MealType]++
	}
}

type historyMessage struct {
	Items     []*models.LogRecord `json:"items"`
	DayTotal  totals              `json:"day_total"`
	WeekTotal totals              `json:"week_total"`
}

// periodStart returns the start of today and of this week; weeks start on
// Sunday.
func periodStart(now time.Time) (day, week time.Time) {
	day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return day, day.AddDate(0, 0, -int(now.Weekday()))
}

// summarize totals week, the records logged since the start of the week,
// and attaches the recent items list.
func summarize(items, week []*models.LogRecord, now time.Time) historyMessage {
	startOfDay, startOfWeek := periodStart(now)

	msg := historyMessage{
		Items:     items,
		DayTotal:  totals{ByMealType: map[models.MealType]int{}},
		WeekTotal: totals{ByMealType: map[models.MealType]int{}},
	}
	if msg.Items == nil {
		msg.Items = []*models.LogRecord{}
	}
	for _, rec := range week {
		if rec.Timestamp.Before(startOfWeek) {
			continue
		}
		msg.WeekTotal.add(rec)
		if !rec.Timestamp.Before(startOfDay) {
			msg.DayTotal.add(rec)
		}
	}
	return msg
}

func (c *client) handleGetHistory() {
	user := c.identity.Current()
	if user == nil {
		c.sendError(codeAccessDenied, "Sign in to see your history")
		return
	}
	history := c.srv.cfg.History
	if history == nil {
		c.sendError(codeUnavailable, "History is not available")
		return
	}

	now := time.Now()
	_, startOfWeek := periodStart(now)

	// Recent records for the list, the whole week for the totals
	items, err := history.Recent(c.ctx, user.ID, historyLimit)
	if err != nil {
		c.logger.Error("error retrieving history", "error", err)
		c.sendError(codeInternal, "Failed to retrieve history")
		return
	}
	week, err := history.Since(c.ctx, user.ID, startOfWeek)
	if err != nil {
		c.logger.Error("error retrieving weekly history", "error", err)
		c.sendError(codeInternal, "Failed to retrieve history")
		return
	}
	c.sendMessage("history", summarize(items, week, now))
}

func (c *client) sendMessage(messageType string, data any) {
	msg := map[string]any{
		"type": messageType,
		"data": data,
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.logger.Debug("sending message to client", "type", messageType)
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Debug("error sending message", "type", messageType, "error", err)
	}
}

func (c *client) sendError(code, message string) {
	msg := map[string]any{
		"type":    "error",
		"code":    code,
		"message": message,
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Debug("error sending error message", "error", err)
	}
}

func (c *client) sendErr(err error) {
	c.sendError(errorCode(err), err.Error())
}
