// Package capture runs the food photo pipeline: label, image, remote
// prediction, confidence-gated review and journal commit.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/franckalain/nutritrack/internal/metrics"
	"github.com/franckalain/nutritrack/internal/models"
)

// DefaultTimeout bounds each recognition and journal call.
const DefaultTimeout = 30 * time.Second

// Deps are the ports a pipeline drives. Gallery is optional.
type Deps struct {
	Camera     Camera
	Gallery    Gallery
	Recognizer Recognizer
	Journal    Journal
}

type Option func(*Pipeline)

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline owns at most one capture session for a single user. It is safe
// for concurrent use; the lock is never held across a port call.
type Pipeline struct {
	userID  string
	deps    Deps
	logger  *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	now     func() time.Time

	mu       sync.Mutex
	session  Session
	inflight context.CancelFunc
}

// New builds a pipeline whose commits are keyed by userID.
func New(userID string, deps Deps, opts ...Option) (*Pipeline, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id is required")
	}
	if deps.Camera == nil {
		return nil, errors.New("camera is required")
	}
	if deps.Recognizer == nil {
		return nil, errors.New("recognizer is required")
	}
	if deps.Journal == nil {
		return nil, errors.New("journal is required")
	}

	p := &Pipeline{
		userID:  userID,
		deps:    deps,
		logger:  slog.Default(),
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Session returns a snapshot of the current session.
func (p *Pipeline) Session() Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session.clone()
}

// StartSession validates the label, asks for camera access and leaves the
// session ready to capture. An active session is reset first.
func (p *Pipeline) StartSession(ctx context.Context, name, description string, opts ...SessionOption) (Handle, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: food name is required", ErrValidation)
	}

	s := Session{
		ID:              Handle(uuid.NewString()),
		State:           StateNameEntered,
		FoodName:        name,
		FoodDescription: strings.TrimSpace(description),
	}
	for _, opt := range opts {
		opt(&s)
	}

	p.mu.Lock()
	if p.session.State != StateIdle {
		p.logger.WarnContext(ctx, "capture session replaced while active",
			"session_id", p.session.ID,
			"state", p.session.State.String(),
		)
		p.resetLocked()
	}
	p.session = s
	p.mu.Unlock()
	p.metrics.IncSessionsStarted()

	granted, err := p.deps.Camera.RequestPermission(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session.ID != s.ID {
		return "", ErrSessionCancelled
	}
	if err != nil || !granted {
		p.resetLocked()
		p.logger.InfoContext(ctx, "camera permission denied", "session_id", s.ID, "error", err)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
		return "", ErrPermissionDenied
	}

	p.session.State = StateReadyToCapture
	p.logger.DebugContext(ctx, "capture session started",
		"session_id", s.ID,
		"food_name", s.FoodName,
		"meal_type", s.MealType,
	)
	return s.ID, nil
}

// Capture takes a photo with the camera.
func (p *Pipeline) Capture(ctx context.Context, h Handle) (models.ImageRef, error) {
	return p.acquire(ctx, h, models.SourceCamera, p.deps.Camera.Capture)
}

// PickFromGallery selects an existing photo instead of using the camera.
func (p *Pipeline) PickFromGallery(ctx context.Context, h Handle) (models.ImageRef, error) {
	if p.deps.Gallery == nil {
		return p.acquire(ctx, h, models.SourceGallery, func(context.Context) (models.ImageRef, error) {
			return models.ImageRef{}, errors.New("gallery unavailable")
		})
	}
	return p.acquire(ctx, h, models.SourceGallery, p.deps.Gallery.Pick)
}

func (p *Pipeline) acquire(ctx context.Context, h Handle, source models.ImageSource, fn func(context.Context) (models.ImageRef, error)) (models.ImageRef, error) {
	p.mu.Lock()
	if err := p.checkLocked(h, StateReadyToCapture); err != nil {
		p.mu.Unlock()
		return models.ImageRef{}, err
	}
	p.mu.Unlock()

	img, err := fn(ctx)
	if err == nil && img.URI == "" {
		err = errors.New("no image returned")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session.ID != h {
		return models.ImageRef{}, ErrSessionCancelled
	}
	if p.session.State != StateReadyToCapture {
		return models.ImageRef{}, fmt.Errorf("%w: capture finished in state %s", ErrInvalidTransition, p.session.State)
	}
	if err != nil {
		p.metrics.IncCapture(string(source), "failed")
		p.logger.InfoContext(ctx, "image acquisition failed",
			"session_id", h,
			"source", source,
			"error", err,
		)
		return models.ImageRef{}, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}

	img.Source = source
	p.session.Image = img
	p.session.State = StateUploading
	p.metrics.IncCapture(string(source), "ok")
	return img, nil
}

// SubmitForPrediction uploads the image with the session's label. On
// failure the session waits in StateUploadFailed for Retry or Cancel.
func (p *Pipeline) SubmitForPrediction(ctx context.Context, h Handle, img models.ImageRef) (*models.PredictionResult, error) {
	p.mu.Lock()
	if err := p.checkLocked(h, StateUploading); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if img.URI != "" && img.URI != p.session.Image.URI {
		if img.Source == "" {
			img.Source = p.session.Image.Source
		}
		p.session.Image = img
	}
	return p.predictLocked(ctx, h)
}

// Retry re-submits the same image after a failed upload.
func (p *Pipeline) Retry(ctx context.Context, h Handle) (*models.PredictionResult, error) {
	p.mu.Lock()
	if err := p.checkLocked(h, StateUploadFailed); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	p.session.State = StateUploading
	p.metrics.IncDecision(string(DecisionRetry))
	return p.predictLocked(ctx, h)
}

// predictLocked must be called with p.mu held; it releases it around the
// recognizer call.
func (p *Pipeline) predictLocked(ctx context.Context, h Handle) (*models.PredictionResult, error) {
	req := models.PredictionRequest{
		Image:       p.session.Image,
		Name:        p.session.FoodName,
		Description: p.session.FoodDescription,
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	p.inflight = cancel
	p.mu.Unlock()

	start := time.Now()
	res, err := p.deps.Recognizer.Predict(ctx, req)
	cancel()
	if err == nil {
		err = validatePrediction(res)
	}
	elapsed := time.Since(start).Seconds()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session.ID != h || p.session.State != StateUploading {
		p.metrics.ObservePrediction("discarded", elapsed)
		return nil, ErrSessionCancelled
	}
	p.inflight = nil

	if err != nil {
		p.session.State = StateUploadFailed
		p.metrics.ObservePrediction("failed", elapsed)
		p.logger.WarnContext(ctx, "prediction failed",
			"session_id", h,
			"image", req.Image.URI,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", ErrPredictionFailed, err)
	}

	result := *res
	p.session.Prediction = &result
	p.session.State = StatePredicted
	p.metrics.ObservePrediction("ok", elapsed)
	p.logger.InfoContext(ctx, "prediction received",
		"session_id", h,
		"detected_name", result.Name,
		"confidence", result.Confidence,
	)

	out := result
	return &out, nil
}

func validatePrediction(res *models.PredictionResult) error {
	if res == nil {
		return errors.New("empty prediction")
	}
	if math.IsNaN(res.Confidence) || res.Confidence < 0 || res.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", res.Confidence)
	}
	return nil
}

// ResolvePrediction routes the session to the low-confidence or the
// normal review. result must be nil or the prediction the session
// received; the stored one is always used.
func (p *Pipeline) ResolvePrediction(h Handle, result *models.PredictionResult) (*Review, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkLocked(h, StatePredicted); err != nil {
		return nil, err
	}
	// The stored prediction is authoritative. A caller may only echo it back.
	if result != nil && *result != *p.session.Prediction {
		return nil, fmt.Errorf("%w: result does not match the received prediction", ErrInvalidTransition)
	}
	result = p.session.Prediction

	review := &Review{
		SessionID:           h,
		FoodName:            p.session.FoodName,
		FoodDescription:     p.session.FoodDescription,
		DetectedName:        result.Name,
		DetectedDescription: result.Description,
		SuggestedFood:       result.SuggestedFood,
		Confidence:          result.Confidence,
	}
	if result.Confidence < LowConfidenceThreshold {
		review.Kind = ReviewLowConfidence
		review.Options = []Decision{DecisionCancel, DecisionRetake, DecisionProceed}
		p.session.State = StateLowConfidenceReview
	} else {
		review.Kind = ReviewNormal
		review.Options = []Decision{DecisionCancel, DecisionAdd}
		p.session.State = StateNormalReview
	}
	p.metrics.IncReview(string(review.Kind))
	return review, nil
}

// Decide applies a review decision. Cancel and retake return a nil receipt.
func (p *Pipeline) Decide(ctx context.Context, h Handle, d Decision) (*models.CommitReceipt, error) {
	p.mu.Lock()
	if err := p.checkLocked(h, StateLowConfidenceReview, StateNormalReview); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if !allowed(p.session.State, d) {
		state := p.session.State
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %q in %s", ErrInvalidDecision, d, state)
	}

	switch d {
	case DecisionCancel:
		p.metrics.IncDecision(string(d))
		p.resetLocked()
		p.mu.Unlock()
		return nil, nil
	case DecisionRetake:
		p.metrics.IncDecision(string(d))
		p.session.Image = models.ImageRef{}
		p.session.Prediction = nil
		p.session.State = StateReadyToCapture
		p.mu.Unlock()
		return nil, nil
	}
	p.mu.Unlock()
	return p.Commit(ctx, h, d)
}

func allowed(s State, d Decision) bool {
	switch s {
	case StateLowConfidenceReview:
		return d == DecisionCancel || d == DecisionRetake || d == DecisionProceed
	case StateNormalReview:
		return d == DecisionCancel || d == DecisionAdd
	case StateUploadFailed:
		return d == DecisionCancel || d == DecisionRetry
	}
	return false
}

// Commit writes the session's record to the journal exactly once and then
// destroys the session, whether or not the write succeeded.
func (p *Pipeline) Commit(ctx context.Context, h Handle, d Decision) (*models.CommitReceipt, error) {
	p.mu.Lock()
	if err := p.checkLocked(h, StateLowConfidenceReview, StateNormalReview); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	state := p.session.State
	if !(state == StateNormalReview && d == DecisionAdd) && !(state == StateLowConfidenceReview && d == DecisionProceed) {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot commit with %q in %s", ErrInvalidDecision, d, state)
	}

	s := p.session
	rec := models.LogRecord{
		ID:                  uuid.NewString(),
		UserID:              p.userID,
		FoodName:            s.FoodName,
		FoodDescription:     s.FoodDescription,
		DetectedName:        s.Prediction.Name,
		DetectedDescription: s.Prediction.Description,
		Confidence:          s.Prediction.Confidence,
		LowConfidence:       state == StateLowConfidenceReview,
		AmountGrams:         s.AmountGrams,
		MealType:            s.MealType,
		ImageURI:            s.Image.URI,
		Timestamp:           p.now(),
	}
	p.session.State = StateCommitted
	p.mu.Unlock()
	p.metrics.IncDecision(string(d))

	wctx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.deps.Journal.Commit(wctx, &rec)
	cancel()

	p.mu.Lock()
	if p.session.ID == h {
		p.resetLocked()
	}
	p.mu.Unlock()

	if err != nil {
		p.metrics.IncCommit("failed")
		p.logger.ErrorContext(ctx, "journal commit failed",
			"session_id", h,
			"record_id", rec.ID,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}

	p.metrics.IncCommit("ok")
	p.logger.InfoContext(ctx, "meal logged",
		"session_id", h,
		"record_id", rec.ID,
		"food_name", rec.FoodName,
		"detected_name", rec.DetectedName,
		"low_confidence", rec.LowConfidence,
	)
	return &models.CommitReceipt{
		SessionID:   string(h),
		Record:      rec,
		CommittedAt: p.now(),
	}, nil
}

// Cancel discards the session identified by h. Cancelling when no session
// is active is a no-op.
func (p *Pipeline) Cancel(h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session.State == StateIdle {
		return nil
	}
	if p.session.ID != h {
		return ErrStaleSession
	}
	p.metrics.IncDecision(string(DecisionCancel))
	p.resetLocked()
	return nil
}

// Reset discards whatever session is active.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
}

func (p *Pipeline) resetLocked() {
	if p.inflight != nil {
		p.inflight()
		p.inflight = nil
	}
	p.session = Session{}
}

func (p *Pipeline) checkLocked(h Handle, states ...State) error {
	if p.session.State == StateIdle || p.session.ID != h {
		return ErrStaleSession
	}
	for _, s := range states {
		if p.session.State == s {
			return nil
		}
	}
	return fmt.Errorf("%w: session is %s", ErrInvalidTransition, p.session.State)
}
