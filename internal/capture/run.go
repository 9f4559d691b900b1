package capture

import (
	"context"
	"errors"

	"github.com/franckalain/nutritrack/internal/models"
)

type PromptKind string

const (
	PromptReview       PromptKind = "review"
	PromptUploadFailed PromptKind = "upload_failed"
)

// Prompt is a suspend point: the pipeline waits until the user picks one
// of Options.
type Prompt struct {
	Kind      PromptKind
	SessionID Handle
	Review    *Review
	Err       error
	Options   []Decision
}

// Decider supplies user decisions, typically by showing a dialog.
type Decider interface {
	AwaitDecision(ctx context.Context, p Prompt) (Decision, error)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, p Prompt) (Decision, error)

func (f DeciderFunc) AwaitDecision(ctx context.Context, p Prompt) (Decision, error) {
	return f(ctx, p)
}

type RunRequest struct {
	Name        string
	Description string
	Source      models.ImageSource
	Options     []SessionOption
}

// Run drives one session from name entry to commit. It returns
// ErrCancelled when the user cancels at a decision point. A capture
// failure is returned as is and leaves the session ready to capture.
func (p *Pipeline) Run(ctx context.Context, req RunRequest, d Decider) (*models.CommitReceipt, error) {
	h, err := p.StartSession(ctx, req.Name, req.Description, req.Options...)
	if err != nil {
		return nil, err
	}

	for {
		var img models.ImageRef
		if req.Source == models.SourceGallery {
			img, err = p.PickFromGallery(ctx, h)
		} else {
			img, err = p.Capture(ctx, h)
		}
		if err != nil {
			return nil, err
		}

		res, err := p.SubmitForPrediction(ctx, h, img)
		for err != nil {
			if !errors.Is(err, ErrPredictionFailed) {
				return nil, err
			}
			choice, derr := p.await(ctx, d, Prompt{
				Kind:      PromptUploadFailed,
				SessionID: h,
				Err:       err,
				Options:   []Decision{DecisionRetry, DecisionCancel},
			})
			if derr != nil {
				return nil, derr
			}
			if choice == DecisionCancel {
				_ = p.Cancel(h)
				return nil, ErrCancelled
			}
			res, err = p.Retry(ctx, h)
		}

		review, err := p.ResolvePrediction(h, res)
		if err != nil {
			return nil, err
		}
		choice, err := p.await(ctx, d, Prompt{
			Kind:      PromptReview,
			SessionID: h,
			Review:    review,
			Options:   review.Options,
		})
		if err != nil {
			return nil, err
		}

		receipt, err := p.Decide(ctx, h, choice)
		if err != nil {
			return nil, err
		}
		switch choice {
		case DecisionCancel:
			return nil, ErrCancelled
		case DecisionRetake:
			continue
		}
		return receipt, nil
	}
}

// await asks until the decider returns one of the prompt's options. The
// session is cancelled if the decider fails or ctx ends first.
func (p *Pipeline) await(ctx context.Context, d Decider, pr Prompt) (Decision, error) {
	for {
		if err := ctx.Err(); err != nil {
			_ = p.Cancel(pr.SessionID)
			return "", err
		}
		choice, err := d.AwaitDecision(ctx, pr)
		if err != nil {
			_ = p.Cancel(pr.SessionID)
			return "", err
		}
		for _, o := range pr.Options {
			if o == choice {
				return choice, nil
			}
		}
		p.logger.WarnContext(ctx, "decision not offered, asking again",
			"session_id", pr.SessionID,
			"decision", choice,
		)
	}
}
