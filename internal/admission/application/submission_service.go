package application

import (
	"context"
	"errors"
	"time"

	"github.com/ftu-admissions/admission-api/internal/admission/domain"
	"github.com/ftu-admissions/admission-api/internal/apperror"
	"github.com/ftu-admissions/admission-api/internal/logger"
	"github.com/ftu-admissions/admission-api/internal/metrics"
)

const notifyTimeout = 30 * time.Second

// SubmitResult reports the outcome of a finalize call.
type SubmitResult struct {
	Application      *domain.Application
	AlreadySubmitted bool
}

// SubmissionService finalizes drafts and produces receipts.
type SubmissionService interface {
	Eligibility(ctx context.Context, id string) (*domain.Application, domain.Eligibility, error)
	Submit(ctx context.Context, id string) (*SubmitResult, error)
	Receipt(ctx context.Context, id string) (*domain.Receipt, error)
}

// SubmissionConfig defines dependencies of the finalizer.
type SubmissionConfig struct {
	Repository DraftRepository
	Receipts   ReceiptRenderer
	Notifier   SubmissionNotifier
	Logger     logger.Logger
	Clock      Clock
}

// NewSubmissionService wires the finalizer.
func NewSubmissionService(cfg SubmissionConfig) SubmissionService {
	if cfg.Clock == nil {
		cfg.Clock = systemClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}
	return &submissionService{
		repo:     cfg.Repository,
		receipts: cfg.Receipts,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
		now:      cfg.Clock,
	}
}

type submissionService struct {
	repo     DraftRepository
	receipts ReceiptRenderer
	notifier SubmissionNotifier
	logger   logger.Logger
	now      Clock
}

func (s *submissionService) Eligibility(ctx context.Context, id string) (*domain.Application, domain.Eligibility, error) {
	app, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, domain.Eligibility{}, apperror.FromContext(err, "fetch application")
	}
	return app, domain.CheckEligibility(app), nil
}

// Submit re-checks the gate against the stored record and finalizes it. A record that is
// already Submitted is returned unchanged without side effects.
func (s *submissionService) Submit(ctx context.Context, id string) (*SubmitResult, error) {
	app, eligibility, err := s.Eligibility(ctx, id)
	if err != nil {
		metrics.Submissions.WithLabelValues(resultLabel(err)).Inc()
		return nil, err
	}
	if eligibility.AlreadySubmitted {
		metrics.Submissions.WithLabelValues("already_submitted").Inc()
		return &SubmitResult{Application: app, AlreadySubmitted: true}, nil
	}
	if !eligibility.CanSubmit {
		metrics.Submissions.WithLabelValues("precondition_failed").Inc()
		return nil, apperror.PreconditionFailed("application is incomplete", domain.FieldNames(eligibility.Missing))
	}

	submitted, err := s.repo.Finalize(ctx, id, s.now())
	if errors.Is(err, ErrFinalizeRejected) {
		// Lost a race with a concurrent writer; report against the latest state.
		return s.afterRejectedFinalize(ctx, id)
	}
	if err != nil {
		metrics.Submissions.WithLabelValues(resultLabel(err)).Inc()
		return nil, apperror.FromContext(err, "finalize application")
	}

	metrics.Submissions.WithLabelValues("ok").Inc()
	s.logger.Info("application submitted", map[string]interface{}{
		"applicationId": submitted.ID,
		"stream":        string(submitted.Stream),
	})
	s.notify(ctx, submitted)
	return &SubmitResult{Application: submitted}, nil
}

func (s *submissionService) afterRejectedFinalize(ctx context.Context, id string) (*SubmitResult, error) {
	latest, eligibility, err := s.Eligibility(ctx, id)
	if err != nil {
		return nil, err
	}
	if eligibility.AlreadySubmitted {
		metrics.Submissions.WithLabelValues("already_submitted").Inc()
		return &SubmitResult{Application: latest, AlreadySubmitted: true}, nil
	}
	metrics.Submissions.WithLabelValues("precondition_failed").Inc()
	return nil, apperror.PreconditionFailed("application changed during submission", domain.FieldNames(eligibility.Missing))
}

func (s *submissionService) notify(ctx context.Context, app *domain.Application) {
	if s.notifier == nil {
		return
	}
	snapshot := *app.Clone()
	go func() {
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		s.notifier.NotifySubmitted(notifyCtx, snapshot)
	}()
}

// Receipt renders the confirmation of a submitted application. It never changes the record.
func (s *submissionService) Receipt(ctx context.Context, id string) (*domain.Receipt, error) {
	app, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, apperror.FromContext(err, "fetch application")
	}
	if !app.IsSubmitted() {
		return nil, apperror.PreconditionFailed("application has not been submitted", nil)
	}
	if s.receipts == nil {
		return nil, apperror.Internal("receipt rendering is not configured", nil)
	}

	receipt, err := s.receipts.Render(ctx, app)
	if err != nil {
		return nil, apperror.FromContext(err, "render receipt")
	}
	degraded := "false"
	if len(receipt.Degraded) > 0 {
		degraded = "true"
		s.logger.Warn("receipt rendered with link fallbacks", map[string]interface{}{
			"applicationId": app.ID,
			"attachments":   receipt.Degraded,
		})
	}
	metrics.ReceiptsRendered.WithLabelValues(degraded).Inc()
	return receipt, nil
}
