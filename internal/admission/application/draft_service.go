package application

import (
	"context"

	"github.com/ftu-admissions/admission-api/internal/admission/domain"
	"github.com/ftu-admissions/admission-api/internal/apperror"
	"github.com/ftu-admissions/admission-api/internal/metrics"
)

// DraftService covers the create / fetch / update use-cases of the draft store.
type DraftService interface {
	Create(ctx context.Context, partial Partial) (*domain.Application, error)
	Fetch(ctx context.Context, id string) (*domain.Application, error)
	Update(ctx context.Context, id string, partial Partial) (*domain.Application, error)
}

// NewDraftService wires the draft use-cases to a repository. Attachment references in a
// partial must satisfy attachments.
func NewDraftService(repo DraftRepository, attachments AttachmentPolicy, clock Clock) DraftService {
	if clock == nil {
		clock = systemClock
	}
	return &draftService{repo: repo, attachments: attachments, now: clock}
}

type draftService struct {
	repo        DraftRepository
	attachments AttachmentPolicy
	now         Clock
}

func (s *draftService) Create(ctx context.Context, partial Partial) (*domain.Application, error) {
	if partial.Status != nil && *partial.Status == domain.StatusSubmitted {
		return nil, apperror.Validation("a new application cannot be created as Submitted")
	}
	if err := s.attachments.Check(partial.Patch); err != nil {
		return nil, err
	}

	app := domain.NewDraft(partial.Patch, s.now())
	if err := s.repo.Create(ctx, app); err != nil {
		return nil, apperror.FromContext(err, "create application")
	}
	metrics.DraftsCreated.WithLabelValues("form").Inc()
	return app, nil
}

func (s *draftService) Fetch(ctx context.Context, id string) (*domain.Application, error) {
	app, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, apperror.FromContext(err, "fetch application")
	}
	return app, nil
}

// Update merges a partial into the draft. Finalization is not reachable from here; callers
// route a requested Submitted status to the SubmissionService.
func (s *draftService) Update(ctx context.Context, id string, partial Partial) (*domain.Application, error) {
	if partial.Status != nil && *partial.Status == domain.StatusSubmitted {
		return nil, apperror.Validation("status Submitted is only reachable through submission")
	}
	if err := s.attachments.Check(partial.Patch); err != nil {
		metrics.DraftUpdates.WithLabelValues("rejected").Inc()
		return nil, err
	}

	if partial.Patch.IsEmpty() {
		current, err := s.Fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.IsSubmitted() {
			if partial.Status != nil {
				metrics.DraftUpdates.WithLabelValues("conflict").Inc()
				return nil, apperror.Conflict("application has already been submitted")
			}
			return current, nil
		}
	}

	app, err := s.repo.Update(ctx, id, partial.Patch, s.now())
	if err != nil && apperror.IsCode(err, apperror.CodeConflict) && partial.Status == nil {
		// Resending the stored values of a submitted record is not a conflict.
		if current, ferr := s.repo.FindByID(ctx, id); ferr == nil && current.IsSubmitted() && partial.Patch.ChangesNothing(current) {
			return current, nil
		}
	}
	if err != nil {
		metrics.DraftUpdates.WithLabelValues(resultLabel(err)).Inc()
		return nil, apperror.FromContext(err, "update application")
	}
	metrics.DraftUpdates.WithLabelValues("ok").Inc()
	return app, nil
}

func resultLabel(err error) string {
	switch apperror.CodeOf(err) {
	case apperror.CodeNotFound:
		return "not_found"
	case apperror.CodeConflict:
		return "conflict"
	case apperror.CodeTimeout:
		return "timeout"
	default:
		return "error"
	}
}
