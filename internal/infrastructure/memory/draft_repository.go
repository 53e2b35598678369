// Package memory holds process-local adapters used by the memory drivers and by tests.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ftu-admissions/admission-api/internal/admission/application"
	"github.com/ftu-admissions/admission-api/internal/admission/domain"
	"github.com/ftu-admissions/admission-api/internal/apperror"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DraftRepository keeps drafts in a map guarded by a mutex.
type DraftRepository struct {
	mu     sync.RWMutex
	drafts map[string]*domain.Application
}

var _ application.DraftRepository = (*DraftRepository)(nil)

// NewDraftRepository returns an empty repository.
func NewDraftRepository() *DraftRepository {
	return &DraftRepository{drafts: make(map[string]*domain.Application)}
}

func (r *DraftRepository) Create(ctx context.Context, app *domain.Application) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	app.ID = primitive.NewObjectID().Hex()
	r.drafts[app.ID] = app.Clone()
	return nil
}

func (r *DraftRepository) FindByID(ctx context.Context, id string) (*domain.Application, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	app, ok := r.drafts[strings.TrimSpace(id)]
	if !ok {
		return nil, apperror.NotFound("application", id)
	}
	return app.Clone(), nil
}

func (r *DraftRepository) Update(ctx context.Context, id string, patch domain.Patch, now time.Time) (*domain.Application, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.drafts[strings.TrimSpace(id)]
	if !ok {
		return nil, apperror.NotFound("application", id)
	}
	if app.IsSubmitted() {
		return nil, apperror.Conflict("application has already been submitted")
	}
	patch.Apply(app)
	app.UpdatedAt = now
	return app.Clone(), nil
}

func (r *DraftRepository) Finalize(ctx context.Context, id string, now time.Time) (*domain.Application, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	app, ok := r.drafts[strings.TrimSpace(id)]
	if !ok {
		return nil, apperror.NotFound("application", id)
	}
	if !domain.CheckEligibility(app).CanSubmit {
		return nil, application.ErrFinalizeRejected
	}
	app.Status = domain.StatusSubmitted
	app.UpdatedAt = now
	submittedAt := now
	app.SubmittedAt = &submittedAt
	return app.Clone(), nil
}

// Len reports the number of stored drafts.
func (r *DraftRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.drafts)
}
