package application

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ftu-admissions/admission-api/internal/admission/domain"
)

// ErrFinalizeRejected is returned by DraftRepository.Finalize when the stored record no longer
// satisfies the submission predicate at write time.
var ErrFinalizeRejected = errors.New("draft does not satisfy the submission predicate")

// DraftRepository is the persistence port for application drafts.
type DraftRepository interface {
	// Create assigns an id to app and stores it.
	Create(ctx context.Context, app *domain.Application) error
	FindByID(ctx context.Context, id string) (*domain.Application, error)
	// Update merges patch into a Draft record. Submitted records yield a Conflict.
	Update(ctx context.Context, id string, patch domain.Patch, now time.Time) (*domain.Application, error)
	// Finalize moves a Draft with every required field present to Submitted in one
	// compare-and-swap write.
	Finalize(ctx context.Context, id string, now time.Time) (*domain.Application, error)
}

// StoredObject describes an object written to object storage.
type StoredObject struct {
	Key string
	URL string
}

// ObjectStorage is the port for binary attachment storage.
type ObjectStorage interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (StoredObject, error)
	Delete(ctx context.Context, key string) error
}

// HintStore remembers the most recent draft id per browser session. It is never authoritative.
type HintStore interface {
	Remember(ctx context.Context, sessionKey, applicationID string) error
	// Recall returns "" when nothing is remembered.
	Recall(ctx context.Context, sessionKey string) (string, error)
}

// ReceiptRenderer produces the printable receipt of a submitted application.
type ReceiptRenderer interface {
	Render(ctx context.Context, app *domain.Application) (*domain.Receipt, error)
}

// SubmissionNotifier is told about every real Draft -> Submitted transition.
type SubmissionNotifier interface {
	NotifySubmitted(ctx context.Context, app domain.Application)
}

// Clock allows tests to pin time.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}
