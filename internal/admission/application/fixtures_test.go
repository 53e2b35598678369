package application_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ftu-admissions/admission-api/internal/admission/application"
	"github.com/ftu-admissions/admission-api/internal/admission/domain"
	"github.com/ftu-admissions/admission-api/internal/infrastructure/memory"
	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

var testAttachments = application.AttachmentPolicy{BaseURLs: []string{"https://cdn.test"}, KeyPrefix: "ftu"}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func pdfBytes(t *testing.T) []byte {
	t.Helper()
	doc := fpdf.New("P", "mm", "A4", "")
	doc.AddPage()
	doc.SetFont("Helvetica", "", 10)
	doc.Cell(20, 10, "transcript")
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

func mustParse(t *testing.T, raw map[string]any) application.Partial {
	t.Helper()
	partial, err := application.ParsePartial(raw)
	require.NoError(t, err)
	return partial
}

// seedComplete stores a draft that satisfies every submission requirement.
func seedComplete(t *testing.T, repo application.DraftRepository) *domain.Application {
	t.Helper()
	stream := domain.StreamBachelors
	program, name, email := "BSCS", "Jane Doe", "jane@x.com"
	app := domain.NewDraft(domain.Patch{
		Stream:          &stream,
		Program:         &program,
		FullName:        &name,
		Email:           &email,
		Photo:           &domain.Reference{URL: "https://cdn.test/photo.png", Kind: domain.KindImage},
		AppendDocuments: []domain.Reference{{URL: "https://cdn.test/doc.pdf", Filename: "doc.pdf", Kind: domain.KindRaw}},
	}, fixedNow)
	require.NoError(t, repo.Create(context.Background(), app))
	return app
}

// flakyStorage fails every Put after the first failAfter successes.
type flakyStorage struct {
	*memory.ObjectStorage
	mu        sync.Mutex
	puts      int
	failAfter int
}

func (s *flakyStorage) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (application.StoredObject, error) {
	s.mu.Lock()
	s.puts++
	fail := s.puts > s.failAfter
	s.mu.Unlock()
	if fail {
		return application.StoredObject{}, errors.New("storage unavailable")
	}
	return s.ObjectStorage.Put(ctx, key, contentType, body, size)
}

// cancellingStorage cancels the request context once the first object is written.
type cancellingStorage struct {
	*memory.ObjectStorage
	cancel context.CancelFunc
}

func (s *cancellingStorage) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (application.StoredObject, error) {
	obj, err := s.ObjectStorage.Put(ctx, key, contentType, body, size)
	s.cancel()
	return obj, err
}

type stubRenderer struct {
	calls int
}

func (r *stubRenderer) Render(_ context.Context, app *domain.Application) (*domain.Receipt, error) {
	r.calls++
	return &domain.Receipt{
		Filename:    "receipt-" + app.ID + ".pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-stub"),
		Degraded:    []string{"photo"},
	}, nil
}

type recordingNotifier struct {
	sent chan domain.Application
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sent: make(chan domain.Application, 4)}
}

func (n *recordingNotifier) NotifySubmitted(_ context.Context, app domain.Application) {
	n.sent <- app
}
