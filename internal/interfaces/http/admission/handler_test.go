package admission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/ftu-admissions/admission-api/internal/admission/application"
	"github.com/ftu-admissions/admission-api/internal/infrastructure/memory"
	"github.com/ftu-admissions/admission-api/internal/logger/loggertest"
	"github.com/ftu-admissions/admission-api/internal/receipt"
	"github.com/go-chi/chi/v5"
	"github.com/go-pdf/fpdf"
	"github.com/ledongthuc/pdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mediaBase = "http://media.test"

type storageFetcher struct {
	storage *memory.ObjectStorage
}

func (f storageFetcher) Fetch(_ context.Context, rawURL string) ([]byte, error) {
	blob, ok := f.storage.Get(strings.TrimPrefix(rawURL, mediaBase+"/"))
	if !ok {
		return nil, errors.New("object not found")
	}
	return blob.Data, nil
}

type testEnv struct {
	router  http.Handler
	repo    *memory.DraftRepository
	storage *memory.ObjectStorage
	signer  *receipt.Signer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := loggertest.New(t)
	repo := memory.NewDraftRepository()
	storage := memory.NewObjectStorage(mediaBase)
	hints := memory.NewHintStore(time.Hour)
	signer, err := receipt.NewSigner([]byte("receipt-secret"), "admission-api")
	require.NoError(t, err)

	drafts := application.NewDraftService(repo, application.AttachmentPolicy{BaseURLs: []string{mediaBase}, KeyPrefix: "ftu"}, nil)
	handler := NewHandler(Config{
		Logger:  log,
		Drafts:  drafts,
		Uploads: application.NewUploadService(repo, storage, application.UploadPolicy{KeyPrefix: "ftu"}, log, nil),
		Submissions: application.NewSubmissionService(application.SubmissionConfig{
			Repository: repo,
			Receipts: receipt.NewBuilder(receipt.Config{
				Fetcher:       storageFetcher{storage: storage},
				Signer:        signer,
				Logger:        log,
				VerifyBaseURL: "http://api.test",
			}),
			Logger: log,
		}),
		Resolver:      application.NewResolver(drafts, hints, application.ResolverConfig{Wait: 50 * time.Millisecond, PollInterval: 10 * time.Millisecond}, log),
		Hints:         hints,
		Signer:        signer,
		SessionSecret: []byte("session-secret"),
	})

	r := chi.NewRouter()
	handler.Register(r)
	return &testEnv{router: r, repo: repo, storage: storage, signer: signer}
}

type response struct {
	Data             json.RawMessage `json:"data"`
	Error            string          `json:"error"`
	Code             string          `json:"code"`
	MissingFields    []string        `json:"missingFields"`
	AlreadySubmitted bool            `json:"alreadySubmitted"`
	Success          *bool           `json:"success"`
	Application      json.RawMessage `json:"application"`
}

type referenceBody struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Kind     string `json:"kind"`
}

type applicationBody struct {
	ID        string          `json:"id"`
	Stream    string          `json:"stream"`
	Program   string          `json:"program"`
	FullName  string          `json:"fullName"`
	Email     string          `json:"email"`
	Status    string          `json:"status"`
	Photo     *referenceBody  `json:"photo"`
	Documents []referenceBody `json:"documents"`
}

func (e *testEnv) do(t *testing.T, method, target string, body any, cookies ...*http.Cookie) (*httptest.ResponseRecorder, response) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var resp response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func decodeApplication(t *testing.T, raw json.RawMessage) applicationBody {
	t.Helper()
	var app applicationBody
	require.NoError(t, json.Unmarshal(raw, &app))
	return app
}

type filePart struct {
	field       string
	filename    string
	contentType string
	data        []byte
}

func (e *testEnv) upload(t *testing.T, fields map[string]string, files ...filePart) (*httptest.ResponseRecorder, response) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+f.filename+`"`)
		header.Set("Content-Type", f.contentType)
		part, err := writer.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

// pdfText extracts the plain text of every page.
func pdfText(t *testing.T, data []byte) string {
	t.Helper()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var text strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		require.NoError(t, err)
		text.WriteString(content)
	}
	return text.String()
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

func TestFetchUnknownApplicationReturnsNullData(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/applications/65f0c0ffee0000000000abcd", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", resp.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	data, ok := body["data"]
	assert.True(t, ok)
	assert.Nil(t, data)
}

func TestCreateUpdateFetch(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPost, "/applications", map[string]any{"stream": "bachelors"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeApplication(t, resp.Data)
	assert.Equal(t, "Draft", created.Status)
	assert.Equal(t, "bachelors", created.Stream)
	require.NotEmpty(t, created.ID)

	rec, resp = env.do(t, http.MethodPut, "/applications/"+created.ID, map[string]any{"program": "BSCS"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp = env.do(t, http.MethodPut, "/applications/"+created.ID, map[string]any{"stream": "masters"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp = env.do(t, http.MethodGet, "/applications/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fetched := decodeApplication(t, resp.Data)
	assert.Equal(t, "masters", fetched.Stream)
	assert.Equal(t, "BSCS", fetched.Program)
	assert.NotNil(t, fetched.Documents)
}

func TestCreateRejectsInvalidPayload(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPost, "/applications", map[string]any{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILED", resp.Code)

	rec, resp = env.do(t, http.MethodPost, "/applications", map[string]any{"unknown": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILED", resp.Code)
}

func TestFinalizeThroughUpdateListsMissingFields(t *testing.T) {
	env := newTestEnv(t)
	_, resp := env.do(t, http.MethodPost, "/applications", map[string]any{
		"stream":   "bachelors",
		"program":  "BSCS",
		"fullName": "Jane Doe",
		"email":    "jane@x.com",
		"photo":    map[string]any{"url": mediaBase + "/ftu/photos/x/p.png"},
	})
	created := decodeApplication(t, resp.Data)
	require.NotNil(t, created.Photo)

	rec, resp := env.do(t, http.MethodPut, "/applications/"+created.ID, map[string]any{"status": "Submitted"})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "PRECONDITION_FAILED", resp.Code)
	assert.Equal(t, []string{"documents"}, resp.MissingFields)

	rec, resp = env.do(t, http.MethodGet, "/applications/"+created.ID+"/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var progress struct {
		Progress struct {
			SelectStream bool `json:"selectStream"`
			Upload       bool `json:"upload"`
		} `json:"progress"`
		CanSubmit bool `json:"canSubmit"`
		Missing   []struct {
			Field string `json:"field"`
			Path  string `json:"path"`
		} `json:"missing"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &progress))
	assert.True(t, progress.Progress.SelectStream)
	assert.False(t, progress.Progress.Upload)
	assert.False(t, progress.CanSubmit)
	require.Len(t, progress.Missing, 1)
	assert.Equal(t, "documents", progress.Missing[0].Field)
	assert.Equal(t, "/application/upload?id="+created.ID, progress.Missing[0].Path)
}

func TestEndToEndSubmissionAndReceipt(t *testing.T) {
	env := newTestEnv(t)

	_, resp := env.do(t, http.MethodPost, "/applications", map[string]any{"stream": "bachelors"})
	id := decodeApplication(t, resp.Data).ID
	env.do(t, http.MethodPut, "/applications/"+id, map[string]any{"program": "BSCS"})
	env.do(t, http.MethodPut, "/applications/"+id, map[string]any{"fullName": "Jane Doe", "email": "jane@x.com"})

	rec, resp := env.upload(t, map[string]string{"appId": id},
		filePart{field: "photo", filename: "me.png", contentType: "image/png", data: pngBytes(t)},
		filePart{field: "documents", filename: "transcript.pdf", contentType: "application/pdf", data: pdfBytes(t)},
	)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, resp.Success)
	assert.True(t, *resp.Success)
	uploaded := decodeApplication(t, resp.Application)
	require.Len(t, uploaded.Documents, 1)
	assert.Equal(t, "transcript.pdf", uploaded.Documents[0].Filename)
	require.NotNil(t, uploaded.Photo)

	rec, resp = env.do(t, http.MethodPost, "/applications/"+id+"/submit", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, resp.AlreadySubmitted)
	assert.Equal(t, "Submitted", decodeApplication(t, resp.Data).Status)

	rec, resp = env.do(t, http.MethodPost, "/applications/"+id+"/submit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.AlreadySubmitted)

	rec, resp = env.do(t, http.MethodPut, "/applications/"+id, map[string]any{"fullName": "Changed"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// 保存済みの値と status だけを送り直す再送は冪等な提出として扱う
	rec, resp = env.do(t, http.MethodPut, "/applications/"+id, map[string]any{
		"status":   "Submitted",
		"fullName": "Jane Doe",
		"email":    "jane@x.com",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, resp.AlreadySubmitted)

	req := httptest.NewRequest(http.MethodGet, "/applications/"+id+"/receipt", nil)
	receiptRec := httptest.NewRecorder()
	env.router.ServeHTTP(receiptRec, req)
	require.Equal(t, http.StatusOK, receiptRec.Code)
	assert.Equal(t, "application/pdf", receiptRec.Header().Get("Content-Type"))
	assert.Contains(t, receiptRec.Header().Get("Content-Disposition"), "receipt-jane-doe-")
	assert.Empty(t, receiptRec.Header().Get("X-Receipt-Degraded"))
	assert.True(t, bytes.HasPrefix(receiptRec.Body.Bytes(), []byte("%PDF-")))

	text := pdfText(t, receiptRec.Body.Bytes())
	assert.Contains(t, text, "Jane Doe")
	assert.Contains(t, text, "bachelors")
	assert.Contains(t, text, "BSCS")
	assert.Contains(t, text, id)
}

func TestUpdateRejectsForeignAttachmentURL(t *testing.T) {
	env := newTestEnv(t)
	_, resp := env.do(t, http.MethodPost, "/applications", map[string]any{"stream": "bachelors"})
	id := decodeApplication(t, resp.Data).ID

	for _, body := range []map[string]any{
		{"photo": map[string]any{"url": "http://169.254.169.254/latest/meta-data/iam/"}},
		{"photoUrl": "http://127.0.0.1:6379/"},
		{"appendDocuments": []any{map[string]any{"url": "http://internal.test/secret.pdf"}}},
	} {
		rec, resp := env.do(t, http.MethodPut, "/applications/"+id, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_FAILED", resp.Code)
	}

	rec, resp := env.do(t, http.MethodGet, "/applications/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	app := decodeApplication(t, resp.Data)
	assert.Nil(t, app.Photo)
	assert.Empty(t, app.Documents)
}

func TestUploadRejectsUnsupportedDocument(t *testing.T) {
	env := newTestEnv(t)
	_, resp := env.do(t, http.MethodPost, "/applications", map[string]any{"stream": "phd"})
	id := decodeApplication(t, resp.Data).ID

	rec, resp := env.upload(t, map[string]string{"appId": id},
		filePart{field: "documents", filename: "notes.txt", contentType: "text/plain", data: []byte("hello")},
	)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	require.NotNil(t, resp.Success)
	assert.False(t, *resp.Success)
	assert.Equal(t, "UNSUPPORTED_MEDIA_TYPE", resp.Code)

	app, err := env.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, app.Documents)
	assert.Empty(t, env.storage.Keys())
}

func TestUploadWithoutIDCreatesDraft(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.upload(t, map[string]string{"userId": "user-7"},
		filePart{field: "photo", filename: "me.png", contentType: "image/png", data: pngBytes(t)},
	)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	app := decodeApplication(t, resp.Application)
	require.NotEmpty(t, app.ID)

	stored, err := env.repo.FindByID(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-7", stored.UserID)
}

func TestUploadRequiresMultipart(t *testing.T) {
	env := newTestEnv(t)
	rec, resp := env.do(t, http.MethodPost, "/upload", map[string]any{"appId": "x"})
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Equal(t, "UNSUPPORTED_MEDIA_TYPE", resp.Code)
}

func TestReceiptBeforeSubmission(t *testing.T) {
	env := newTestEnv(t)
	_, resp := env.do(t, http.MethodPost, "/applications", nil)
	id := decodeApplication(t, resp.Data).ID

	rec, resp := env.do(t, http.MethodGet, "/applications/"+id+"/receipt", nil)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "PRECONDITION_FAILED", resp.Code)
}

func TestSessionResolveRedirectsToHintedDraft(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPost, "/applications", map[string]any{"stream": "masters"})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeApplication(t, resp.Data).ID
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, sessionCookieName, cookies[0].Name)

	rec, resp = env.do(t, http.MethodGet, "/session/resolve?stage=program", nil, cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	var resolution application.Resolution
	require.NoError(t, json.Unmarshal(resp.Data, &resolution))
	assert.Equal(t, application.ActionRedirect, resolution.Action)
	assert.Equal(t, "/application/program?id="+id, resolution.Location)

	rec, resp = env.do(t, http.MethodGet, "/session/resolve?stage=program&id="+id, nil, cookies...)
	require.NoError(t, json.Unmarshal(resp.Data, &resolution))
	assert.Equal(t, application.ActionUse, resolution.Action)

	rec, resp = env.do(t, http.MethodGet, "/session/resolve?stage=review", nil)
	require.NoError(t, json.Unmarshal(resp.Data, &resolution))
	assert.Equal(t, application.ActionRestart, resolution.Action)
	assert.Equal(t, "/application/stream", resolution.Location)

	rec, _ = env.do(t, http.MethodGet, "/session/resolve?stage=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionCookieRejectsTampering(t *testing.T) {
	h := NewHandler(Config{SessionSecret: []byte("secret")})
	value := h.signSessionCookie("abc", time.Now())

	id, _, ok := h.parseSessionCookie(value)
	require.True(t, ok)
	assert.Equal(t, "abc", id)

	_, _, ok = h.parseSessionCookie(strings.Replace(value, "v=abc", "v=abd", 1))
	assert.False(t, ok)
	_, _, ok = h.parseSessionCookie("garbage")
	assert.False(t, ok)
}

func TestReceiptVerify(t *testing.T) {
	env := newTestEnv(t)
	submittedAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	app := seedSubmitted(submittedAt)
	token, err := env.signer.Sign(app)
	require.NoError(t, err)

	rec, resp := env.do(t, http.MethodGet, "/receipts/verify?token="+token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var data map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, true, data["valid"])
	assert.Equal(t, app.ID, data["applicationId"])

	rec, resp = env.do(t, http.MethodGet, "/receipts/verify?token=bad", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILED", resp.Code)
}

func TestCatalogEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/streams", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var streams []map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &streams))
	assert.Len(t, streams, 3)

	rec, resp = env.do(t, http.MethodGet, "/streams/Masters/programs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var programs []string
	require.NoError(t, json.Unmarshal(resp.Data, &programs))
	assert.Contains(t, programs, "Master of Business Administration (MBA)")

	rec, _ = env.do(t, http.MethodGet, "/streams/diploma/programs", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
