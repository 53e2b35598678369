package admission

import (
	"time"

	"github.com/ftu-admissions/admission-api/internal/admission/application"
	"github.com/ftu-admissions/admission-api/internal/logger"
	"github.com/ftu-admissions/admission-api/internal/media"
	"github.com/ftu-admissions/admission-api/internal/receipt"
	"github.com/go-chi/chi/v5"
)

const (
	defaultRequestTimeout = 5 * time.Second
	defaultUploadTimeout  = 60 * time.Second
	maxJSONBody           = 1 << 20
)

// Handler wires the admission HTTP endpoints to application services.
type Handler struct {
	logger         logger.Logger
	drafts         application.DraftService
	uploads        application.UploadService
	submissions    application.SubmissionService
	resolver       *application.Resolver
	hints          application.HintStore
	signer         *receipt.Signer
	sessionSecret  []byte
	sessionSecure  bool
	requestTimeout time.Duration
	uploadTimeout  time.Duration
	maxFileBytes   int64
	maxDocuments   int
}

// Config defines dependencies required by Handler.
type Config struct {
	Logger         logger.Logger
	Drafts         application.DraftService
	Uploads        application.UploadService
	Submissions    application.SubmissionService
	Resolver       *application.Resolver
	Hints          application.HintStore
	Signer         *receipt.Signer
	SessionSecret  []byte
	SessionSecure  bool
	RequestTimeout time.Duration
	UploadTimeout  time.Duration
	MaxFileBytes   int64
	MaxDocuments   int
}

// NewHandler constructs the admission handler set.
func NewHandler(cfg Config) *Handler {
	h := &Handler{
		logger:         cfg.Logger,
		drafts:         cfg.Drafts,
		uploads:        cfg.Uploads,
		submissions:    cfg.Submissions,
		resolver:       cfg.Resolver,
		hints:          cfg.Hints,
		signer:         cfg.Signer,
		sessionSecret:  cfg.SessionSecret,
		sessionSecure:  cfg.SessionSecure,
		requestTimeout: cfg.RequestTimeout,
		uploadTimeout:  cfg.UploadTimeout,
		maxFileBytes:   cfg.MaxFileBytes,
		maxDocuments:   cfg.MaxDocuments,
	}
	if h.logger == nil {
		h.logger = logger.NewNoOpLogger()
	}
	if h.requestTimeout <= 0 {
		h.requestTimeout = defaultRequestTimeout
	}
	if h.uploadTimeout <= 0 {
		h.uploadTimeout = defaultUploadTimeout
	}
	if h.maxFileBytes <= 0 {
		h.maxFileBytes = media.MaxFileBytes
	}
	if h.maxDocuments <= 0 {
		h.maxDocuments = 5
	}
	return h
}

// Register mounts all admission routes onto the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/streams", h.streamListHandler())
	r.Get("/streams/{stream}/programs", h.programListHandler())

	r.Post("/applications", h.applicationCreateHandler())
	r.Get("/applications/{id}", h.applicationFetchHandler())
	r.Put("/applications/{id}", h.applicationUpdateHandler())
	r.Get("/applications/{id}/progress", h.applicationProgressHandler())
	r.Post("/applications/{id}/submit", h.applicationSubmitHandler())
	r.Get("/applications/{id}/receipt", h.receiptDownloadHandler())
	r.Get("/receipts/verify", h.receiptVerifyHandler())

	r.Post("/upload", h.uploadHandler())
	r.Get("/session/resolve", h.sessionResolveHandler())
}
