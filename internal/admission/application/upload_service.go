package application

import (
	"bytes"
	"context"
	"path"
	"strings"
	"time"

	"github.com/ftu-admissions/admission-api/internal/admission/domain"
	"github.com/ftu-admissions/admission-api/internal/apperror"
	"github.com/ftu-admissions/admission-api/internal/logger"
	"github.com/ftu-admissions/admission-api/internal/media"
	"github.com/ftu-admissions/admission-api/internal/metrics"
	"github.com/google/uuid"
)

const (
	photoNamespace    = "photos"
	documentNamespace = "docs"
	cleanupTimeout    = 10 * time.Second
)

// UploadFile is one part of a multipart upload, fully buffered.
type UploadFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// UploadCommand carries the files of one upload request.
type UploadCommand struct {
	ApplicationID string
	UserID        string
	Photo         *UploadFile
	Documents     []UploadFile
}

// UploadResult is the updated record plus the references created by the call.
type UploadResult struct {
	Application *domain.Application
	Photo       *domain.Reference
	Documents   []domain.Reference
	Created     bool
}

// UploadPolicy bounds what a single request may carry.
type UploadPolicy struct {
	MaxFileBytes int64
	MaxDocuments int
	KeyPrefix    string
}

// UploadService stores attachments and links them to a draft.
type UploadService interface {
	Upload(ctx context.Context, cmd UploadCommand) (*UploadResult, error)
}

// NewUploadService wires the upload pipeline.
func NewUploadService(repo DraftRepository, storage ObjectStorage, policy UploadPolicy, log logger.Logger, clock Clock) UploadService {
	if policy.MaxFileBytes <= 0 {
		policy.MaxFileBytes = media.MaxFileBytes
	}
	if policy.MaxDocuments <= 0 {
		policy.MaxDocuments = 5
	}
	if clock == nil {
		clock = systemClock
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &uploadService{repo: repo, storage: storage, policy: policy, logger: log, now: clock}
}

type uploadService struct {
	repo    DraftRepository
	storage ObjectStorage
	policy  UploadPolicy
	logger  logger.Logger
	now     Clock
}

type preparedFile struct {
	field       string
	filename    string
	contentType string
	kind        domain.ReferenceKind
	data        []byte
}

func (s *uploadService) Upload(ctx context.Context, cmd UploadCommand) (*UploadResult, error) {
	photo, docs, err := s.prepare(cmd)
	if err != nil {
		s.countRejected(cmd)
		return nil, err
	}

	app, created, err := s.resolveDraft(ctx, cmd)
	if err != nil {
		return nil, err
	}

	var written []StoredObject
	result := &UploadResult{Created: created}

	if photo != nil {
		ref, obj, err := s.store(ctx, app.ID, photoNamespace, *photo)
		if err != nil {
			s.cleanup(ctx, written)
			return nil, err
		}
		written = append(written, obj)
		result.Photo = &ref
	}
	for _, doc := range docs {
		ref, obj, err := s.store(ctx, app.ID, documentNamespace, doc)
		if err != nil {
			s.cleanup(ctx, written)
			return nil, err
		}
		written = append(written, obj)
		result.Documents = append(result.Documents, ref)
	}

	if err := ctx.Err(); err != nil {
		s.cleanup(ctx, written)
		return nil, apperror.FromContext(err, "upload aborted")
	}

	updated, err := s.repo.Update(ctx, app.ID, domain.Patch{
		Photo:           result.Photo,
		AppendDocuments: result.Documents,
	}, s.now())
	if err != nil {
		s.cleanup(ctx, written)
		return nil, apperror.FromContext(err, "attach uploads")
	}

	if photo != nil {
		metrics.UploadFiles.WithLabelValues("photo", "ok").Inc()
		metrics.UploadBytes.WithLabelValues("photo").Observe(float64(len(photo.data)))
	}
	for _, doc := range docs {
		metrics.UploadFiles.WithLabelValues("documents", "ok").Inc()
		metrics.UploadBytes.WithLabelValues("documents").Observe(float64(len(doc.data)))
	}

	result.Application = updated
	return result, nil
}

// prepare validates every file before anything is written.
func (s *uploadService) prepare(cmd UploadCommand) (*preparedFile, []preparedFile, error) {
	if cmd.Photo == nil && len(cmd.Documents) == 0 {
		return nil, nil, apperror.Validation("no files were provided")
	}
	if len(cmd.Documents) > s.policy.MaxDocuments {
		return nil, nil, apperror.Validation("too many documents in one upload")
	}

	var photo *preparedFile
	if cmd.Photo != nil {
		p, err := s.check("photo", *cmd.Photo, media.CheckPhoto)
		if err != nil {
			return nil, nil, err
		}
		photo = &p
	}

	docs := make([]preparedFile, 0, len(cmd.Documents))
	for _, file := range cmd.Documents {
		d, err := s.check("documents", file, media.CheckDocument)
		if err != nil {
			return nil, nil, err
		}
		docs = append(docs, d)
	}
	return photo, docs, nil
}

func (s *uploadService) check(field string, file UploadFile, classify func(string, string) (domain.ReferenceKind, error)) (preparedFile, error) {
	contentType := media.ContentType(file.ContentType, file.Filename)
	if err := media.CheckSize(file.Filename, int64(len(file.Data)), s.policy.MaxFileBytes); err != nil {
		return preparedFile{}, err
	}
	kind, err := classify(file.Filename, contentType)
	if err != nil {
		return preparedFile{}, err
	}
	if err := media.Inspect(file.Filename, contentType, file.Data); err != nil {
		return preparedFile{}, err
	}
	return preparedFile{
		field:       field,
		filename:    strings.TrimSpace(file.Filename),
		contentType: contentType,
		kind:        kind,
		data:        file.Data,
	}, nil
}

func (s *uploadService) resolveDraft(ctx context.Context, cmd UploadCommand) (*domain.Application, bool, error) {
	id := strings.TrimSpace(cmd.ApplicationID)
	if id != "" {
		app, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return nil, false, apperror.FromContext(err, "resolve upload target")
		}
		if app.IsSubmitted() {
			return nil, false, apperror.Conflict("application has already been submitted")
		}
		return app, false, nil
	}

	var patch domain.Patch
	if userID := strings.TrimSpace(cmd.UserID); userID != "" {
		patch.UserID = &userID
	}
	app := domain.NewDraft(patch, s.now())
	if err := s.repo.Create(ctx, app); err != nil {
		return nil, false, apperror.FromContext(err, "create upload target")
	}
	metrics.DraftsCreated.WithLabelValues("upload").Inc()
	return app, true, nil
}

func (s *uploadService) store(ctx context.Context, appID, namespace string, file preparedFile) (domain.Reference, StoredObject, error) {
	key := path.Join(s.policy.KeyPrefix, namespace, appID, uuid.NewString()+media.Extension(file.contentType, file.filename))
	obj, err := s.storage.Put(ctx, key, file.contentType, bytes.NewReader(file.data), int64(len(file.data)))
	if err != nil {
		metrics.UploadFiles.WithLabelValues(file.field, "failed").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Reference{}, StoredObject{}, apperror.FromContext(ctxErr, "upload aborted")
		}
		return domain.Reference{}, StoredObject{}, apperror.UploadFailed("storing "+file.field+" failed", err)
	}
	filename := file.filename
	if filename == "" {
		filename = path.Base(obj.Key)
	}
	return domain.Reference{
		URL:         obj.URL,
		Filename:    filename,
		StorageID:   obj.Key,
		Kind:        file.kind,
		ContentType: file.contentType,
	}, obj, nil
}

// cleanup removes objects written by a failed request. It outlives the request context.
func (s *uploadService) cleanup(ctx context.Context, objects []StoredObject) {
	if len(objects) == 0 {
		return
	}
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	for _, obj := range objects {
		if err := s.storage.Delete(cleanupCtx, obj.Key); err != nil {
			s.logger.Warn("orphaned upload could not be removed", map[string]interface{}{
				"key":   obj.Key,
				"error": err.Error(),
			})
		}
	}
}

func (s *uploadService) countRejected(cmd UploadCommand) {
	if cmd.Photo != nil {
		metrics.UploadFiles.WithLabelValues("photo", "rejected").Inc()
	}
	for range cmd.Documents {
		metrics.UploadFiles.WithLabelValues("documents", "rejected").Inc()
	}
}
