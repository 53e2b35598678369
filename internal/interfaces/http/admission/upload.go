package admission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/ftu-admissions/admission-api/internal/admission/application"
	"github.com/ftu-admissions/admission-api/internal/admission/domain"
	"github.com/ftu-admissions/admission-api/internal/apperror"
	"github.com/ftu-admissions/admission-api/internal/interfaces/http/common"
)

const maxFieldBytes = 1 << 10

// uploadHandler accepts multipart/form-data with appId, userId, photo and documents parts.
// Every file is buffered and validated before anything reaches storage.
func (h *Handler) uploadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// 写真 1 枚と書類の上限数ぶん、さらにフォーム値の余白
		limit := h.maxFileBytes*int64(h.maxDocuments+1) + maxJSONBody
		r.Body = http.MaxBytesReader(w, r.Body, limit)

		cmd, err := h.readUploadCommand(r)
		if err != nil {
			h.writeUploadError(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.uploadTimeout)
		defer cancel()

		result, err := h.uploads.Upload(ctx, cmd)
		if err != nil {
			h.writeUploadError(w, err)
			return
		}
		h.rememberDraft(ctx, w, r, result.Application.ID)

		documents := result.Documents
		if documents == nil {
			documents = []domain.Reference{}
		}
		h.logger.Info("attachments uploaded", map[string]interface{}{
			"applicationId": result.Application.ID,
			"photo":         result.Photo != nil,
			"documents":     len(result.Documents),
			"created":       result.Created,
		})
		common.WriteJSON(h.logger, w, http.StatusOK, map[string]any{
			"success":     true,
			"application": result.Application,
			"uploaded": map[string]any{
				"photo":     result.Photo,
				"documents": documents,
			},
		})
	}
}

func (h *Handler) writeUploadError(w http.ResponseWriter, err error) {
	status, body := common.ErrorBody(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).Error("upload failed", map[string]interface{}{"code": string(body.Code)})
	}
	payload := map[string]any{
		"success": false,
		"error":   body.Error,
		"code":    body.Code,
	}
	if body.Details != "" {
		payload["details"] = body.Details
	}
	common.WriteJSON(h.logger, w, status, payload)
}

func (h *Handler) readUploadCommand(r *http.Request) (application.UploadCommand, error) {
	var cmd application.UploadCommand
	reader, err := r.MultipartReader()
	if err != nil {
		return cmd, apperror.UnsupportedMediaType("upload must be multipart/form-data")
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return cmd, translateBodyError(err)
		}

		name := part.FormName()
		switch {
		case part.FileName() == "":
			value, err := readLimited(part, maxFieldBytes)
			if err != nil {
				return cmd, translateBodyError(err)
			}
			switch name {
			case "appId", "applicationId", "id":
				cmd.ApplicationID = strings.TrimSpace(string(value))
			case "userId":
				cmd.UserID = strings.TrimSpace(string(value))
			}
		case name == "photo":
			if cmd.Photo != nil {
				return cmd, apperror.Validation("only one photo may be uploaded")
			}
			file, err := h.readFilePart(part)
			if err != nil {
				return cmd, err
			}
			cmd.Photo = &file
		case name == "documents" || name == "documents[]" || name == "document":
			if len(cmd.Documents) >= h.maxDocuments {
				return cmd, apperror.Validation(fmt.Sprintf("at most %d documents may be uploaded at once", h.maxDocuments))
			}
			file, err := h.readFilePart(part)
			if err != nil {
				return cmd, err
			}
			cmd.Documents = append(cmd.Documents, file)
		default:
			if _, err := io.Copy(io.Discard, part); err != nil {
				return cmd, translateBodyError(err)
			}
		}
		_ = part.Close()
	}
	return cmd, nil
}

func (h *Handler) readFilePart(part *multipart.Part) (application.UploadFile, error) {
	data, err := readLimited(part, h.maxFileBytes)
	if err != nil {
		if errors.Is(err, errPartTooLarge) {
			return application.UploadFile{}, apperror.PayloadTooLarge(fmt.Sprintf("%s exceeds the %d MB limit", part.FileName(), h.maxFileBytes>>20))
		}
		return application.UploadFile{}, translateBodyError(err)
	}
	return application.UploadFile{
		Filename:    part.FileName(),
		ContentType: part.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

var errPartTooLarge = errors.New("multipart part exceeds limit")

func readLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, errPartTooLarge
	}
	return data, nil
}

func translateBodyError(err error) error {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge), errors.Is(err, errPartTooLarge):
		return apperror.PayloadTooLarge("request body is too large")
	case errors.Is(err, context.Canceled), errors.Is(err, io.ErrUnexpectedEOF):
		return apperror.NetworkError("upload was interrupted", err)
	}
	e := apperror.Validation("malformed multipart body")
	e.Details = err.Error()
	return e
}
