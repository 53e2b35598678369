package admission

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ftu-admissions/admission-api/internal/admission/application"
	"github.com/ftu-admissions/admission-api/internal/admission/domain"
	"github.com/ftu-admissions/admission-api/internal/apperror"
	"github.com/ftu-admissions/admission-api/internal/interfaces/http/common"
	"github.com/go-chi/chi/v5"
)

type missingFieldResponse struct {
	Field string `json:"field"`
	Label string `json:"label"`
	Stage string `json:"stage"`
	Path  string `json:"path"`
}

type progressResponse struct {
	Progress         domain.Progress        `json:"progress"`
	CanSubmit        bool                   `json:"canSubmit"`
	AlreadySubmitted bool                   `json:"alreadySubmitted"`
	Missing          []missingFieldResponse `json:"missing"`
}

// applicationFetchHandler returns one draft. A missing record still answers with data: null.
func (h *Handler) applicationFetchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
		defer cancel()

		app, err := h.drafts.Fetch(ctx, chi.URLParam(r, "id"))
		if err != nil {
			status, body := common.ErrorBody(err)
			if status >= http.StatusInternalServerError {
				h.logger.WithError(err).Error("application fetch failed", nil)
			}
			common.WriteJSON(h.logger, w, status, map[string]any{
				"data":  nil,
				"error": body.Error,
				"code":  body.Code,
			})
			return
		}
		common.WriteJSON(h.logger, w, http.StatusOK, map[string]any{"data": app})
	}
}

func (h *Handler) applicationCreateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		partial, err := decodePartial(w, r)
		if err != nil {
			common.WriteError(h.logger, w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
		defer cancel()

		app, err := h.drafts.Create(ctx, partial)
		if err != nil {
			common.WriteError(h.logger, w, err)
			return
		}
		h.rememberDraft(ctx, w, r, app.ID)
		h.logger.Info("application draft created", map[string]interface{}{"applicationId": app.ID})
		common.WriteJSON(h.logger, w, http.StatusCreated, map[string]any{"data": app})
	}
}

// applicationUpdateHandler merges a partial. {status: "Submitted"} is the finalize call:
// any other fields in the same body are saved first, then the submission gate runs. Fields
// that repeat the stored values of an already submitted record fall through to the
// idempotent submit.
func (h *Handler) applicationUpdateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		partial, err := decodePartial(w, r)
		if err != nil {
			common.WriteError(h.logger, w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
		defer cancel()

		if partial.Status != nil && *partial.Status == domain.StatusSubmitted {
			if !partial.Patch.IsEmpty() {
				if _, err := h.drafts.Update(ctx, id, application.Partial{Patch: partial.Patch}); err != nil {
					common.WriteError(h.logger, w, err)
					return
				}
			}
			result, err := h.submissions.Submit(ctx, id)
			if err != nil {
				common.WriteError(h.logger, w, err)
				return
			}
			common.WriteJSON(h.logger, w, http.StatusOK, map[string]any{
				"data":             result.Application,
				"alreadySubmitted": result.AlreadySubmitted,
			})
			return
		}

		app, err := h.drafts.Update(ctx, id, partial)
		if err != nil {
			common.WriteError(h.logger, w, err)
			return
		}
		h.rememberDraft(ctx, w, r, app.ID)
		common.WriteJSON(h.logger, w, http.StatusOK, map[string]any{"data": app})
	}
}

// applicationProgressHandler reports the stage flags and what still blocks submission.
func (h *Handler) applicationProgressHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
		defer cancel()

		app, eligibility, err := h.submissions.Eligibility(ctx, chi.URLParam(r, "id"))
		if err != nil {
			common.WriteError(h.logger, w, err)
			return
		}

		missing := make([]missingFieldResponse, 0, len(eligibility.Missing))
		for _, field := range eligibility.Missing {
			missing = append(missing, missingFieldResponse{
				Field: string(field),
				Label: field.Label(),
				Stage: string(field.Stage()),
				Path:  field.Stage().Path() + "?id=" + app.ID,
			})
		}
		common.WriteJSON(h.logger, w, http.StatusOK, map[string]any{"data": progressResponse{
			Progress:         domain.DeriveProgress(app),
			CanSubmit:        eligibility.CanSubmit,
			AlreadySubmitted: eligibility.AlreadySubmitted,
			Missing:          missing,
		}})
	}
}

func (h *Handler) streamListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streams := make([]map[string]any, 0, len(domain.Streams))
		for _, stream := range domain.Streams {
			streams = append(streams, map[string]any{
				"value":    stream,
				"label":    stream.Label(),
				"programs": domain.ProgramsFor(stream),
			})
		}
		common.WriteJSON(h.logger, w, http.StatusOK, map[string]any{"data": streams})
	}
}

func (h *Handler) programListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stream, ok := domain.ParseStream(chi.URLParam(r, "stream"))
		if !ok || stream == "" {
			common.WriteError(h.logger, w, apperror.NotFound("stream", chi.URLParam(r, "stream")))
			return
		}
		common.WriteJSON(h.logger, w, http.StatusOK, map[string]any{"data": domain.ProgramsFor(stream)})
	}
}

// decodePartial reads a JSON object body. An empty body is an empty partial.
func decodePartial(w http.ResponseWriter, r *http.Request) (application.Partial, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	var raw map[string]any
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&raw); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return application.Partial{}, nil
		case errors.As(err, &tooLarge):
			return application.Partial{}, apperror.PayloadTooLarge("request body is too large")
		default:
			e := apperror.Validation("request body must be a JSON object")
			e.Details = strings.TrimSpace(err.Error())
			return application.Partial{}, e
		}
	}
	return application.ParsePartial(raw)
}
