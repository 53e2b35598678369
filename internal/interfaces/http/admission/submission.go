package admission

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ftu-admissions/admission-api/internal/apperror"
	"github.com/ftu-admissions/admission-api/internal/interfaces/http/common"
	"github.com/go-chi/chi/v5"
)

// receiptTimeout leaves room for fetching remote images into the PDF.
const receiptTimeout = 30 * time.Second

func (h *Handler) applicationSubmitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
		defer cancel()

		id := chi.URLParam(r, "id")
		result, err := h.submissions.Submit(ctx, id)
		if err != nil {
			common.WriteError(h.logger, w, err)
			return
		}
		if !result.AlreadySubmitted {
			h.logger.Info("application submitted", map[string]interface{}{"applicationId": id})
		}
		common.WriteJSON(h.logger, w, http.StatusOK, map[string]any{
			"data":             result.Application,
			"alreadySubmitted": result.AlreadySubmitted,
		})
	}
}

// receiptDownloadHandler regenerates the PDF receipt on every call.
func (h *Handler) receiptDownloadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), receiptTimeout)
		defer cancel()

		rec, err := h.submissions.Receipt(ctx, chi.URLParam(r, "id"))
		if err != nil {
			common.WriteError(h.logger, w, err)
			return
		}

		w.Header().Set("Content-Type", rec.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.Filename))
		w.Header().Set("Content-Length", strconv.Itoa(len(rec.Data)))
		w.Header().Set("Cache-Control", "no-store")
		if len(rec.Degraded) > 0 {
			w.Header().Set("X-Receipt-Degraded", strings.Join(rec.Degraded, ","))
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(rec.Data); err != nil {
			h.logger.WithError(err).Warn("receipt write failed", nil)
		}
	}
}

// receiptVerifyHandler checks the code printed on a receipt.
func (h *Handler) receiptVerifyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.URL.Query().Get("token"))
		if token == "" {
			common.WriteError(h.logger, w, apperror.Validation("token is required"))
			return
		}
		if h.signer == nil {
			common.WriteError(h.logger, w, apperror.Internal("receipt verification is not configured", nil))
			return
		}
		claims, err := h.signer.Verify(token)
		if err != nil {
			common.WriteError(h.logger, w, err)
			return
		}

		data := map[string]any{
			"valid":         true,
			"applicationId": claims.Subject,
			"fullName":      claims.Name,
			"email":         claims.Email,
			"stream":        claims.Stream,
			"program":       claims.Program,
		}
		if claims.SubmittedAt > 0 {
			data["submittedAt"] = time.Unix(claims.SubmittedAt, 0).UTC()
		}
		common.WriteJSON(h.logger, w, http.StatusOK, map[string]any{"data": data})
	}
}
