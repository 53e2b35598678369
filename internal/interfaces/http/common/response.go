package common

import (
	"encoding/json"
	"net/http"

	"github.com/ftu-admissions/admission-api/internal/apperror"
	"github.com/ftu-admissions/admission-api/internal/logger"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error         string        `json:"error"`
	Code          apperror.Code `json:"code"`
	Details       string        `json:"details,omitempty"`
	MissingFields []string      `json:"missingFields,omitempty"`
	Retryable     bool          `json:"retryable,omitempty"`
}

// WriteJSON serializes payload to JSON with status and logs on failure.
func WriteJSON(log logger.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && log != nil {
		log.WithError(err).Warn("JSON エンコードに失敗", nil)
	}
}

// ErrorBody converts err into the response body and status.
// Internal errors never leak their cause to the client.
func ErrorBody(err error) (int, ErrorResponse) {
	code := apperror.CodeOf(err)
	body := ErrorResponse{Code: code, Error: "internal server error"}
	if appErr, ok := apperror.As(err); ok {
		if code != apperror.CodeInternal {
			body.Error = appErr.Message
			body.Details = appErr.Details
		}
		body.MissingFields = appErr.MissingFields
		body.Retryable = appErr.Retryable
	} else if code == apperror.CodeTimeout {
		body.Error = "request timed out"
		body.Retryable = true
	}
	return apperror.HTTPStatus(code), body
}

// WriteError writes err using the status mapped from its code. 5xx responses are logged.
func WriteError(log logger.Logger, w http.ResponseWriter, err error) {
	status, body := ErrorBody(err)
	if status >= http.StatusInternalServerError && log != nil {
		log.WithError(err).Error("request failed", map[string]interface{}{"code": string(body.Code), "status": status})
	}
	WriteJSON(log, w, status, body)
}
