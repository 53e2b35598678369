package admission

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ftu-admissions/admission-api/internal/admission/application"
	"github.com/ftu-admissions/admission-api/internal/admission/domain"
	"github.com/ftu-admissions/admission-api/internal/apperror"
	"github.com/ftu-admissions/admission-api/internal/interfaces/http/common"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	sessionCookieName   = "ftu_session"
	sessionCookieTTL    = 30 * 24 * time.Hour
	sessionCookieMaxAge = int(sessionCookieTTL / time.Second)
)

// sessionResolveHandler tells a stage which draft to operate on.
func (h *Handler) sessionResolveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		stage := domain.StageStream
		if raw := strings.TrimSpace(query.Get("stage")); raw != "" {
			parsed, ok := domain.ParseStage(raw)
			if !ok {
				common.WriteError(h.logger, w, apperror.Validation(fmt.Sprintf("unknown stage %q", raw)))
				return
			}
			stage = parsed
		}

		// 待機時間ぶんだけリクエストのタイムアウトを延ばす
		ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout+h.resolverWait())
		defer cancel()

		resolution, err := h.resolver.Resolve(ctx, application.ResolveRequest{
			Stage:      stage,
			ID:         strings.TrimSpace(query.Get("id")),
			SessionKey: h.sessionKey(w, r),
		})
		if err != nil {
			common.WriteError(h.logger, w, apperror.FromContext(err, "resolve draft"))
			return
		}
		common.WriteJSON(h.logger, w, http.StatusOK, map[string]any{"data": resolution})
	}
}

func (h *Handler) resolverWait() time.Duration {
	if h.resolver == nil {
		return 0
	}
	return h.resolver.Wait()
}

// rememberDraft records id as the most recent draft of the browser session.
// Failures only cost the recovery hint, so they are logged and swallowed.
func (h *Handler) rememberDraft(ctx context.Context, w http.ResponseWriter, r *http.Request, id string) {
	if h.hints == nil || id == "" {
		return
	}
	key := h.sessionKey(w, r)
	if key == "" {
		return
	}
	if err := h.hints.Remember(ctx, key, id); err != nil {
		h.logger.WithError(err).Warn("セッションヒントの保存に失敗", map[string]interface{}{"applicationId": id})
	}
}

// sessionKey returns the anonymous session id, issuing a new cookie when none is valid.
func (h *Handler) sessionKey(w http.ResponseWriter, r *http.Request) string {
	if len(h.sessionSecret) == 0 {
		return ""
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		if sessionID, issuedAt, ok := h.parseSessionCookie(cookie.Value); ok && time.Since(issuedAt) < sessionCookieTTL {
			return sessionID
		}
	}
	sessionID := primitive.NewObjectID().Hex()
	h.issueSessionCookie(w, sessionID)
	return sessionID
}

func (h *Handler) issueSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    h.signSessionCookie(sessionID, time.Now().UTC()),
		Path:     "/",
		HttpOnly: true,
		Secure:   h.sessionSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   sessionCookieMaxAge,
	})
}

func (h *Handler) signSessionCookie(sessionID string, issuedAt time.Time) string {
	payload := fmt.Sprintf("v=%s&ts=%d", sessionID, issuedAt.Unix())
	return payload + "&sig=" + h.sessionSignature(payload)
}

func (h *Handler) sessionSignature(payload string) string {
	mac := hmac.New(sha256.New, h.sessionSecret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (h *Handler) parseSessionCookie(raw string) (string, time.Time, bool) {
	values := make(map[string]string, 3)
	for _, part := range strings.Split(raw, "&") {
		keyValue := strings.SplitN(part, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		values[keyValue[0]] = keyValue[1]
	}
	sessionID, timestamp, sig := values["v"], values["ts"], values["sig"]
	if sessionID == "" || timestamp == "" || sig == "" {
		return "", time.Time{}, false
	}

	expected := h.sessionSignature(fmt.Sprintf("v=%s&ts=%s", sessionID, timestamp))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return "", time.Time{}, false
	}
	tsInt, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return sessionID, time.Unix(tsInt, 0), true
}
