package notify

import (
	"context"
	"strings"
	"time"

	"github.com/ftu-admissions/admission-api/internal/admission/application"
	"github.com/ftu-admissions/admission-api/internal/admission/domain"
	"github.com/ftu-admissions/admission-api/internal/infrastructure/mongo"
	"github.com/ftu-admissions/admission-api/internal/logger"
)

// FailureRecorder は送信に失敗した通知を再送用に保存する。
type FailureRecorder interface {
	Record(ctx context.Context, failure mongo.FailedNotification) error
}

// Config は Dispatcher の依存と送信先をまとめる。
type Config struct {
	Email                *EmailSender
	Messenger            *MessengerClient
	MessengerDestination string
	AdminBaseURL         string
	PublicBaseURL        string
	Failures             FailureRecorder
	Logger               logger.Logger
	Attempts             int
	RetryDelay           time.Duration
}

// Dispatcher は提出確定を申請者メールと管理チャネルへ配信する。
type Dispatcher struct {
	cfg Config
	log logger.Logger
}

var _ application.SubmissionNotifier = (*Dispatcher)(nil)

// NewDispatcher は未設定のチャネルを黙って無効化した Dispatcher を返す。
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Attempts < 1 {
		cfg.Attempts = 3
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Dispatcher{cfg: cfg, log: log.WithFields(map[string]interface{}{"component": "notify"})}
}

// NotifySubmitted は各チャネルへ送信し、失敗分を failed_notifications に残す。
func (d *Dispatcher) NotifySubmitted(ctx context.Context, app domain.Application) {
	if d.cfg.Email.Enabled() {
		receiptURL := ""
		if base := strings.TrimRight(d.cfg.PublicBaseURL, "/"); base != "" {
			receiptURL = base + "/applications/" + app.ID + "/receipt"
		}
		err := d.cfg.Email.Send(ctx, app.Email, applicantSubject(app), buildApplicantMessage(app, receiptURL))
		if err != nil {
			d.log.WithError(err).Warn("applicant email failed", map[string]interface{}{"applicationId": app.ID})
			d.persistFailure(ctx, "applicant_email", app, err, 1)
		}
	}

	if d.cfg.Messenger.Enabled() && strings.TrimSpace(d.cfg.MessengerDestination) != "" {
		identifier := app.UserID
		if identifier == "" {
			identifier = app.ID
		}
		err := d.cfg.Messenger.SendWithRetry(ctx, d.cfg.MessengerDestination, identifier,
			buildAdminMessage(app, d.cfg.AdminBaseURL), d.cfg.Attempts, d.cfg.RetryDelay)
		if err != nil {
			d.log.WithError(err).Warn("admin notification failed", map[string]interface{}{"applicationId": app.ID})
			d.persistFailure(ctx, "admin_notification", app, err, d.cfg.Attempts)
		}
	}
}

func (d *Dispatcher) persistFailure(ctx context.Context, target string, app domain.Application, cause error, attempts int) {
	if d.cfg.Failures == nil {
		return
	}
	failure := mongo.FailedNotification{
		Target: target,
		Payload: map[string]any{
			"applicationId": app.ID,
			"userId":        app.UserID,
			"email":         app.Email,
			"fullName":      app.FullName,
			"stream":        string(app.Stream),
			"program":       app.Program,
		},
		Error:    cause.Error(),
		Attempts: attempts,
	}
	if err := d.cfg.Failures.Record(ctx, failure); err != nil {
		d.log.WithError(err).Error("failed_notifications への保存に失敗", map[string]interface{}{"applicationId": app.ID})
	}
}
