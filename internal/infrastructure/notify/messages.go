package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/ftu-admissions/admission-api/internal/admission/domain"
)

// applicantSubject は申請者向け確認メールの件名。
func applicantSubject(app domain.Application) string {
	return fmt.Sprintf("Application %s received", app.ID)
}

// buildApplicantMessage は申請者向けの受付確認本文を組み立てる。
func buildApplicantMessage(app domain.Application, receiptURL string) string {
	var builder strings.Builder
	name := strings.TrimSpace(app.FullName)
	if name == "" {
		name = "Applicant"
	}
	builder.WriteString(fmt.Sprintf("Dear %s,\n\n", name))
	builder.WriteString("Thank you for submitting your application.\n\n")
	builder.WriteString(fmt.Sprintf("Application ID: %s\n", app.ID))
	builder.WriteString(fmt.Sprintf("Stream: %s\n", app.Stream.Label()))
	builder.WriteString(fmt.Sprintf("Program: %s\n", app.Program))
	if app.SubmittedAt != nil {
		builder.WriteString(fmt.Sprintf("Submitted: %s\n", app.SubmittedAt.UTC().Format(time.RFC1123)))
	}
	if receiptURL != "" {
		builder.WriteString(fmt.Sprintf("\nDownload your receipt: %s\n", receiptURL))
	}
	return builder.String()
}

// buildAdminMessage は管理チャネル向けの Markdown 通知を組み立てる。
func buildAdminMessage(app domain.Application, adminBaseURL string) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("**%s** submitted an application.\n", displayName(app)))
	builder.WriteString(fmt.Sprintf("- Stream: %s\n", app.Stream.Label()))
	builder.WriteString(fmt.Sprintf("- Program: %s\n", app.Program))
	builder.WriteString(fmt.Sprintf("- Documents: %d\n", len(app.Documents)))
	if app.ID != "" && strings.TrimSpace(adminBaseURL) != "" {
		builder.WriteString(fmt.Sprintf("[Open in admin](%s/%s)\n", strings.TrimRight(adminBaseURL, "/"), app.ID))
	}
	return builder.String()
}

func displayName(app domain.Application) string {
	if name := strings.TrimSpace(app.FullName); name != "" {
		return name
	}
	if email := strings.TrimSpace(app.Email); email != "" {
		return email
	}
	return "Someone"
}

func combineErrors(errs ...error) error {
	parts := make([]string, 0, len(errs))
	for _, err := range errs {
		if err == nil {
			continue
		}
		parts = append(parts, err.Error())
	}
	if len(parts) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(parts, "; "))
}
