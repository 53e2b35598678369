package admission

import (
	"time"

	"github.com/ftu-admissions/admission-api/internal/admission/domain"
)

func seedSubmitted(at time.Time) *domain.Application {
	return &domain.Application{
		ID:          "65f0c0ffee0000000000abcd",
		Stream:      domain.StreamBachelors,
		Program:     "BSCS",
		FullName:    "Jane Doe",
		Email:       "jane@x.com",
		Status:      domain.StatusSubmitted,
		SubmittedAt: &at,
	}
}
