// Package loggertest provides a logger that writes through testing.TB.
package loggertest

import (
	"testing"

	"github.com/ftu-admissions/admission-api/internal/logger"
	"go.uber.org/zap/zaptest"
)

// New routes output through t, so it only shows for failing or verbose tests.
func New(t testing.TB) logger.Logger {
	return logger.NewZapAdapter(zaptest.NewLogger(t))
}
