package application_test

import (
	"testing"

	"github.com/ftu-admissions/admission-api/internal/admission/application"
	"github.com/ftu-admissions/admission-api/internal/admission/domain"
	"github.com/ftu-admissions/admission-api/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePartialCanonicalFields(t *testing.T) {
	partial := mustParse(t, map[string]any{
		"stream":   "Bachelors",
		"program":  " BSCS ",
		"fullName": "Jane Doe",
		"email":    "jane@x.com",
		"photo":    map[string]any{"url": "https://cdn.test/p.png", "kind": "image"},
		"appendDocuments": []any{
			map[string]any{"url": "https://cdn.test/d.pdf", "filename": "d.pdf"},
		},
	})

	p := partial.Patch
	require.NotNil(t, p.Stream)
	assert.Equal(t, domain.StreamBachelors, *p.Stream)
	assert.Equal(t, "BSCS", *p.Program)
	assert.Equal(t, "Jane Doe", *p.FullName)
	assert.Equal(t, "jane@x.com", *p.Email)
	assert.Equal(t, "https://cdn.test/p.png", p.Photo.URL)
	require.Len(t, p.AppendDocuments, 1)
	assert.Equal(t, "d.pdf", p.AppendDocuments[0].Filename)
	assert.False(t, p.ReplaceDocuments)
	assert.Nil(t, partial.Status)
}

func TestParsePartialLegacyAliases(t *testing.T) {
	partial := mustParse(t, map[string]any{
		"fullname":     "Legacy Name",
		"photoUrl":     "https://cdn.test/old.png",
		"documentUrl":  "https://cdn.test/one.pdf",
		"documentUrls": []any{"https://cdn.test/two.pdf", ""},
		"status":       "Pending",
	})

	p := partial.Patch
	assert.Equal(t, "Legacy Name", *p.FullName)
	assert.Equal(t, domain.KindImage, p.Photo.Kind)
	require.Len(t, p.AppendDocuments, 2)
	assert.Equal(t, "https://cdn.test/one.pdf", p.AppendDocuments[0].URL)
	require.NotNil(t, partial.Status)
	assert.Equal(t, domain.StatusDraft, *partial.Status)
}

func TestParsePartialIgnoresBookkeeping(t *testing.T) {
	partial := mustParse(t, map[string]any{
		"id":        "abc",
		"createdAt": "2026-01-01T00:00:00Z",
		"updatedAt": "2026-01-01T00:00:00Z",
	})
	assert.True(t, partial.Patch.IsEmpty())
}

func TestParsePartialNullClearsField(t *testing.T) {
	partial := mustParse(t, map[string]any{"program": nil})
	require.NotNil(t, partial.Patch.Program)
	assert.Empty(t, *partial.Patch.Program)
}

func TestParsePartialRejects(t *testing.T) {
	tests := map[string]map[string]any{
		"unknown field":     {"nickname": "jd"},
		"wrong type":        {"fullName": 42},
		"unknown stream":    {"stream": "diploma"},
		"bad email":         {"email": "not-an-email"},
		"reference no url":  {"photo": map[string]any{"filename": "x.png"}},
		"unknown status":    {"status": "Archived"},
		"documents not ref": {"documents": []any{"https://cdn.test/x.pdf"}},
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := application.ParsePartial(raw)
			assert.True(t, apperror.IsCode(err, apperror.CodeValidationFailed), "got %v", err)
		})
	}
}

func TestParsePartialSubmittedStatus(t *testing.T) {
	partial := mustParse(t, map[string]any{"status": "Submitted"})
	require.NotNil(t, partial.Status)
	assert.Equal(t, domain.StatusSubmitted, *partial.Status)
	assert.True(t, partial.Patch.IsEmpty())
}
