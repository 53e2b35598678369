package application

import (
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"sync"

	"github.com/ftu-admissions/admission-api/internal/admission/domain"
	"github.com/ftu-admissions/admission-api/internal/apperror"
	"github.com/xeipuuv/gojsonschema"
)

const partialSchema = `{
  "type": "object",
  "additionalProperties": false,
  "definitions": {
    "nullableString": {"type": ["string", "null"]},
    "reference": {
      "type": "object",
      "additionalProperties": false,
      "required": ["url"],
      "properties": {
        "url": {"type": "string", "minLength": 1},
        "filename": {"type": "string"},
        "storageId": {"type": "string"},
        "kind": {"type": "string", "enum": ["image", "raw", ""]},
        "contentType": {"type": "string"}
      }
    }
  },
  "properties": {
    "id": {},
    "createdAt": {},
    "updatedAt": {},
    "submittedAt": {},
    "userId": {"$ref": "#/definitions/nullableString"},
    "stream": {"$ref": "#/definitions/nullableString"},
    "program": {"$ref": "#/definitions/nullableString"},
    "fullName": {"$ref": "#/definitions/nullableString"},
    "fullname": {"$ref": "#/definitions/nullableString"},
    "email": {"$ref": "#/definitions/nullableString"},
    "status": {"type": "string"},
    "photo": {"oneOf": [{"$ref": "#/definitions/reference"}, {"type": "null"}]},
    "photoUrl": {"$ref": "#/definitions/nullableString"},
    "documents": {"type": "array", "items": {"$ref": "#/definitions/reference"}},
    "appendDocuments": {"type": "array", "items": {"$ref": "#/definitions/reference"}},
    "documentUrl": {"$ref": "#/definitions/nullableString"},
    "documentUrls": {"type": "array", "items": {"type": "string"}}
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *gojsonschema.Schema
	schemaErr      error
)

func loadPartialSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(partialSchema))
	})
	return compiledSchema, schemaErr
}

// Partial is a decoded client payload: a field patch plus an optional requested status.
type Partial struct {
	Patch  domain.Patch
	Status *domain.Status
}

// ParsePartial validates a decoded JSON object and coerces legacy field names onto the
// canonical patch. Read-only bookkeeping keys are accepted and ignored.
func ParsePartial(raw map[string]any) (Partial, error) {
	if raw == nil {
		return Partial{}, nil
	}

	schema, err := loadPartialSchema()
	if err != nil {
		return Partial{}, apperror.Internal("partial schema failed to compile", err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return Partial{}, apperror.Validation(fmt.Sprintf("invalid payload: %v", err))
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		sort.Strings(details)
		e := apperror.Validation("payload does not match the application schema")
		e.Details = strings.Join(details, "; ")
		return Partial{}, e
	}

	var out Partial
	patch := &out.Patch

	if v, ok := stringField(raw, "userId"); ok {
		patch.UserID = &v
	}
	if v, ok := stringField(raw, "stream"); ok {
		stream, valid := domain.ParseStream(v)
		if !valid {
			return Partial{}, apperror.Validation(fmt.Sprintf("unknown stream %q", v))
		}
		patch.Stream = &stream
	}
	if v, ok := stringField(raw, "program"); ok {
		v = strings.TrimSpace(v)
		patch.Program = &v
	}
	if v, ok := firstStringField(raw, "fullName", "fullname"); ok {
		v = strings.TrimSpace(v)
		patch.FullName = &v
	}
	if v, ok := stringField(raw, "email"); ok {
		email, err := normalizeEmail(v)
		if err != nil {
			return Partial{}, err
		}
		patch.Email = &email
	}

	if photo, ok := raw["photo"].(map[string]any); ok {
		ref := referenceFromMap(photo)
		patch.Photo = &ref
	} else if v, ok := stringField(raw, "photoUrl"); ok && strings.TrimSpace(v) != "" {
		patch.Photo = &domain.Reference{URL: strings.TrimSpace(v), Kind: domain.KindImage}
	}

	if docs, ok := raw["documents"].([]any); ok {
		patch.ReplaceDocuments = true
		patch.Documents = referencesFromSlice(docs)
	}
	if docs, ok := raw["appendDocuments"].([]any); ok {
		patch.AppendDocuments = append(patch.AppendDocuments, referencesFromSlice(docs)...)
	}
	if v, ok := stringField(raw, "documentUrl"); ok && strings.TrimSpace(v) != "" {
		patch.AppendDocuments = append(patch.AppendDocuments, domain.Reference{URL: strings.TrimSpace(v), Kind: domain.KindRaw})
	}
	if urls, ok := raw["documentUrls"].([]any); ok {
		for _, item := range urls {
			if s, _ := item.(string); strings.TrimSpace(s) != "" {
				patch.AppendDocuments = append(patch.AppendDocuments, domain.Reference{URL: strings.TrimSpace(s), Kind: domain.KindRaw})
			}
		}
	}

	if v, ok := raw["status"].(string); ok {
		status, err := parseRequestedStatus(v)
		if err != nil {
			return Partial{}, err
		}
		out.Status = &status
	}

	return out, nil
}

func parseRequestedStatus(raw string) (domain.Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "submitted":
		return domain.StatusSubmitted, nil
	case "draft", "pending":
		return domain.StatusDraft, nil
	}
	return "", apperror.Validation(fmt.Sprintf("unknown status %q", raw))
}

func normalizeEmail(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", apperror.Validation(fmt.Sprintf("invalid email address %q", raw))
	}
	return trimmed, nil
}

// stringField reports a present key; JSON null reads as "".
func stringField(raw map[string]any, key string) (string, bool) {
	value, ok := raw[key]
	if !ok {
		return "", false
	}
	s, _ := value.(string)
	return s, true
}

func firstStringField(raw map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := stringField(raw, key); ok {
			return v, true
		}
	}
	return "", false
}

func referenceFromMap(m map[string]any) domain.Reference {
	str := func(key string) string {
		s, _ := m[key].(string)
		return strings.TrimSpace(s)
	}
	return domain.Reference{
		URL:         str("url"),
		Filename:    str("filename"),
		StorageID:   str("storageId"),
		Kind:        domain.ReferenceKind(str("kind")),
		ContentType: str("contentType"),
	}
}

func referencesFromSlice(items []any) []domain.Reference {
	out := make([]domain.Reference, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, referenceFromMap(m))
		}
	}
	return out
}
