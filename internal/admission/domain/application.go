package domain

import (
	"reflect"
	"strings"
	"time"
)

// Status is the lifecycle state of an application. It only ever moves Draft -> Submitted.
type Status string

const (
	StatusDraft     Status = "Draft"
	StatusSubmitted Status = "Submitted"
)

// NormalizeStatus maps stored values, including legacy ones such as "Pending", onto the two states.
func NormalizeStatus(raw string) Status {
	if strings.EqualFold(strings.TrimSpace(raw), string(StatusSubmitted)) {
		return StatusSubmitted
	}
	return StatusDraft
}

// ReferenceKind mirrors the storage resource class of an attachment.
type ReferenceKind string

const (
	KindImage ReferenceKind = "image"
	KindRaw   ReferenceKind = "raw"
)

// Reference points to an uploaded binary object.
type Reference struct {
	URL         string        `json:"url"`
	Filename    string        `json:"filename,omitempty"`
	StorageID   string        `json:"storageId,omitempty"`
	Kind        ReferenceKind `json:"kind,omitempty"`
	ContentType string        `json:"contentType,omitempty"`
}

// IsZero reports whether the reference points nowhere.
func (r *Reference) IsZero() bool {
	return r == nil || strings.TrimSpace(r.URL) == ""
}

// DisplayName is the label shown for the attachment.
func (r Reference) DisplayName() string {
	if name := strings.TrimSpace(r.Filename); name != "" {
		return name
	}
	if idx := strings.LastIndex(r.URL, "/"); idx >= 0 && idx < len(r.URL)-1 {
		return r.URL[idx+1:]
	}
	return r.URL
}

// Application is the draft record shared by every stage of the flow.
type Application struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId,omitempty"`
	Stream      Stream      `json:"stream,omitempty"`
	Program     string      `json:"program,omitempty"`
	FullName    string      `json:"fullName,omitempty"`
	Email       string      `json:"email,omitempty"`
	Photo       *Reference  `json:"photo,omitempty"`
	Documents   []Reference `json:"documents"`
	Status      Status      `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	SubmittedAt *time.Time  `json:"submittedAt,omitempty"`
}

// IsSubmitted reports whether the application reached the terminal state.
func (a *Application) IsSubmitted() bool {
	return a != nil && a.Status == StatusSubmitted
}

// Clone returns a deep copy so callers never share slices with a store.
func (a *Application) Clone() *Application {
	if a == nil {
		return nil
	}
	out := *a
	if a.Photo != nil {
		photo := *a.Photo
		out.Photo = &photo
	}
	out.Documents = append([]Reference{}, a.Documents...)
	if a.SubmittedAt != nil {
		ts := *a.SubmittedAt
		out.SubmittedAt = &ts
	}
	return &out
}

// Patch is a partial update. Nil pointers leave the field untouched.
type Patch struct {
	UserID   *string
	Stream   *Stream
	Program  *string
	FullName *string
	Email    *string
	Photo    *Reference
	// ReplaceDocuments swaps the whole list. Workflow stages only ever append.
	ReplaceDocuments bool
	Documents        []Reference
	AppendDocuments  []Reference
}

// IsEmpty reports whether the patch would change nothing.
func (p Patch) IsEmpty() bool {
	return p.UserID == nil && p.Stream == nil && p.Program == nil && p.FullName == nil &&
		p.Email == nil && p.Photo == nil && !p.ReplaceDocuments && len(p.AppendDocuments) == 0
}

// ChangesNothing reports whether applying the patch would leave app as it is.
func (p Patch) ChangesNothing(app *Application) bool {
	if p.IsEmpty() {
		return true
	}
	before, after := app.Clone(), app.Clone()
	p.Apply(after)
	return reflect.DeepEqual(before, after)
}

// Apply merges the patch into app in place.
func (p Patch) Apply(app *Application) {
	if p.UserID != nil {
		app.UserID = *p.UserID
	}
	if p.Stream != nil {
		app.Stream = *p.Stream
	}
	if p.Program != nil {
		app.Program = *p.Program
	}
	if p.FullName != nil {
		app.FullName = *p.FullName
	}
	if p.Email != nil {
		app.Email = *p.Email
	}
	if p.Photo != nil {
		photo := *p.Photo
		app.Photo = &photo
	}
	if p.ReplaceDocuments {
		app.Documents = append([]Reference{}, p.Documents...)
	}
	if len(p.AppendDocuments) > 0 {
		app.Documents = append(app.Documents, p.AppendDocuments...)
	}
	if app.Documents == nil {
		app.Documents = []Reference{}
	}
}

// NewDraft builds a fresh draft with the patch applied over defaults.
func NewDraft(patch Patch, now time.Time) *Application {
	app := &Application{
		Status:    StatusDraft,
		Documents: []Reference{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	patch.Apply(app)
	return app
}
