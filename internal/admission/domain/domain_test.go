package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completeApplication() *Application {
	return &Application{
		ID:        "app-1",
		Stream:    StreamBachelors,
		Program:   "BSCS",
		FullName:  "Jane Doe",
		Email:     "jane@x.com",
		Photo:     &Reference{URL: "https://cdn.test/photo.png", Kind: KindImage},
		Documents: []Reference{{URL: "https://cdn.test/doc.pdf", Filename: "doc.pdf", Kind: KindRaw}},
		Status:    StatusDraft,
	}
}

func TestDeriveProgressNilSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		assert.Equal(t, Progress{}, DeriveProgress(nil))
	})
	assert.Equal(t, Progress{}, DeriveProgress(&Application{}))
}

func TestDeriveProgress(t *testing.T) {
	app := completeApplication()
	assert.Equal(t, Progress{
		SelectStream:    true,
		Program:         true,
		PersonalDetails: true,
		Upload:          true,
	}, DeriveProgress(app))

	app.Status = StatusSubmitted
	assert.True(t, DeriveProgress(app).Review)

	partial := &Application{FullName: "Jane Doe"}
	progress := DeriveProgress(partial)
	assert.False(t, progress.PersonalDetails, "email is also required")

	photoOnly := &Application{Photo: &Reference{URL: "u"}}
	assert.False(t, DeriveProgress(photoOnly).Upload)
}

func TestMissingFieldsEachField(t *testing.T) {
	clearers := map[Field]func(*Application){
		FieldStream:    func(a *Application) { a.Stream = "" },
		FieldProgram:   func(a *Application) { a.Program = "" },
		FieldFullName:  func(a *Application) { a.FullName = "  " },
		FieldEmail:     func(a *Application) { a.Email = "" },
		FieldPhoto:     func(a *Application) { a.Photo = nil },
		FieldDocuments: func(a *Application) { a.Documents = nil },
	}

	for field, clear := range clearers {
		t.Run(string(field), func(t *testing.T) {
			app := completeApplication()
			clear(app)
			assert.Equal(t, []Field{field}, MissingFields(app))
			assert.False(t, CheckEligibility(app).CanSubmit)
		})
	}

	assert.Empty(t, MissingFields(completeApplication()))
	assert.True(t, CheckEligibility(completeApplication()).CanSubmit)
}

func TestCheckEligibilitySubmitted(t *testing.T) {
	app := completeApplication()
	app.Status = StatusSubmitted

	got := CheckEligibility(app)
	assert.False(t, got.CanSubmit)
	assert.True(t, got.AlreadySubmitted)
}

func TestPatchApplyAppendsDocuments(t *testing.T) {
	app := completeApplication()
	extra := Reference{URL: "https://cdn.test/second.pdf"}
	Patch{AppendDocuments: []Reference{extra}}.Apply(app)

	require.Len(t, app.Documents, 2)
	assert.Equal(t, extra, app.Documents[1])
}

func TestPatchIsEmpty(t *testing.T) {
	assert.True(t, Patch{}.IsEmpty())
	name := "x"
	assert.False(t, Patch{FullName: &name}.IsEmpty())
	assert.False(t, Patch{ReplaceDocuments: true}.IsEmpty())
}

func TestNewDraftDefaults(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	stream := StreamMasters
	app := NewDraft(Patch{Stream: &stream}, now)

	assert.Equal(t, StatusDraft, app.Status)
	assert.Equal(t, StreamMasters, app.Stream)
	assert.NotNil(t, app.Documents)
	assert.Equal(t, now, app.CreatedAt)
	assert.Equal(t, now, app.UpdatedAt)
}

func TestCatalog(t *testing.T) {
	stream, ok := ParseStream(" Masters ")
	require.True(t, ok)
	assert.Equal(t, StreamMasters, stream)

	_, ok = ParseStream("diploma")
	assert.False(t, ok)

	assert.True(t, ProgramOffered(StreamBachelors, "Bachelor of Science in Computer Science (BSCS)"))
	assert.False(t, ProgramOffered(StreamPhD, "Master of Business Administration (MBA)"))
	assert.Len(t, ProgramsFor(StreamPhD), 2)
}

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, StatusDraft, NormalizeStatus("Pending"))
	assert.Equal(t, StatusSubmitted, NormalizeStatus("submitted"))
	assert.Equal(t, StatusDraft, NormalizeStatus(""))
}

func TestFieldStage(t *testing.T) {
	assert.Equal(t, StageUpload, FieldDocuments.Stage())
	assert.Equal(t, "/application/personal-details", FieldEmail.Stage().Path())
	assert.Equal(t, "Supporting Document", FieldDocuments.Label())
}
