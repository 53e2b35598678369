package domain

import "strings"

// Field names a required attribute of an application.
type Field string

const (
	FieldStream    Field = "stream"
	FieldProgram   Field = "program"
	FieldFullName  Field = "fullName"
	FieldEmail     Field = "email"
	FieldPhoto     Field = "photo"
	FieldDocuments Field = "documents"
)

// RequiredFields lists every field that must be present before submission, in flow order.
var RequiredFields = []Field{FieldStream, FieldProgram, FieldFullName, FieldEmail, FieldPhoto, FieldDocuments}

var fieldLabels = map[Field]string{
	FieldStream:    "Stream",
	FieldProgram:   "Program",
	FieldFullName:  "Full Name",
	FieldEmail:     "Email",
	FieldPhoto:     "Profile Photo",
	FieldDocuments: "Supporting Document",
}

var fieldStages = map[Field]Stage{
	FieldStream:    StageStream,
	FieldProgram:   StageProgram,
	FieldFullName:  StagePersonalDetails,
	FieldEmail:     StagePersonalDetails,
	FieldPhoto:     StageUpload,
	FieldDocuments: StageUpload,
}

// Label is the display name of the field.
func (f Field) Label() string {
	return fieldLabels[f]
}

// Stage is the step that owns the field.
func (f Field) Stage() Stage {
	return fieldStages[f]
}

// MissingFields returns the required fields that are empty, in flow order.
func MissingFields(app *Application) []Field {
	if app == nil {
		return append([]Field(nil), RequiredFields...)
	}
	missing := make([]Field, 0, len(RequiredFields))
	if app.Stream == "" {
		missing = append(missing, FieldStream)
	}
	if strings.TrimSpace(app.Program) == "" {
		missing = append(missing, FieldProgram)
	}
	if strings.TrimSpace(app.FullName) == "" {
		missing = append(missing, FieldFullName)
	}
	if strings.TrimSpace(app.Email) == "" {
		missing = append(missing, FieldEmail)
	}
	if app.Photo.IsZero() {
		missing = append(missing, FieldPhoto)
	}
	if !hasDocument(app.Documents) {
		missing = append(missing, FieldDocuments)
	}
	return missing
}

// Eligibility summarises whether an application may be finalized.
type Eligibility struct {
	CanSubmit        bool    `json:"canSubmit"`
	AlreadySubmitted bool    `json:"alreadySubmitted"`
	Missing          []Field `json:"missing"`
}

// CheckEligibility evaluates the submission gate.
func CheckEligibility(app *Application) Eligibility {
	missing := MissingFields(app)
	return Eligibility{
		CanSubmit:        app != nil && !app.IsSubmitted() && len(missing) == 0,
		AlreadySubmitted: app.IsSubmitted(),
		Missing:          missing,
	}
}

// FieldNames converts fields to their wire names.
func FieldNames(fields []Field) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, string(f))
	}
	return out
}
