package domain

import "strings"

// Stage names one step of the guided flow.
type Stage string

const (
	StageStream          Stage = "stream"
	StageProgram         Stage = "program"
	StagePersonalDetails Stage = "personal-details"
	StageUpload          Stage = "upload"
	StageReview          Stage = "review"
)

// Stages lists the flow in order.
var Stages = []Stage{StageStream, StageProgram, StagePersonalDetails, StageUpload, StageReview}

// ParseStage validates a stage name.
func ParseStage(raw string) (Stage, bool) {
	candidate := Stage(strings.ToLower(strings.TrimSpace(raw)))
	for _, stage := range Stages {
		if stage == candidate {
			return stage, true
		}
	}
	return "", false
}

// Path is the route of the stage page.
func (s Stage) Path() string {
	return "/application/" + string(s)
}

// Progress holds the completion flags of the five stages.
type Progress struct {
	SelectStream    bool `json:"selectStream"`
	Program         bool `json:"program"`
	PersonalDetails bool `json:"personalDetails"`
	Upload          bool `json:"upload"`
	Review          bool `json:"review"`
}

// DeriveProgress computes the stage flags. A nil application yields all false.
func DeriveProgress(app *Application) Progress {
	if app == nil {
		return Progress{}
	}
	return Progress{
		SelectStream:    app.Stream != "",
		Program:         strings.TrimSpace(app.Program) != "",
		PersonalDetails: strings.TrimSpace(app.FullName) != "" && strings.TrimSpace(app.Email) != "",
		Upload:          !app.Photo.IsZero() && hasDocument(app.Documents),
		Review:          app.Status == StatusSubmitted,
	}
}

func hasDocument(docs []Reference) bool {
	for i := range docs {
		if !docs[i].IsZero() {
			return true
		}
	}
	return false
}
