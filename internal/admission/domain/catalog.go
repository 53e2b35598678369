package domain

import "strings"

// Stream is the academic level chosen in the first stage.
type Stream string

const (
	StreamBachelors Stream = "bachelors"
	StreamMasters   Stream = "masters"
	StreamPhD       Stream = "phd"
)

// Streams lists the selectable streams in display order.
var Streams = []Stream{StreamBachelors, StreamMasters, StreamPhD}

var streamLabels = map[Stream]string{
	StreamBachelors: "Bachelors",
	StreamMasters:   "Masters",
	StreamPhD:       "PhD",
}

var programCatalog = map[Stream][]string{
	StreamBachelors: {
		"Bachelor of Science in Computer Science (BSCS)",
		"Bachelor of Science in Business Administration (BSBA)",
	},
	StreamMasters: {
		"Master of Science in Computer Science (MSCS)",
		"Master of Business Administration (MBA)",
	},
	StreamPhD: {
		"Doctorate in Computer Science",
		"Doctorate in Business Administration",
	},
}

// ParseStream accepts a stream name case-insensitively. Empty input is valid and means unset.
func ParseStream(raw string) (Stream, bool) {
	trimmed := Stream(strings.ToLower(strings.TrimSpace(raw)))
	if trimmed == "" {
		return "", true
	}
	if _, ok := programCatalog[trimmed]; ok {
		return trimmed, true
	}
	return "", false
}

// Label returns the human readable stream name.
func (s Stream) Label() string {
	if label, ok := streamLabels[s]; ok {
		return label
	}
	return string(s)
}

// ProgramsFor returns the program options offered for a stream.
func ProgramsFor(stream Stream) []string {
	return append([]string(nil), programCatalog[stream]...)
}

// ProgramOffered reports whether program belongs to the stream's catalog.
func ProgramOffered(stream Stream, program string) bool {
	for _, candidate := range programCatalog[stream] {
		if candidate == program {
			return true
		}
	}
	return false
}
