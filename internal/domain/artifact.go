package domain

import "time"

// Stage identifies which pipeline stage produced an artifact.
type Stage string

const (
	StageShortlist Stage = "shortlist"
	StageMapping   Stage = "mapping"
	StageSQL       Stage = "sql"
)

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageShortlist, StageMapping, StageSQL:
		return true
	}
	return false
}

// Artifact is the persisted output of one stage run.
type Artifact struct {
	RunID       string
	Stage       Stage
	ContentType string
	Body        []byte
	CreatedAt   time.Time
}

// FileName is the well-known file name the stage output is written under.
func (s Stage) FileName() string {
	switch s {
	case StageShortlist:
		return "table_analysis.json"
	case StageMapping:
		return "mapping_fields.json"
	case StageSQL:
		return "generated_sql.sql"
	}
	return ""
}

// ContentType is the media type of the stage output.
func (s Stage) ContentType() string {
	if s == StageSQL {
		return "application/sql; charset=utf-8"
	}
	return "application/json; charset=utf-8"
}

// StageFromFileName is the inverse of FileName.
func StageFromFileName(name string) (Stage, bool) {
	for _, s := range []Stage{StageShortlist, StageMapping, StageSQL} {
		if s.FileName() == name {
			return s, true
		}
	}
	return "", false
}
