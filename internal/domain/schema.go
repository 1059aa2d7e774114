package domain

import "encoding/json"

// Sheet is one worksheet of the uploaded source workbook.
type Sheet struct {
	Name string
	Rows [][]string
}

// TableSchema is the normalized view of a target schema document: its name
// and field list. Field entries are kept verbatim so attributes the user
// supplied (types, comments, constraints) reach the prompt untouched.
type TableSchema struct {
	Name   string            `json:"name"`
	Fields []json.RawMessage `json:"fields"`
}

// TargetDocument is an uploaded target schema document.
type TargetDocument struct {
	Table TableSchema
	// Raw is the document exactly as uploaded.
	Raw json.RawMessage
}

// MappingRecord is one proposed field mapping exactly as the model produced
// it. Only the object shape is guaranteed; sourceField, sourceTable,
// targetField and targetTable are the keys the model is asked for, and any
// extra keys it adds are kept.
type MappingRecord json.RawMessage

func (r MappingRecord) MarshalJSON() ([]byte, error) {
	return json.RawMessage(r).MarshalJSON()
}

func (r *MappingRecord) UnmarshalJSON(data []byte) error {
	return (*json.RawMessage)(r).UnmarshalJSON(data)
}

// TableRef names a table inside an approved mapping.
type TableRef struct {
	Name string `json:"name"`
}

// MappingEndpoint is one side of an approved mapping.
type MappingEndpoint struct {
	Field string   `json:"field"`
	Table TableRef `json:"table"`
}

// ApprovedMapping is a mapping the engineer has reviewed and submitted for
// SQL synthesis.
type ApprovedMapping struct {
	Source             MappingEndpoint `json:"source"`
	Target             MappingEndpoint `json:"target"`
	TransformationRule string          `json:"transformationRule,omitempty"`
}
