package types

import (
	"encoding/json"
	"strconv"
)

// DefaultSubjectID is used when a request names no subject.
const DefaultSubjectID = "user1"

// Sensor roles accepted in Reading.Role.
const (
	RolePulse       = "pulse"
	RoleTemperature = "temperature"
)

// Reading is one sensor sample as sent by a device or the agent.
//
// The value field depends on Role: BPM for "pulse", SkinTempC for
// "temperature". Values are kept raw so the server can tell a missing field
// from a malformed one; devices send both JSON numbers and numeric strings.
type Reading struct {
	Role      string          `json:"role"`
	SubjectID string          `json:"subject_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"` // legacy alias of SubjectID
	BPM       json.RawMessage `json:"bpm,omitempty"`
	SkinTempC json.RawMessage `json:"skin_temp_c,omitempty"`
}

// Subject returns the subject the reading belongs to, falling back to the
// legacy user_id field and then to fallback (DefaultSubjectID if empty).
func (r Reading) Subject(fallback string) string {
	return pickSubject(r.SubjectID, r.UserID, fallback)
}

// Value returns the raw value field matching Role, or nil when the role is
// unknown or the field is absent.
func (r Reading) Value() json.RawMessage {
	var raw json.RawMessage
	switch r.Role {
	case RolePulse:
		raw = r.BPM
	case RoleTemperature:
		raw = r.SkinTempC
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

// NewReading builds a Reading for role with v as a JSON number. A role other
// than pulse or temperature yields a Reading with no value.
func NewReading(role, subjectID string, v float64) Reading {
	raw := json.RawMessage(strconv.FormatFloat(v, 'f', -1, 64))
	rd := Reading{Role: role, SubjectID: subjectID}
	switch role {
	case RolePulse:
		rd.BPM = raw
	case RoleTemperature:
		rd.SkinTempC = raw
	}
	return rd
}

// AdvisoryRequest is the body of POST /remedy.
type AdvisoryRequest struct {
	SubjectID string `json:"subject_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// Subject returns the requested subject, applying the same fallbacks as Reading.
func (a AdvisoryRequest) Subject(fallback string) string {
	return pickSubject(a.SubjectID, a.UserID, fallback)
}

func pickSubject(subjectID, userID, fallback string) string {
	switch {
	case subjectID != "":
		return subjectID
	case userID != "":
		return userID
	case fallback != "":
		return fallback
	default:
		return DefaultSubjectID
	}
}
