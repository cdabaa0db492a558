package job

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/sirupsen/logrus"
)

// BuildJob describes one request to build a repository and publish its output
type BuildJob struct {
	ID           ID                `json:"id"`
	RepoName     string            `json:"repoName" validate:"required"`
	RepoURL      string            `json:"repoUrl" validate:"required"`
	GitToken     string            `json:"gitToken,omitempty"`
	BuildCommand string            `json:"buildCommand" validate:"required"`
	BuildOutDir  string            `json:"buildOutDir" validate:"required"`
	EnvVars      map[string]string `json:"envVars,omitempty"`
}

// Fields returns the log fields describing the job. The git token is never included.
func (j *BuildJob) Fields() logrus.Fields {
	return logrus.Fields{
		"job_id":        j.ID.String(),
		"repo_name":     j.RepoName,
		"build_command": j.BuildCommand,
		"build_out_dir": j.BuildOutDir,
		"private":       j.GitToken != "",
	}
}

// Encode serializes the job into a queue message body
func (j *BuildJob) Encode() ([]byte, error) {
	return json.Marshal(j)
}

// ID is a job identifier. Producers send either a JSON string or a JSON
// integer, the original form is kept so re-encoding is lossless.
type ID struct {
	value   string
	numeric bool
}

// StringID creates an ID from a string value
func StringID(v string) ID {
	return ID{value: v}
}

// IntID creates an ID from an integer value
func IntID(v int64) ID {
	return ID{value: strconv.FormatInt(v, 10), numeric: true}
}

// String returns the identifier as used in storage keys and log records
func (id ID) String() string {
	return id.value
}

// IsZero reports whether the identifier is missing
func (id ID) IsZero() bool {
	return id.value == ""
}

// MarshalJSON implements json.Marshaler
func (id ID) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return []byte(id.value), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ID{}
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}

	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return ErrInvalidID
	}
	*id = IntID(n)

	return nil
}
