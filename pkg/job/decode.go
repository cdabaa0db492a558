package job

import (
	"bytes"
	"encoding/json"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

var fieldNames = []string{"id", "repoName", "repoUrl", "gitToken", "buildCommand", "buildOutDir", "envVars"}

// Decode parses and validates a queue message body
func Decode(body []byte) (*BuildJob, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, malformed("decode", ErrEmptyBody)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, malformed("decode", err)
	}
	if err := checkShape(raw); err != nil {
		return nil, err
	}

	j := &BuildJob{}
	if err := json.Unmarshal(body, j); err != nil {
		return nil, malformed("decode", err)
	}

	if err := Validate(j); err != nil {
		return nil, err
	}

	return j, nil
}

// checkShape rejects field names that only match a job field case-insensitively
// and envVars that are not a flat string map. Unknown fields are ignored.
func checkShape(raw map[string]json.RawMessage) error {
	for key := range raw {
		for _, field := range fieldNames {
			if key != field && strings.EqualFold(key, field) {
				return malformed(key, ErrFieldCase)
			}
		}
	}

	env, ok := raw["envVars"]
	if !ok {
		return nil
	}

	// map[string]*string keeps null values apart from empty strings
	var values map[string]*string
	if err := json.Unmarshal(env, &values); err != nil {
		return malformed("envVars", ErrInvalidEnv)
	}
	for _, v := range values {
		if v == nil {
			return malformed("envVars", ErrInvalidEnv)
		}
	}

	return nil
}

// Validate checks the structural invariants of a job
func Validate(j *BuildJob) error {
	if j.ID.IsZero() {
		return malformed("validate", ErrMissingID)
	}

	if err := validate.Struct(j); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			var fields []string
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			return malformed("missing required fields "+strings.Join(fields, ", "), err)
		}
		return malformed("validate", err)
	}

	if strings.ContainsAny(j.RepoName, `/\`) || j.RepoName == "." || !isContained(j.RepoName) {
		return malformed("repoName", ErrInvalidPath)
	}
	if !isContained(j.BuildOutDir) {
		return malformed("buildOutDir", ErrInvalidPath)
	}

	return nil
}

// isContained returns true if p is a relative path that does not leave its root
func isContained(p string) bool {
	p = strings.ReplaceAll(p, `\`, "/")
	if strings.HasPrefix(p, "/") {
		return false
	}

	clean := path.Clean(p)
	return clean != ".." && !strings.HasPrefix(clean, "../")
}
