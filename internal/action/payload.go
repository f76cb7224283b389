package action

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"basegraph.app/warden/internal/model"
)

var validate = validator.New()

// requireFields checks that every named field is present and non-zero.
func requireFields(kind model.ActionKind, payload map[string]any, fields ...string) error {
	rules := make(map[string]any, len(fields))
	for _, f := range fields {
		rules[f] = "required"
	}
	errs := validate.ValidateMap(payload, rules)
	if len(errs) == 0 {
		return nil
	}
	missing := make([]string, 0, len(errs))
	for f := range errs {
		missing = append(missing, f)
	}
	return model.NewMissingFieldsError(kind, missing)
}

// decodePayload converts the generic payload map into a typed struct.
func decodePayload[T any](payload map[string]any) (T, error) {
	var out T
	data, err := json.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("encoding payload: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, &model.ValidationError{Message: fmt.Sprintf("invalid payload: %v", err)}
	}
	return out, nil
}

// flexInt accepts 12, 12.0 and "12".
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(s), "#"))
		if err != nil {
			return fmt.Errorf("not a number: %q", s)
		}
		*n = flexInt(v)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = flexInt(f)
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case string:
		*s = flexString(t)
	case float64:
		*s = flexString(strconv.FormatFloat(t, 'f', -1, 64))
	case nil:
		*s = ""
	default:
		return fmt.Errorf("want string or number, got %T", v)
	}
	return nil
}

// stringList accepts a JSON array of strings or a single string.
type stringList []string

func (l *stringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s != "" {
			*l = []string{s}
		}
		return nil
	}
	var raw []any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		switch t := v.(type) {
		case string:
			out = append(out, t)
		case map[string]any:
			// {"body": "..."} or {"text": "..."} entries
			if s, ok := t["body"].(string); ok {
				out = append(out, s)
			} else if s, ok := t["text"].(string); ok {
				out = append(out, s)
			}
		default:
			out = append(out, fmt.Sprint(t))
		}
	}
	*l = out
	return nil
}

// structuredContent is the embedded JSON document carried by auto-reply and
// patch actions.
type structuredContent struct {
	Replies       stringList `json:"replies"`
	Patch         string     `json:"patch"`
	Branch        string     `json:"branch"`
	CommitMessage string     `json:"commit_message"`
}

// parseStructuredContent accepts the content either as a JSON string or as
// an already-decoded object.
func parseStructuredContent(raw any) (structuredContent, error) {
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return structuredContent{}, err
		}
		data = b
	default:
		return structuredContent{}, &model.ValidationError{Message: "content must be a JSON object"}
	}

	var c structuredContent
	if err := json.Unmarshal(data, &c); err != nil {
		return structuredContent{}, &model.ValidationError{Message: fmt.Sprintf("content is not valid JSON: %v", err)}
	}
	return c, nil
}

// splitRepository splits "owner/repo".
func splitRepository(s string) (string, string, error) {
	owner, repo, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", &model.ValidationError{Message: fmt.Sprintf("repository %q: want owner/repo", s)}
	}
	return owner, repo, nil
}
