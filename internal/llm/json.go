package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.+\\})\\s*```")

// DecodeJSON unmarshals the first JSON object in content, tolerating
// markdown fences and surrounding prose.
func DecodeJSON(content string, out any) error {
	jsonStr := strings.TrimSpace(content)
	if m := fencedJSON.FindStringSubmatch(jsonStr); len(m) > 1 {
		jsonStr = m[1]
	} else if start, end := strings.Index(jsonStr, "{"), strings.LastIndex(jsonStr, "}"); start >= 0 && end > start {
		jsonStr = jsonStr[start : end+1]
	}

	if err := json.Unmarshal([]byte(jsonStr), out); err != nil {
		return fmt.Errorf("parse model response as JSON: %w (first 200 chars: %.200s)", err, content)
	}
	return nil
}

// StringList decodes a list of strings that a model may also return as a
// single string, a JSON-encoded string, or a list of objects.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*l = toStrings(raw)
	return nil
}

func toStrings(raw any) []string {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		if strings.HasPrefix(s, "[") {
			var nested any
			if err := json.Unmarshal([]byte(s), &nested); err == nil {
				return toStrings(nested)
			}
		}
		return []string{s}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			switch it := item.(type) {
			case string:
				if s := strings.TrimSpace(it); s != "" {
					out = append(out, s)
				}
			case map[string]any:
				out = append(out, describeObject(it))
			case nil:
			default:
				out = append(out, fmt.Sprint(it))
			}
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}

// describeObject renders {"finding": "...", ...} style items as text.
func describeObject(m map[string]any) string {
	for _, key := range []string{"finding", "summary", "text", "description", "title", "statement", "metric"} {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprint(m)
	}
	return string(b)
}
