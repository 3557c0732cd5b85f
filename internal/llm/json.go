package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

var ErrNoJSONObject = errors.New("no JSON object in completion")

// DecodeJSON unmarshals the first JSON object found in a completion into v.
// Models like to wrap their answer in a markdown fence or a sentence.
func DecodeJSON(completion string, v any) error {
	s := strings.TrimSpace(completion)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ErrNoJSONObject
	}
	return json.Unmarshal([]byte(s[start:end+1]), v)
}
