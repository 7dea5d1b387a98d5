package research

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSON pulls the first balanced JSON object out of a completion.
// Models wrap their JSON in prose or code fences often enough that a plain
// unmarshal of the raw response is not reliable.
func extractJSON(response string) (string, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i, ch := range response {
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					return response[start : i+1], nil
				}
			}
		}
	}
	return "", fmt.Errorf("no JSON object found in response")
}

// decodeJSONResponse extracts and unmarshals a structured completion.
func decodeJSONResponse(response string, out interface{}) error {
	jsonStr, err := extractJSON(response)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(jsonStr), out); err != nil {
		return fmt.Errorf("failed to parse structured response: %w", err)
	}
	return nil
}

// truncateToBudget applies the deterministic context-size policy: a JSON list
// is shortened by item count in proportion to the character budget; anything
// else is hard-cut at a rune boundary with an explicit marker appended.
func truncateToBudget(raw string, budget int) string {
	if budget <= 0 || len(raw) <= budget {
		return raw
	}

	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "[") {
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &items); err == nil && len(items) > 0 {
			keep := len(items) * budget / len(trimmed)
			if keep < 1 {
				keep = 1
			}
			if keep < len(items) {
				if b, err := json.Marshal(items[:keep]); err == nil && len(b) <= budget {
					return string(b)
				}
			}
		}
	}

	cut := budget
	for cut > 0 && !isRuneStart(raw[cut]) {
		cut--
	}
	return raw[:cut] + "\n...[truncated]"
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
