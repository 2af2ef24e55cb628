package cognition

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Action kinds.
const (
	ActMove     = "move"
	ActInteract = "interact"
	ActSay      = "say"
	ActIdle     = "idle"
)

// ErrParse is returned when model output cannot be read as an action.
var ErrParse = errors.New("unparseable model action")

// Action is one decided behavior for a tick. Move names a target arena;
// Interact names an object on or next to the agent's tile; Say carries
// an utterance.
type Action struct {
	Kind   string `json:"action"`
	Arena  string `json:"arena,omitempty"`
	Object string `json:"object,omitempty"`
	Text   string `json:"text,omitempty"`
}

// ParseAction reads a model response as an action. The primary form is
// a JSON object, optionally inside markdown fences; a bare line such as
// "move to the war room" or "idle" is accepted as a fallback.
func ParseAction(content string) (Action, error) {
	raw := stripFences(strings.TrimSpace(content))

	if strings.HasPrefix(raw, "{") {
		var a Action
		if err := json.Unmarshal([]byte(raw), &a); err == nil {
			if err := a.validate(); err == nil {
				return a, nil
			}
		}
	}

	if a, ok := parseBare(raw); ok {
		return a, nil
	}
	return Action{}, fmt.Errorf("%w: %q", ErrParse, truncate(content, 120))
}

func (a Action) validate() error {
	switch a.Kind {
	case ActMove:
		if a.Arena == "" {
			return fmt.Errorf("%w: move without arena", ErrParse)
		}
	case ActInteract:
		if a.Object == "" {
			return fmt.Errorf("%w: interact without object", ErrParse)
		}
	case ActSay:
		if a.Text == "" {
			return fmt.Errorf("%w: say without text", ErrParse)
		}
	case ActIdle:
	default:
		return fmt.Errorf("%w: kind %q", ErrParse, a.Kind)
	}
	return nil
}

func parseBare(raw string) (Action, bool) {
	line := raw
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	lower := strings.ToLower(line)

	switch {
	case lower == "idle" || lower == "wait":
		return Action{Kind: ActIdle}, true
	case strings.HasPrefix(lower, "move to "):
		arena := strings.TrimSpace(line[len("move to "):])
		arena = strings.TrimPrefix(arena, "the ")
		if arena != "" {
			return Action{Kind: ActMove, Arena: arena}, true
		}
	case strings.HasPrefix(lower, "interact with "):
		obj := strings.TrimSpace(line[len("interact with "):])
		obj = strings.TrimPrefix(obj, "the ")
		if obj != "" {
			return Action{Kind: ActInteract, Object: obj}, true
		}
	case strings.HasPrefix(lower, "say "):
		text := strings.TrimSpace(line[len("say "):])
		text = strings.Trim(text, `"`)
		if text != "" {
			return Action{Kind: ActSay, Text: text}, true
		}
	}
	return Action{}, false
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
