package cognition

// ExternalEvent is a happening injected into perception from outside
// the world grid: a bridge report, an operator whisper, a broadcast.
// Persona, when set, limits delivery to that agent; an empty Persona
// reaches everyone.
type ExternalEvent struct {
	Source  string `json:"source"`
	Type    string `json:"type"`
	Persona string `json:"persona,omitempty"`
	Arena   string `json:"arena,omitempty"`
	Text    string `json:"text"`
}
