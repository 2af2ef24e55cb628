package bridge

import (
	"context"
	"fmt"
)

// Event is one report from the game bot: something it did or noticed,
// stamped with the phase it happened in.
type Event struct {
	Type      string  `json:"type"`
	Message   string  `json:"message"`
	Source    string  `json:"source"`
	Target    string  `json:"target"`
	Phase     string  `json:"phase"`
	Timestamp float64 `json:"timestamp"`
}

// Source yields batches of new bot events. Poll returns only events not
// seen before; an empty batch means nothing new.
type Source interface {
	Poll(ctx context.Context) ([]Event, error)
}

// phaseTarget names the persona in charge of a bot phase and the arena
// they work from.
type phaseTarget struct {
	Persona string
	Arena   string
}

var phaseMap = map[string]phaseTarget{
	"Village Profiles — Loop":             {"Commander Marcus", "Strategy Hall"},
	"Village Profiles":                    {"Commander Marcus", "Strategy Hall"},
	"Preflight":                           {"Scout Varro", "Scout Tower"},
	"Preflight — Scanning":                {"Scout Varro", "Scout Tower"},
	"Main Crop Check":                     {"Centurion Titus", "Training Grounds"},
	"Main Crop Emergency":                 {"Centurion Titus", "Training Grounds"},
	"Developed → Grey Zone (support)":     {"Treasurer Lucius", "Treasury"},
	"Grey Zone Upgrades (plan-driven)":    {"Builder Gaius", "Construction Yard"},
	"Developed → Main (overflow)":         {"Treasurer Lucius", "Treasury"},
	"Developed → Developing (support)":    {"Treasurer Lucius", "Treasury"},
	"Developing Upgrades (plan-driven)":   {"Builder Gaius", "Construction Yard"},
	"Developing → Main (excess)":          {"Treasurer Lucius", "Treasury"},
	"Focus":                               {"Strategist Livia", "Focus Chamber"},
	"Developed Crop → Developing":         {"Treasurer Lucius", "Treasury"},
	"Training":                            {"Centurion Titus", "Training Grounds"},
	"Main Fields":                         {"Builder Gaius", "Construction Yard"},
	"Developed Training":                  {"Centurion Titus", "Training Grounds"},
	"init":                                {"Commander Marcus", "Strategy Hall"},
	"Cycle Complete":                      {"Commander Marcus", "Briefing Room"},
}

var eventPersona = map[string]string{
	"resource_send":    "Treasurer Lucius",
	"resource_receive": "Treasurer Lucius",
	"build_start":      "Builder Gaius",
	"build_complete":   "Builder Gaius",
	"train_start":      "Centurion Titus",
	"train_complete":   "Centurion Titus",
	"dodge_triggered":  "Sentinel Felix",
	"attack_detected":  "Sentinel Felix",
	"focus_action":     "Strategist Livia",
	"profile_update":   "Archivist Petra",
	"preflight_scan":   "Scout Varro",
	"validation_error": "Validator Quintus",
	"phase_change":     "Commander Marcus",
}

// PhaseTarget returns the persona responsible for a phase and their
// arena. Unknown phases belong to the commander.
func PhaseTarget(phase string) (persona, arena string) {
	if t, ok := phaseMap[phase]; ok {
		return t.Persona, t.Arena
	}
	return "Commander Marcus", "Strategy Hall"
}

// Thought renders a bot event as a first-person thought for the persona
// responsible for that event type.
func Thought(ev Event) (persona, text string) {
	persona, ok := eventPersona[ev.Type]
	if !ok {
		persona = "Commander Marcus"
	}

	orUnknown := func(vals ...string) string {
		for _, v := range vals {
			if v != "" {
				return v
			}
		}
		return "unknown"
	}

	switch ev.Type {
	case "resource_send":
		text = fmt.Sprintf("I just sent resources from %s to %s. %s", ev.Source, ev.Target, ev.Message)
	case "build_start":
		text = fmt.Sprintf("I started a new building upgrade: %s. Village: %s.", ev.Message, orUnknown(ev.Source, ev.Target))
	case "build_complete":
		text = fmt.Sprintf("A building upgrade completed: %s. Village: %s.", ev.Message, orUnknown(ev.Source, ev.Target))
	case "train_start":
		text = fmt.Sprintf("I began training troops: %s. At: %s.", ev.Message, orUnknown(ev.Source, ev.Target, "the barracks"))
	case "dodge_triggered", "attack_detected":
		text = fmt.Sprintf("ALERT! %s. Village under threat: %s. I must take immediate defensive action!",
			ev.Message, orUnknown(ev.Target, ev.Source))
	case "focus_action":
		text = fmt.Sprintf("Focus plan action: %s. Target village: %s.", ev.Message, orUnknown(ev.Target, ev.Source))
	case "phase_change":
		text = fmt.Sprintf("The operational phase has changed to: %s. %s", ev.Phase, ev.Message)
	default:
		text = ev.Message
		if ev.Source != "" {
			text += fmt.Sprintf(" (from %s)", ev.Source)
		}
		if ev.Target != "" {
			text += fmt.Sprintf(" (to %s)", ev.Target)
		}
	}
	return persona, text
}

var phaseDescriptions = map[string]string{
	"Village Profiles — Loop":           "Commander Marcus is reviewing village classifications and tier assignments.",
	"Preflight":                         "Scout Varro is running reconnaissance scans across all villages.",
	"Main Crop Check":                   "Centurion Titus is checking if the main village has a crop emergency.",
	"Developed → Grey Zone (support)":   "Treasurer Lucius is sending support resources to grey zone villages.",
	"Grey Zone Upgrades (plan-driven)":  "Builder Gaius is upgrading buildings in grey zone villages.",
	"Developed → Main (overflow)":       "Treasurer Lucius is transferring overflow resources to the main village.",
	"Developed → Developing (support)":  "Treasurer Lucius is sending support to developing villages.",
	"Developing Upgrades (plan-driven)": "Builder Gaius is upgrading buildings in developing villages.",
	"Developing → Main (excess)":        "Treasurer Lucius is transferring excess resources back to main.",
	"Focus":                             "Strategist Livia is executing special focus plan actions.",
	"Developed Crop → Developing":       "Treasurer Lucius is redistributing crop to developing villages.",
	"Training":                          "Centurion Titus is training troops across the empire.",
	"Main Fields":                       "Builder Gaius is upgrading resource fields in the main village.",
	"Developed Training":                "Centurion Titus is training defense troops in developed villages.",
	"Cycle Complete":                    "The operational cycle is complete. All managers are resting.",
}

// PhaseDescription returns a readable summary of the bot's state.
func PhaseDescription(phase string, loop int, running bool) string {
	if !running {
		return "The bot is currently offline. All managers are on standby."
	}
	desc, ok := phaseDescriptions[phase]
	if !ok {
		desc = fmt.Sprintf("Current phase: %s", phase)
	}
	return fmt.Sprintf("[Loop %d] %s", loop, desc)
}
