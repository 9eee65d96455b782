package commands

import (
	"strings"
)

// Command represents a parsed user instruction.
type Command struct {
	Name string // run|help|recent
	Args string // remaining text after the command keyword
	Raw  string // original user message
}

// Parse inspects the incoming plaintext message and extracts a command.
// Supported forms:
//
//	"/help"    -> usage help
//	"/recent"  -> list recently created automations
//	"/run <x>" -> describe an automation explicitly
//	Anything else is treated as an automation request. Only slash forms are
//	commands so that requests such as "help me switch the porch light" still
//	reach the agent.
func Parse(msg string) Command {
	trimmed := strings.TrimSpace(msg)
	lower := strings.ToLower(trimmed)

	switch {
	case keyword(lower, "/help"):
		return Command{Name: "help", Raw: msg}
	case keyword(lower, "/recent"):
		return Command{Name: "recent", Args: strings.TrimSpace(trimmed[len("/recent"):]), Raw: msg}
	case keyword(lower, "/run"):
		return Command{Name: "run", Args: strings.TrimSpace(trimmed[len("/run"):]), Raw: msg}
	default:
		return Command{Name: "run", Args: trimmed, Raw: msg}
	}
}

// HelpText is the reply to /help.
func HelpText() string {
	return strings.Join([]string{
		"Describe an automation in plain words, for example:",
		"  turn on the hallway light when motion is detected after sunset",
		"Commands:",
		"  /recent  list the last automations I created",
		"  /help    show this message",
	}, "\n")
}

func keyword(lower, kw string) bool {
	if !strings.HasPrefix(lower, kw) {
		return false
	}
	rest := lower[len(kw):]
	return rest == "" || rest[0] == ' ' || rest[0] == '\n' || rest[0] == '\t'
}
