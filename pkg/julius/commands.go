package julius

import "strings"

// Module commands understood by the server. Each ends with the newline the
// server expects.
const (
	CommandStatus         = "STATUS\n"
	CommandDie            = "DIE\n"
	CommandVersion        = "VERSION\n"
	CommandPause          = "PAUSE\n"
	CommandTerminate      = "TERMINATE\n"
	CommandResume         = "RESUME\n"
	CommandGramInfo       = "GRAMINFO\n"
	CommandCurrentProcess = "CURRENTPROCESS\n"
	CommandListProcess    = "LISTPROCESS\n"
)

// Command builds a command line from a verb and optional arguments.
func Command(verb string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, strings.ToUpper(strings.TrimSpace(verb)))
	for _, arg := range args {
		if arg = strings.TrimSpace(arg); arg != "" {
			parts = append(parts, arg)
		}
	}
	return strings.Join(parts, " ") + "\n"
}
