// Package actions binds the relay's command vocabulary to local host
// actions. The vocabulary is closed: every accepted command maps to
// exactly one action, and unrecognized text never partially matches.
package actions

// Command is one entry of the fixed vocabulary. Matching is verbatim:
// case-sensitive, exact, including internal spacing.
type Command string

const (
	CmdStatus  Command = "foundry status"
	CmdRestart Command = "foundry restart"
	CmdHealth  Command = "foundry health"
	CmdBackup  Command = "foundry backup"
	CmdUptime  Command = "foundry uptime"
	CmdSpace   Command = "foundry space"
	CmdReboot  Command = "foundry reboot"
	CmdHelp    Command = "foundry help"
)

// vocabulary in help-text order.
var vocabulary = []Command{
	CmdStatus,
	CmdRestart,
	CmdHealth,
	CmdBackup,
	CmdUptime,
	CmdSpace,
	CmdReboot,
	CmdHelp,
}

// Vocabulary returns the full command list in stable order.
func Vocabulary() []Command {
	out := make([]Command, len(vocabulary))
	copy(out, vocabulary)
	return out
}

// Lookup resolves candidate text to a Command. No normalization beyond
// what the parser already did; "Foundry Status" or "foundry  status"
// do not match.
func Lookup(s string) (Command, bool) {
	for _, c := range vocabulary {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}
