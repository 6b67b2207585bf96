package kernel

import (
	"fmt"
	"strings"
)

// CommandNotFoundError reports a failed executable resolution, carrying
// near-miss names from the PATH directories when any rank close enough.
type CommandNotFoundError struct {
	Name        string
	Suggestions []string
}

func (e *CommandNotFoundError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("command not found: %s", e.Name)
	}
	return fmt.Sprintf("command not found: %s (did you mean %s?)",
		e.Name, strings.Join(e.Suggestions, ", "))
}
