package scpi

import (
	"fmt"
	"strings"
)

// Command is one outbound instruction line
type Command struct {
	// Line is the instruction without a terminator, e.g. READ:CURR?
	Line string

	// Query is true if Line contains a question mark and so expects a reply
	Query bool
}

// NewCommand builds a Command from an instruction line.  Trailing
// whitespace and terminators are trimmed; the executor adds its own.
func NewCommand(line string) Command {
	line = strings.TrimRight(line, " \t\r\n")
	return Command{Line: line, Query: strings.Contains(line, "?")}
}

// Commandf is NewCommand with fmt.Sprintf formatting
func Commandf(format string, args ...interface{}) Command {
	return NewCommand(fmt.Sprintf(format, args...))
}

// String returns the instruction line
func (c Command) String() string {
	return c.Line
}
