package tui

import (
	"errors"
	"strconv"
	"strings"
)

// Command represents a parsed slash command
type Command struct {
	Name string
	Args []string
}

// ParseCommand parses a slash command string into a Command struct
func ParseCommand(input string) (*Command, error) {
	if !strings.HasPrefix(input, "/") {
		return nil, errors.New("not a command")
	}

	parts := strings.Fields(input[1:])
	if len(parts) == 0 {
		return nil, errors.New("empty command")
	}

	return &Command{
		Name: strings.ToLower(parts[0]),
		Args: parts[1:],
	}, nil
}

// messageRef resolves "N" to the Nth most recent message (1 is the newest)
// in a list of length n, returning its slice index.
func messageRef(arg string, n int) (int, error) {
	ref, err := strconv.Atoi(arg)
	if err != nil || ref < 1 {
		return 0, errors.New("message number must be a positive integer")
	}
	if ref > n {
		return 0, errors.New("no such message")
	}
	return n - ref, nil
}

const helpText = `Commands:
/react <N> <emoji>         - Toggle a reaction on the Nth most recent message
/download <N> [index]      - Save an attachment from the Nth most recent message
/upload <path> [caption]   - Send a file
/team <number|name>        - Switch team
/leave                     - Leave the current team's room
/reconnect                 - Reopen the live connection
/theme [name]              - List themes, or apply one
/help                      - Show this help
/quit                      - Exit`
