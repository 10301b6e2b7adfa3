package polargraph

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrCommandTooLong is returned for commands at or over the length limit.
	ErrCommandTooLong = errors.New("command too long")

	// ErrInvalidCommand is returned by ParseCommand for malformed text.
	ErrInvalidCommand = errors.New("invalid command")
)

// Canonicalize terminates cmd with `,END` and a newline, unless already
// present. The result must be shorter than maxLen.
func Canonicalize(cmd string, maxLen int) (string, error) {
	s := strings.TrimSpace(cmd)
	switch {
	case strings.HasSuffix(s, ",END"):
	case strings.HasSuffix(s, ","):
		s += "END"
	default:
		s += ",END"
	}
	s += "\n"

	if len(s) >= maxLen {
		return "", fmt.Errorf("%w: %d bytes", ErrCommandTooLong, len(s))
	}
	return s, nil
}

// Command is a decoded device command.
type Command struct {
	Code string
	Args []float64
}

// argCount is the number of arguments the firmware reads for known codes.
var argCount = map[string]int{
	"C00": 2,
	"C01": 2,
	"C02": 4,
	"C03": 4,
	"C05": 2,
	"C06": 0,
	"C07": 1,
	"C10": 0,
	"C11": 0,
	"C13": 0,
	"C14": 0,
	"C16": 0,
	"C90": 0,
	"C91": 0,
}

var rxCode = regexp.MustCompile(`^C\d\d$`)

// ParseCommand decodes canonical command text the way the device does.
func ParseCommand(data string) (cmd Command, err error) {
	data = strings.TrimSpace(data)
	parts := strings.Split(data, ",")
	if len(parts) < 2 || parts[len(parts)-1] != "END" {
		return cmd, fmt.Errorf("%w: missing END: %q", ErrInvalidCommand, data)
	}
	parts = parts[:len(parts)-1]

	if !rxCode.MatchString(parts[0]) {
		return cmd, fmt.Errorf("%w: bad code: %q", ErrInvalidCommand, data)
	}
	cmd.Code = parts[0]
	parts = parts[1:]

	if n, ok := argCount[cmd.Code]; ok && n != len(parts) {
		return cmd, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrInvalidCommand, cmd.Code, n, len(parts))
	}
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return cmd, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
		}
		cmd.Args = append(cmd.Args, v)
	}

	return cmd, nil
}
