package bot

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// /fetch_now look-back bounds in days.
const (
	DefaultFetchDays = 7
	MaxFetchDays     = 3650
)

// Command is a tokenized inbound message.
type Command struct {
	// Name is the command token with any @botname suffix removed, e.g. "/help".
	Name string
	// Args are the whitespace-separated tokens after the command.
	Args []string
	// Raw is the text after the command token with surrounding space trimmed.
	Raw string
}

// ParseCommand tokenizes text. It fails if the text does not start with a
// "/" command token.
func ParseCommand(text string) (Command, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return Command{}, fmt.Errorf("not a command")
	}

	name := fields[0]
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "/" {
		return Command{}, fmt.Errorf("empty command")
	}

	rest := strings.TrimLeftFunc(text, unicode.IsSpace)
	rest = strings.TrimPrefix(rest, fields[0])

	return Command{
		Name: name,
		Args: fields[1:],
		Raw:  strings.TrimSpace(rest),
	}, nil
}

// ParseRuleID parses the argument of /remove_rule.
func ParseRuleID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rule id %q", s)
	}
	return id, nil
}

// ParseDays returns the look-back of /fetch_now. Missing, unparsable and
// non-positive values fall back to DefaultFetchDays; larger values are capped
// at MaxFetchDays.
func ParseDays(args []string) int {
	if len(args) == 0 {
		return DefaultFetchDays
	}
	days, err := strconv.Atoi(args[0])
	if err != nil || days < 1 {
		return DefaultFetchDays
	}
	return min(days, MaxFetchDays)
}
