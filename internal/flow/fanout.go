package flow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/m3rciful/fleetbot/internal/fleet"
)

const (
	maxNameLen = 64
	maxBioLen  = 70
)

var reUsername = regexp.MustCompile(`^[A-Za-z0-9_]{5,32}$`)

// clearMarker is the input that clears a value.
const clearMarker = "-"

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// FanOutNames derives one display name per account. A comma list must have
// exactly n entries; a single base becomes "base 1", "base 2", ... unless
// n is 1.
func FanOutNames(input string, n int) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fleet.Invalid("name", "send a name")
	}
	if strings.Contains(input, ",") {
		names := splitList(input)
		if len(names) != n {
			return nil, fleet.Invalid("name", fmt.Sprintf("you sent %d names for %d accounts", len(names), n))
		}
		for _, name := range names {
			if err := checkName(name); err != nil {
				return nil, err
			}
		}
		return names, nil
	}
	if err := checkName(input); err != nil {
		return nil, err
	}
	if n == 1 {
		return []string{input}, nil
	}
	out := make([]string, n)
	for i := range out {
		out[i] = input + " " + strconv.Itoa(i+1)
	}
	return out, nil
}

func checkName(name string) error {
	switch {
	case name == "":
		return fleet.Invalid("name", "names must not be empty")
	case utf8.RuneCountInString(name) > maxNameLen:
		return fleet.Invalid("name", fmt.Sprintf("name %q is longer than %d characters", name, maxNameLen))
	}
	return nil
}

// FanOutUsernames derives one username per account. "-" clears every
// username; a comma list must have exactly n entries; a single base becomes
// base, base_2, base_3, ...
func FanOutUsernames(input string, n int) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "" || input == clearMarker {
		return make([]string, n), nil
	}
	var names []string
	if strings.Contains(input, ",") {
		names = splitList(input)
		if len(names) != n {
			return nil, fleet.Invalid("username", fmt.Sprintf("you sent %d usernames for %d accounts", len(names), n))
		}
	} else {
		base := strings.TrimPrefix(input, "@")
		names = make([]string, n)
		for i := range names {
			names[i] = base
			if i > 0 {
				names[i] = base + "_" + strconv.Itoa(i+1)
			}
		}
	}
	seen := make(map[string]bool, len(names))
	for i, name := range names {
		name = strings.TrimPrefix(name, "@")
		if !reUsername.MatchString(name) {
			return nil, fleet.Invalid("username", fmt.Sprintf("%q must be 5-32 letters, digits or underscores", name))
		}
		key := strings.ToLower(name)
		if seen[key] {
			return nil, fleet.Invalid("username", fmt.Sprintf("%q is listed twice", name))
		}
		seen[key] = true
		names[i] = name
	}
	return names, nil
}

// ParseBio validates a bio; "-" clears it.
func ParseBio(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == clearMarker {
		return "", nil
	}
	if input == "" {
		return "", fleet.Invalid("bio", "send the bio text or - to clear it")
	}
	if n := utf8.RuneCountInString(input); n > maxBioLen {
		return "", fleet.Invalid("bio", fmt.Sprintf("bio has %d characters, the limit is %d", n, maxBioLen))
	}
	return input, nil
}
