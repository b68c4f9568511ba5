package audioio

import (
	"fmt"
	"strings"
)

// pickDevice returns the index of the input device called want. Names are
// compared case-insensitively after trimming; an empty want selects nothing.
func pickDevice(names []string, want string) (int, error) {
	want = strings.TrimSpace(want)
	for i, name := range names {
		if strings.EqualFold(strings.TrimSpace(name), want) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: no input device named %q (have %s)", ErrDeviceUnavailable, want, strings.Join(names, ", "))
}
