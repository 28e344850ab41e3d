// Package procstate inspects the OS-level run state of a process so the
// supervisor can tell a suspended or zombie child from a healthy one that
// is merely quiet.
package procstate

import (
	"fmt"
	"os"
	"strings"
	"syscall"
)

type State string

const (
	StateRunning   State = "running"
	StateSuspended State = "suspended"
	StateZombie    State = "zombie"
	StateGone      State = "gone"
)

// Inspect reads /proc/<pid>/stat and maps the kernel state character to a
// State. A process that cannot be found is reported as gone, not as an
// error.
func Inspect(pid int) (State, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		if os.IsNotExist(err) {
			return StateGone, nil
		}
		return StateGone, err
	}
	return parseStat(string(data))
}

// parseStat extracts the state field from a /proc stat line. The comm
// field is parenthesized and may itself contain spaces or parentheses, so
// the state is the first field after the last ')'.
func parseStat(stat string) (State, error) {
	idx := strings.LastIndexByte(stat, ')')
	if idx < 0 || idx+2 >= len(stat) {
		return StateGone, fmt.Errorf("procstate: malformed stat line %q", stat)
	}

	fields := strings.Fields(stat[idx+1:])
	if len(fields) == 0 {
		return StateGone, fmt.Errorf("procstate: malformed stat line %q", stat)
	}

	switch fields[0] {
	case "T", "t":
		return StateSuspended, nil
	case "Z", "X", "x":
		return StateZombie, nil
	default:
		// R, S, D and friends are all treated as running. A stalled
		// child in state S is indistinguishable from a healthy quiet
		// one, so it is never killed on this signal alone.
		return StateRunning, nil
	}
}

// Alive reports whether a pid still exists, using the null signal.
func Alive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}
