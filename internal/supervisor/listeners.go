package supervisor

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// ListenerFinder discovers and signals whatever process currently listens
// on a port. It backs the discovery tier of Stop.
type ListenerFinder interface {
	ListenerPIDs(port int) ([]int, error)
	Terminate(pid int) error
}

// LsofFinder finds listeners with lsof.
type LsofFinder struct {
	// Binary defaults to "lsof".
	Binary string
}

// ListenerPIDs returns the PIDs listening on TCP port, excluding this
// process. An empty result is not an error.
func (f LsofFinder) ListenerPIDs(port int) ([]int, error) {
	binary := f.Binary
	if binary == "" {
		binary = "lsof"
	}
	out, err := exec.Command(binary, "-t", "-nP", fmt.Sprintf("-iTCP:%d", port), "-sTCP:LISTEN").Output()
	if err != nil {
		// lsof exits 1 when nothing matches.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && len(bytes.TrimSpace(out)) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("lsof port %d: %w", port, err)
	}
	return parsePIDs(string(out), os.Getpid()), nil
}

// Terminate sends SIGTERM to pid.
func (LsofFinder) Terminate(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGTERM)
}

// parsePIDs parses one PID per line, skipping self, duplicates and junk.
func parsePIDs(out string, self int) []int {
	var pids []int
	seen := make(map[int]bool)
	for _, line := range strings.Split(out, "\n") {
		pid, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || pid <= 0 || pid == self || seen[pid] {
			continue
		}
		seen[pid] = true
		pids = append(pids, pid)
	}
	return pids
}
