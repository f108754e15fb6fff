package deps

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
)

// Requirement names a program a stage needs, as written in the config.
type Requirement struct {
	Name    string
	Command string
}

// Status is the lookup result for one Requirement. Path holds the resolved
// executable when Available is true.
type Status struct {
	Requirement
	Path      string
	Available bool
	Detail    string
}

// CheckBinaries resolves each requirement in order.
func CheckBinaries(requirements []Requirement) []Status {
	out := make([]Status, len(requirements))
	for i, req := range requirements {
		out[i] = CheckBinary(req)
	}
	return out
}

// CheckBinary resolves req.Command through PATH, or directly when it
// contains a separator.
func CheckBinary(req Requirement) Status {
	req.Command = strings.TrimSpace(req.Command)
	status := Status{Requirement: req}
	if req.Command == "" {
		status.Detail = "command not configured"
		return status
	}

	path, err := exec.LookPath(req.Command)
	switch {
	case err == nil:
		status.Path = path
		status.Available = true
	case errors.Is(err, fs.ErrPermission):
		status.Detail = fmt.Sprintf("%s is not executable", req.Command)
	default:
		status.Detail = fmt.Sprintf("binary %q not found", req.Command)
	}
	return status
}
