package build

import (
	"fmt"
	"os/exec"
)

// Preflight verifies that the commands the run will invoke are present
// on PATH before any workspace is provisioned. Each argv's first element
// is checked; empty argvs are rejected outright.
func Preflight(argvs ...[]string) error {
	seen := make(map[string]bool)
	for _, argv := range argvs {
		if len(argv) == 0 {
			return fmt.Errorf("command cannot be empty")
		}
		name := argv[0]
		if seen[name] {
			continue
		}
		seen[name] = true

		if _, err := exec.LookPath(name); err != nil {
			return fmt.Errorf("required tool %q not found on PATH: %w", name, err)
		}
	}
	return nil
}
