package collectors

import (
	"context"
	"errors"
	"os/exec"
)

// runTool runs an OS tool and returns its stdout. A non-zero exit still
// yields whatever was written to stdout, because quser exits 1 when it
// finds no sessions.
func runTool(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	hideWindow(cmd)

	out, err := cmd.Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && len(out) > 0 {
		return out, nil
	}
	return out, err
}
