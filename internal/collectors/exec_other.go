//go:build !windows

package collectors

import "os/exec"

func hideWindow(cmd *exec.Cmd) {}
