//go:build !windows

package main

import "fmt"

func isWindowsService() bool { return false }

func runAsService(_ func() (*panelComponents, error)) error {
	return fmt.Errorf("Windows service mode is not available on this platform")
}
