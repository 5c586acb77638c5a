//go:build windows

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

const windowsServiceName = "SessionPanel"

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the session-panel Windows service",
}

func init() {
	rootCmd.AddCommand(serviceCmd)
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
	serviceCmd.AddCommand(serviceStartCmd)
	serviceCmd.AddCommand(serviceStopCmd)
}

func openService() (*mgr.Mgr, *mgr.Service, error) {
	m, err := mgr.Connect()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to SCM (run as Administrator): %w", err)
	}
	s, err := m.OpenService(windowsServiceName)
	if err != nil {
		m.Disconnect()
		return nil, nil, fmt.Errorf("failed to open service: %w", err)
	}
	return m, s, nil
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install session-panel as a Windows service",
	RunE: func(cmd *cobra.Command, args []string) error {
		exePath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to determine executable path: %w", err)
		}

		m, err := mgr.Connect()
		if err != nil {
			return fmt.Errorf("failed to connect to SCM (run as Administrator): %w", err)
		}
		defer m.Disconnect()

		runArgs := []string{"run"}
		if cfgFile != "" {
			abs, err := filepath.Abs(cfgFile)
			if err != nil {
				return fmt.Errorf("resolve config path: %w", err)
			}
			runArgs = append(runArgs, "--config", abs)
		}

		s, err := m.CreateService(windowsServiceName, exePath, mgr.Config{
			DisplayName:  "RDP Session Panel",
			Description:  "Mirrors RDP session activity into a Discord panel",
			StartType:    mgr.StartAutomatic,
			ErrorControl: mgr.ErrorNormal,
		}, runArgs...)
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer s.Close()

		err = s.SetRecoveryActions([]mgr.RecoveryAction{
			{Type: mgr.ServiceRestart, Delay: 5 * time.Second},
			{Type: mgr.ServiceRestart, Delay: 30 * time.Second},
			{Type: mgr.ServiceRestart, Delay: 2 * time.Minute},
		}, 86400)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to set recovery actions: %v\n", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Service %q installed.\n", windowsServiceName)
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the Windows service",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, s, err := openService()
		if err != nil {
			return err
		}
		defer m.Disconnect()
		defer s.Close()

		status, err := s.Query()
		if err == nil && status.State != svc.Stopped {
			_, _ = s.Control(svc.Stop)
			deadline := time.Now().Add(stopTimeout)
			for time.Now().Before(deadline) {
				st, qErr := s.Query()
				if qErr != nil || st.State == svc.Stopped {
					break
				}
				time.Sleep(500 * time.Millisecond)
			}
		}

		if err := s.Delete(); err != nil {
			return fmt.Errorf("failed to delete service: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Service %q uninstalled.\n", windowsServiceName)
		return nil
	},
}

var serviceStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Windows service",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, s, err := openService()
		if err != nil {
			return err
		}
		defer m.Disconnect()
		defer s.Close()

		if err := s.Start(); err != nil {
			return fmt.Errorf("failed to start service: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Service %q started.\n", windowsServiceName)
		return nil
	},
}

var serviceStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the Windows service",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, s, err := openService()
		if err != nil {
			return err
		}
		defer m.Disconnect()
		defer s.Close()

		if _, err := s.Control(svc.Stop); err != nil {
			return fmt.Errorf("failed to stop service: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Service %q stop requested.\n", windowsServiceName)
		return nil
	},
}
