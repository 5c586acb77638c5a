package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/session-panel/internal/config"
	"github.com/breeze-rmm/session-panel/internal/logging"
)

var log = logging.L("main")

const (
	exitOK      = 0
	exitFatal   = 1
	exitConfig  = 2
	stopTimeout = 20 * time.Second
)

var (
	version = "0.1.0"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "session-panel",
	Short: "RDP session monitor for Discord",
	Long:  `session-panel mirrors the RDP sessions of this Windows host into a live Discord panel`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the monitor",
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runPanel())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "session-panel v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "dotenv or YAML config file (default is ./.env when present)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFatal)
	}
}

// exitCode maps a start-up error to the process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, config.ErrMissingRequired):
		return exitConfig
	default:
		return exitFatal
	}
}

func runPanel() int {
	cfg, closeLog, err := loadConfig(true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return exitCode(err)
	}
	defer closeLog.Close()

	if isWindowsService() {
		if err := runAsService(func() (*panelComponents, error) { return startPanel(cfg) }); err != nil {
			log.Error("service failed", logging.KeyError, err.Error())
			return exitFatal
		}
		return exitOK
	}

	log.Info("starting session panel", "version", version, "users", cfg.MonitorUsers, "pollSeconds", cfg.PollSeconds)
	comps, err := startPanel(cfg)
	if err != nil {
		log.Error("start failed", logging.KeyError, err.Error())
		return exitFatal
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	code := exitOK
	select {
	case sig := <-sigChan:
		log.Info("shutting down", "signal", sig.String())
	case err := <-comps.loopErr:
		if err != nil {
			log.Error("panel loop failed", logging.KeyError, err.Error())
			code = exitFatal
		}
	}
	shutdownPanel(comps)
	return code
}
