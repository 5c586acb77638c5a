//go:build windows

package main

import (
	"fmt"

	"golang.org/x/sys/windows/svc"
)

// isWindowsService reports whether the process was started by the Service
// Control Manager. Must be called before any console I/O.
func isWindowsService() bool {
	ok, err := svc.IsWindowsService()
	if err != nil {
		return false
	}
	return ok
}

// panelService implements svc.Handler.
type panelService struct {
	startFn func() (*panelComponents, error)
}

// runAsService runs the monitor under the SCM until it is asked to stop.
func runAsService(startFn func() (*panelComponents, error)) error {
	return svc.Run(windowsServiceName, &panelService{startFn: startFn})
}

func (s *panelService) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	const accepted = svc.AcceptStop | svc.AcceptShutdown

	changes <- svc.Status{State: svc.StartPending}

	comps, err := s.startFn()
	if err != nil {
		log.Error("panel start failed", "error", err)
		changes <- svc.Status{State: svc.StopPending}
		return true, 1
	}

	changes <- svc.Status{State: svc.Running, Accepts: accepted}
	log.Info("running as Windows service")

	for {
		select {
		case cr := <-r:
			switch cr.Cmd {
			case svc.Interrogate:
				changes <- cr.CurrentStatus
			case svc.Stop, svc.Shutdown:
				log.Info("SCM requested stop")
				changes <- svc.Status{State: svc.StopPending}
				shutdownPanel(comps)
				return false, 0
			default:
				log.Warn(fmt.Sprintf("unexpected SCM control request #%d", cr.Cmd))
			}
		case err := <-comps.loopErr:
			changes <- svc.Status{State: svc.StopPending}
			shutdownPanel(comps)
			if err != nil {
				log.Error("panel loop failed", "error", err)
				return true, 1
			}
			return false, 0
		}
	}
}
