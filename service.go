package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kardianos/service"

	"ai_workspace/core"
)

// serviceStopTimeout bounds how long Stop waits for run to return.
const serviceStopTimeout = 45 * time.Second

// Program adapts run to the service.Interface lifecycle used by
// systemd, launchd and the Windows service manager.
type Program struct {
	stop     chan struct{}
	exit     chan struct{}
	exitCode int
}

// Start is called when the service is started. It must not block.
func (p *Program) Start(s service.Service) error {
	p.stop = make(chan struct{})
	p.exit = make(chan struct{})
	go func() {
		defer close(p.exit)
		p.exitCode = run(p.stop)
	}()
	return nil
}

// Stop signals run to shut down and waits for it to finish.
func (p *Program) Stop(s service.Service) error {
	close(p.stop)
	select {
	case <-p.exit:
	case <-time.After(serviceStopTimeout):
		return fmt.Errorf("timeout waiting for service to stop")
	}
	if p.exitCode != core.ExitCodeSuccess {
		return fmt.Errorf("service exited with %s", core.ExitCodeName(p.exitCode))
	}
	return nil
}

// ServiceConfig returns the service definition. The working directory is
// the one the command was run from so config.yaml and .env resolve the
// same way as in the foreground.
func ServiceConfig() *service.Config {
	wd, _ := os.Getwd()
	return &service.Config{
		Name:             "ai-workspace",
		DisplayName:      "AI Workspace",
		Description:      "Image, vision and chat generation backend with streaming progress",
		Arguments:        []string{"run"},
		WorkingDirectory: wd,
		Option: service.KeyValue{
			"StartType": "automatic",
			"Restart":   "on-failure",
		},
	}
}

func newService() (service.Service, error) {
	s, err := service.New(&Program{}, ServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return s, nil
}

// PrintServiceUsage prints the help/usage information for service commands.
func PrintServiceUsage(w io.Writer) {
	fmt.Fprintln(w, "AI Workspace")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: ai_workspace [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  install    Install as a system service")
	fmt.Fprintln(w, "  uninstall  Remove the system service (alias: remove)")
	fmt.Fprintln(w, "  start      Start the installed service")
	fmt.Fprintln(w, "  stop       Stop the installed service")
	fmt.Fprintln(w, "  restart    Restart the installed service")
	fmt.Fprintln(w, "  status     Show the service status")
	fmt.Fprintln(w, "  run        Run under the service manager (used by the installed unit)")
	fmt.Fprintln(w, "  version    Print version information")
	fmt.Fprintln(w, "  help       Show this help message")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run without arguments to start in the foreground.")
}

// HandleServiceCommand handles service-related command-line arguments.
// It returns whether a command was handled and the exit code to use.
func HandleServiceCommand(args []string) (bool, int) {
	if len(args) < 2 {
		return false, core.ExitCodeSuccess
	}

	switch args[1] {
	case "help", "-h", "--help", "-help":
		PrintServiceUsage(os.Stdout)
		return true, core.ExitCodeSuccess
	case "version", "--version":
		fmt.Println(core.GetVersionInfo().String())
		return true, core.ExitCodeSuccess
	case "install", "uninstall", "remove", "start", "stop", "restart", "status", "run":
	default:
		return false, core.ExitCodeSuccess
	}

	s, err := newService()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return true, core.ExitCodeError
	}
	return true, controlService(s, args[1], os.Stdout)
}

// controlService performs a single service action against s.
func controlService(s service.Service, action string, w io.Writer) int {
	var err error
	switch action {
	case "run":
		err = s.Run()
	case "install":
		err = s.Install()
	case "uninstall", "remove":
		err = s.Uninstall()
	case "start":
		err = s.Start()
	case "stop":
		err = s.Stop()
	case "restart":
		err = s.Restart()
	case "status":
		status, statusErr := s.Status()
		if statusErr != nil {
			err = statusErr
			break
		}
		fmt.Fprintln(w, describeStatus(status))
		return core.ExitCodeSuccess
	default:
		err = fmt.Errorf("unknown service action %q", action)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to %s service: %v\n", action, err)
		return core.ExitCodeError
	}
	if action != "run" {
		fmt.Fprintf(w, "Service %s: ok\n", action)
	}
	return core.ExitCodeSuccess
}

func describeStatus(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "Service is running"
	case service.StatusStopped:
		return "Service is stopped"
	default:
		return "Service status unknown"
	}
}
