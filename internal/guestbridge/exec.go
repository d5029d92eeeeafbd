package guestbridge

import (
	"context"
	"os"

	"github.com/flakepilot/pilot/internal/flakedefaults"
	"github.com/flakepilot/pilot/lib/logger"
)

// ExecuteCommand drives one full exchange with an already-booted guest: pick
// a port, open the per-command listener, send the command on the main
// socket, accept the guest's callback connection, and pump stdio until the
// command finishes. Mirrors firecracker.rs::execute_command_at_instance.
func ExecuteCommand(ctx context.Context, sockPath string, argv []string, pid int, portOverride uint32) error {
	log := logger.FromContext(ctx)

	port := portOverride
	if port == 0 {
		port = flakedefaults.FirecrackerVsockPortStart + uint32(pid)
	}

	listener, cmdSockPath, err := ListenCommandSocket(sockPath, port)
	if err != nil {
		return err
	}
	defer listener.Close()
	defer os.Remove(cmdSockPath)

	conn, err := Handshake(sockPath, flakedefaults.VMPort)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := SendCommand(conn, argv, port); err != nil {
		return err
	}

	accepted, err := listener.Accept()
	if err != nil {
		return err
	}
	defer accepted.Close()

	log.DebugContext(ctx, "guestbridge", "msg", "guest connected back", "port", port)
	return PumpStdio(ctx, accepted, os.Stdin, os.Stdout, os.Stderr)
}
