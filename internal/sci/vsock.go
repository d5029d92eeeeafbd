// Package sci — vsock request/response server (spec §4.8 "Vsock
// request/response"). Grounded in sci/main.rs's VsockListener::bind_with_cid_port
// main loop.
package sci

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/mdlayher/vsock"

	"github.com/flakepilot/pilot/internal/flakedefaults"
	"github.com/flakepilot/pilot/lib/logger"
)

// Payload is one parsed vsock command request: "<cmd...> <exec_port>\n".
type Payload struct {
	Argv     []string
	ExecPort uint32
}

// ParsePayload splits a raw command request on ASCII space, treating the
// last whitespace-separated token as the decimal exec port and everything
// before it as the command argv (spec §8 "Protocol parsing"). An empty or
// all-whitespace payload is a handshake probe: ok is false and callers
// should simply continue their accept loop.
func ParsePayload(raw string) (p Payload, ok bool) {
	trimmed := strings.TrimRight(raw, " \t\r\n")
	if trimmed == "" {
		return Payload{}, false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return Payload{}, false
	}
	last := fields[len(fields)-1]
	port, err := strconv.ParseUint(last, 10, 32)
	if err != nil {
		return Payload{}, false
	}
	return Payload{Argv: fields[:len(fields)-1], ExecPort: uint32(port)}, true
}

// ServeVsock binds the guest vsock listener on the well-known port and
// serves the command request/response loop. Accept errors are logged and
// the loop continues; ctx cancellation is noticed only when Accept returns
// an error. Each accepted connection carries exactly one command payload,
// read up to its terminating newline or EOF (spec §4.8); an empty payload
// is a handshake probe and is ignored. Non-empty payloads spawn a goroutine that dials back to
// the host on ExecPort and runs the command, mirroring sci/main.rs's
// thread::spawn(move || ...) per accepted connection.
func ServeVsock(ctx context.Context) error {
	log := logger.FromContext(ctx)
	ln, err := vsock.Listen(flakedefaults.VMPort)
	if err != nil {
		return err
	}
	defer ln.Close()

	log.InfoContext(ctx, "init", "msg", "vsock listener bound", "port", flakedefaults.VMPort)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			log.WarnContext(ctx, "init", "msg", "accept failed", "err", err)
			continue
		}
		go handleRequest(ctx, conn)
	}
}

func handleRequest(ctx context.Context, conn net.Conn) {
	log := logger.FromContext(ctx)
	defer conn.Close()

	// The host keeps the connection open after sending its line, so read
	// one line rather than waiting for EOF.
	raw, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && err != io.EOF {
		log.WarnContext(ctx, "init", "msg", "failed to read command payload", "err", err)
		return
	}

	payload, ok := ParsePayload(raw)
	if !ok {
		// Handshake probe from the host pilot's CONNECT check; nothing to do.
		return
	}

	log.DebugContext(ctx, "init", "msg", "dialing back for command", "argv", payload.Argv, "port", payload.ExecPort)
	stream, err := vsock.Dial(flakedefaults.HostCID, payload.ExecPort)
	if err != nil {
		log.WarnContext(ctx, "init", "msg", "vsock dial-back failed", "err", err)
		return
	}
	defer stream.Close()

	if err := RedirectCommand(payload.Argv, stream); err != nil {
		log.WarnContext(ctx, "init", "msg", "guest command failed", "argv", payload.Argv, "err", err)
	}
}
