// Command sci is the guest-side init (C8): PID 1 inside every flake
// microVM. It mounts basic filesystems, optionally assembles an overlay
// root on the overlay block device, and either serves the vsock command loop (resume mode) or
// runs the one-shot command named by the kernel's run= parameter, then
// reboots. Grounded in firecracker-pilot/guestvm-tools/sci/src/main.rs.
package main

import (
	"context"
	"os"

	"github.com/flakepilot/pilot/internal/sci"
	"github.com/flakepilot/pilot/lib/logger"
)

func main() {
	cfg := logger.NewConfig()
	log := logger.NewSubsystemLogger(logger.SubsystemInit, cfg, nil)
	ctx := logger.AddToContext(context.Background(), log)

	if os.Getpid() != 1 {
		log.WarnContext(ctx, "init", "msg", "not running as pid 1, continuing anyway")
	}
	sci.Boot(ctx)
}
