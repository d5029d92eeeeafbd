package sci

import (
	"time"

	"golang.org/x/sys/unix"
)

// settleDelay is the "let potential error messages settle" pause from
// sci/main.rs::do_reboot, preserved per spec §9's first Open Question:
// a debugging affordance, not a correctness requirement, so it only runs
// when debug is on and the preceding step did not succeed.
const settleDelay = 10 * time.Millisecond

// Reboot issues reboot(2) on the running kernel, following
// sci/main.rs::do_reboot. ok reports whether the command that just ran
// succeeded; debug gates the settle-delay documented above.
func Reboot(ok, debug bool) error {
	if !ok && debug {
		time.Sleep(settleDelay)
	}
	return unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART)
}
