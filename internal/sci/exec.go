package sci

import (
	"io"
	"net"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

// RedirectCommand starts the given command as a child process, connects its
// standard channels to stream, and pumps data between them until the child
// exits or stream reaches EOF. It prefers a pseudo-terminal (combined
// stdout+stderr on one master fd) and falls back to plain pipes (stdout,
// stderr, stdin as three descriptors) when PTY allocation fails, mirroring
// sci/main.rs::redirect_command's Fork::from_ptmx / raw-channel split. The
// Go translation uses one goroutine per descriptor feeding a shared
// completion channel instead of libc::select(), per spec §9's design note
// on select-loop portability.
func RedirectCommand(argv []string, stream net.Conn) error {
	if len(argv) == 0 {
		return nil
	}
	cmd := exec.Command(argv[0], argv[1:]...)

	master, err := pty.Start(cmd)
	if err != nil {
		return redirectRawChannels(cmd, stream)
	}
	defer master.Close()

	var once sync.Once
	stop := func() { once.Do(func() { _ = stream.Close(); _ = master.Close() }) }

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(stream, master)
		stop()
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(master, stream)
		stop()
		done <- struct{}{}
	}()
	<-done
	<-done
	return cmd.Wait()
}

// redirectRawChannels is the no-PTY fallback: stdout and stderr are each
// piped to the vsock stream, stdin is fed from it, matching
// sci/main.rs::redirect_command_to_raw_channels.
func redirectRawChannels(cmd *exec.Cmd, stream net.Conn) error {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	var once sync.Once
	stop := func() { once.Do(func() { _ = stream.Close() }) }

	done := make(chan struct{}, 3)
	go func() { _, _ = io.Copy(stream, stdout); stop(); done <- struct{}{} }()
	go func() { _, _ = io.Copy(stream, stderr); stop(); done <- struct{}{} }()
	go func() { _, _ = io.Copy(stdin, stream); stop(); done <- struct{}{} }()
	<-done
	<-done
	<-done
	_ = cmd.Process.Kill()
	return cmd.Wait()
}
