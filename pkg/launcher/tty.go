package launcher

import (
	"os"

	"github.com/creack/pty"

	"github.com/go-delve/dbgcheck/pkg/logflags"
)

// TTY is a pseudo terminal for the target. Everything the target writes to
// it goes to the launcher log, keeping the report output readable.
type TTY struct {
	master, slave *os.File
	done          chan struct{}
}

// OpenTTY allocates a pseudo terminal and starts draining it.
func OpenTTY() (*TTY, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, err
	}
	t := &TTY{master: master, slave: slave, done: make(chan struct{})}
	go func() {
		logLines(master, logflags.LauncherLogger(), "target")
		close(t.done)
	}()
	return t, nil
}

// Name is the path of the terminal device the target should use.
func (t *TTY) Name() string {
	return t.slave.Name()
}

// Close releases the terminal. Output not yet drained is lost.
func (t *TTY) Close() error {
	err := t.slave.Close()
	if merr := t.master.Close(); err == nil {
		err = merr
	}
	<-t.done
	return err
}
