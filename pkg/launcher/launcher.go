// Package launcher starts the debugger backends dbgcheck talks to: a Debug
// Adapter Protocol server speaking over its stdio, or a headless delve
// instance serving JSON-RPC on a TCP port.
//
// Backends run in their own process group, Kill terminates the backend and
// everything it spawned, including the target.
package launcher

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/cosiner/argv"

	"github.com/go-delve/dbgcheck/pkg/logflags"
)

// ErrEmptyCommand is returned when a backend command line is empty.
var ErrEmptyCommand = errors.New("empty command line")

const delveListeningPrefix = "API server listening at: "

// ParseCommand splits cmdline into program and arguments, honoring quotes.
// Backticks and pipes are rejected.
func ParseCommand(cmdline string) ([]string, error) {
	v, err := argv.Argv(cmdline,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal command line '%s'", cmdline)
	}
	if len(v[0]) == 0 {
		return nil, ErrEmptyCommand
	}
	return v[0], nil
}

// Process is a running backend.
type Process struct {
	cmd  *exec.Cmd
	log  logflags.Logger
	done chan struct{}
	err  error
}

// start starts cmd in a new process group. The files in childEnds are
// the child's side of pipes, they are closed once the child has started.
func start(cmd *exec.Cmd, childEnds ...*os.File) (*Process, error) {
	cmd.SysProcAttr = sysProcAttr()
	err := cmd.Start()
	for _, f := range childEnds {
		f.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("could not start %s: %w", cmd.Path, err)
	}
	log := logflags.LauncherLogger().WithField("pid", cmd.Process.Pid)
	log.Debugf("started %s", strings.Join(cmd.Args, " "))
	p := &Process{cmd: cmd, log: log, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		log.Debugf("%s exited: %v", cmd.Path, p.err)
		close(p.done)
	}()
	return p, nil
}

// Pid returns the process id of the backend.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Kill terminates the backend process group and waits for the backend to
// exit.
func (p *Process) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := killGroup(p.cmd.Process.Pid); err != nil {
		p.log.Debugf("could not kill process group %d: %v", p.cmd.Process.Pid, err)
		if err := p.cmd.Process.Kill(); err != nil {
			return err
		}
	}
	<-p.done
	return nil
}

// Exited returns a channel closed when the backend exits.
func (p *Process) Exited() <-chan struct{} {
	return p.done
}

// stdioConn is the stdio of a child process seen as a connection.
type stdioConn struct {
	io.ReadCloser
	stdin io.WriteCloser
}

func (c *stdioConn) Write(b []byte) (int, error) {
	return c.stdin.Write(b)
}

func (c *stdioConn) Close() error {
	err := c.stdin.Close()
	if rerr := c.ReadCloser.Close(); err == nil {
		err = rerr
	}
	return err
}

// StartDAP starts the adapter described by cmdline, for example
// "lldb-dap" or "dlv dap". The adapter's stdin and stdout are returned as
// a connection, its stderr goes to the launcher log.
func StartDAP(cmdline string) (*Process, io.ReadWriteCloser, error) {
	args, err := ParseCommand(cmdline)
	if err != nil {
		return nil, nil, err
	}
	cmd := exec.Command(args[0], args[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, err
	}
	// Wait closes the pipes created by StdoutPipe, os.Pipe keeps the
	// adapter output readable after it exits.
	stdout, stdoutw, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	stderr, stderrw, err := os.Pipe()
	if err != nil {
		stdout.Close()
		stdoutw.Close()
		return nil, nil, err
	}
	cmd.Stdout = stdoutw
	cmd.Stderr = stderrw
	p, err := start(cmd, stdoutw, stderrw)
	if err != nil {
		stdout.Close()
		stderr.Close()
		return nil, nil, err
	}
	go func() {
		logLines(stderr, p.log, "adapter")
		stderr.Close()
	}()
	return p, &stdioConn{ReadCloser: stdout, stdin: stdin}, nil
}

// DelveOptions configures StartDelve.
type DelveOptions struct {
	Args        []string
	Cwd         string
	DisableASLR bool
	// TTY, if not empty, is the terminal the target is attached to.
	TTY string
}

// DelveArgs returns the arguments StartDelve passes to dlv to debug program.
func DelveArgs(program string, opts DelveOptions) []string {
	args := []string{"exec", program, "--headless", "--api-version=2", "--listen=127.0.0.1:0"}
	if opts.Cwd != "" {
		args = append(args, "--wd="+opts.Cwd)
	}
	if opts.DisableASLR {
		args = append(args, "--disable-aslr")
	}
	if opts.TTY != "" {
		args = append(args, "--tty="+opts.TTY)
	}
	if len(opts.Args) > 0 {
		args = append(args, "--")
		args = append(args, opts.Args...)
	}
	return args
}

// StartDelve starts a headless delve instance debugging program and
// returns the address of its JSON-RPC server. dlvCommand may contain extra
// arguments, for example "dlv --log".
func StartDelve(dlvCommand, program string, opts DelveOptions) (*Process, string, error) {
	dlv, err := ParseCommand(dlvCommand)
	if err != nil {
		return nil, "", err
	}
	cmd := exec.Command(dlv[0], append(dlv[1:], DelveArgs(program, opts)...)...)
	cmd.Stderr = os.Stderr
	stdout, stdoutw, err := os.Pipe()
	if err != nil {
		return nil, "", err
	}
	cmd.Stdout = stdoutw
	p, err := start(cmd, stdoutw)
	if err != nil {
		stdout.Close()
		return nil, "", err
	}

	addrch := make(chan delveInit)
	go delveStdoutParser(stdout, addrch, p.log)
	init := <-addrch
	if init.err != nil {
		p.Kill()
		return nil, "", fmt.Errorf("delve did not start listening: %w", init.err)
	}
	p.log.Debugf("delve listening at %s", init.addr)
	return p, init.addr, nil
}

type delveInit struct {
	addr string
	err  error
}

func delveStdoutParser(stdout io.ReadCloser, initch chan<- delveInit, log logflags.Logger) {
	rd := bufio.NewReader(stdout)
	defer stdout.Close()

	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			initch <- delveInit{err: err}
			close(initch)
			return
		}
		if strings.HasPrefix(line, delveListeningPrefix) {
			initch <- delveInit{addr: strings.TrimSpace(line[len(delveListeningPrefix):])}
			close(initch)
			break
		}
		log.Debugf("delve: %s", strings.TrimRight(line, "\n"))
	}

	logLines(rd, log, "target")
}

// logLines copies r to log, one entry per line, until r is exhausted.
func logLines(r io.Reader, log logflags.Logger, prefix string) {
	s := bufio.NewScanner(r)
	for s.Scan() {
		log.Debugf("%s: %s", prefix, s.Text())
	}
}
