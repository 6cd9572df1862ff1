package cmds

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-delve/dbgcheck/pkg/config"
	"github.com/go-delve/dbgcheck/pkg/launcher"
	"github.com/go-delve/dbgcheck/pkg/logflags"
	"github.com/go-delve/dbgcheck/pkg/suite"
	"github.com/go-delve/dbgcheck/pkg/terminal"
	"github.com/go-delve/dbgcheck/pkg/verify"
	"github.com/go-delve/dbgcheck/pkg/version"
	"github.com/go-delve/dbgcheck/service"
	"github.com/go-delve/dbgcheck/service/dap"
	"github.com/go-delve/dbgcheck/service/rpc2"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string

	// backend selection, overrides the config file.
	backend string
	// adapter is the command line of the DAP adapter, overrides the config file.
	adapter string
	// connectAddr is the address of an already running debugger.
	connectAddr string
	noColor     bool

	// runFilters selects the cases to run by name prefix.
	runFilters []string
	// verbose makes 'version' print the build information.
	verbose bool

	conf *config.Config
)

const dbgcheckCommandLongDesc = `dbgcheck verifies the debug information of a program by driving a debugger.

A suite names the program to debug and a list of cases. The program calls a
break helper function at every checkpoint, for each case dbgcheck resumes the
program, inspects the frame that called the helper and compares the value
rendered for each accessor with the expected string.

Pass arguments to the program being debugged using ` + "`--`" + `, for example:

` + "`dbgcheck run wasm-debugging.yml -- --verbose`" + `

Exit status is 100 when every case passed, 1 when a case failed and 2 when
the suite or the debugger could not be set up.`

// New returns an initialized command tree.
func New() *cobra.Command {
	conf = config.LoadConfig()

	rootCommand := &cobra.Command{
		Use:   "dbgcheck",
		Short: "dbgcheck verifies debug information through a debugger.",
		Long:  dbgcheckCommandLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'dbgcheck help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'dbgcheck help log').")
	rootCommand.PersistentFlags().StringVar(&backend, "backend", "", `Backend selection (see 'dbgcheck help backend').`)
	rootCommand.PersistentFlags().StringVar(&adapter, "adapter", "", "Command line starting the DAP adapter.")
	rootCommand.PersistentFlags().StringVar(&connectAddr, "connect", "", "Connect to a debugger already listening at this address instead of starting one.")
	rootCommand.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colors in the report.")

	// 'run' subcommand.
	runCommand := &cobra.Command{
		Use:   "run <suite> [-- args]",
		Short: "Run a suite.",
		Long: `Runs every case of a suite and reports the outcome of each.

The suite is a YAML file or, with the .star extension, a Starlark script.
Suites that are not found relative to the current directory are searched
in the suite-directories of the configuration file.`,
		Args: cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(runSuite(cmd, args))
		},
	}
	runCommand.Flags().StringArrayVar(&runFilters, "run", nil, "Only run the cases whose name starts with this prefix, can be repeated.")
	rootCommand.AddCommand(runCommand)

	// 'list' subcommand.
	rootCommand.AddCommand(&cobra.Command{
		Use:   "list <suite>",
		Short: "List the cases of a suite.",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(listSuite(args[0]))
		},
	})

	// 'explore' subcommand.
	rootCommand.AddCommand(&cobra.Command{
		Use:   "explore <suite> [-- args]",
		Short: "Set up a suite and open a prompt on the stopped target.",
		Long: `Sets up the target of a suite like 'run' does, then opens a prompt instead
of running the cases. The prompt resumes the target to the next call of the
break helper and prints the values of variable paths and expressions, in the
form they take in a suite.`,
		Args: cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(exploreSuite(cmd, args))
		},
	})

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dbgcheck\n%s\n", version.DbgcheckVersion)
			if verbose {
				fmt.Printf("%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "backend",
		Short: "Help about the --backend flag.",
		Long: `The --backend flag specifies which debugger drives the target, possible
values are:

	dap	Starts the DAP adapter (lldb-dap by default, see --adapter)
		and talks to it over its standard streams.
	rpc	Starts delve in headless mode and talks to it with the
		JSON-RPC API version 2.

The default comes from the backend option of the configuration file, dap
when it is not set. With --connect no debugger is started, dbgcheck
connects to the given address using the selected protocol.

`})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	driver		Log the progress of the verification driver
	dap		Log all DAP messages
	rpc		Log all RPC messages
	launcher	Log the output of the debugger and of the target
	suite		Log suite loading

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.

`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func splitArgs(cmd *cobra.Command, args []string) ([]string, []string) {
	if cmd.ArgsLenAtDash() >= 0 {
		return args[:cmd.ArgsLenAtDash()], args[cmd.ArgsLenAtDash():]
	}
	return args, []string{}
}

// findSuite returns the path of the suite named name: name itself if it
// exists, otherwise the first match in the configured suite directories.
func findSuite(name string) (string, error) {
	if _, err := os.Stat(name); err == nil || filepath.IsAbs(name) {
		return name, nil
	}
	for _, dir := range conf.SuiteDirectories {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("suite %s not found", name)
}

// loadSuite loads the suite named by the positional arguments of cmd and
// applies the target arguments following "--".
func loadSuite(cmd *cobra.Command, args []string) (*suite.Suite, error) {
	suiteArgs, targetArgs := splitArgs(cmd, args)
	if len(suiteArgs) != 1 {
		return nil, errors.New("you must provide exactly one suite")
	}
	path, err := findSuite(suiteArgs[0])
	if err != nil {
		return nil, err
	}
	s, err := suite.Load(path)
	if err != nil {
		return nil, err
	}
	if len(targetArgs) > 0 {
		s.Target.Args = targetArgs
	}
	return s, nil
}

func runSuite(cmd *cobra.Command, args []string) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return verify.ExitSetupFailed
	}
	defer logflags.Close()

	s, err := loadSuite(cmd, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return verify.ExitSetupFailed
	}
	if len(runFilters) > 0 {
		if s, err = s.Filter(runFilters); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return verify.ExitSetupFailed
		}
	}

	sess, err := startSession(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not start debugger session: %v\n", err)
		return verify.ExitSetupFailed
	}
	return runAndClose(s, sess, terminal.NewOutput(conf.ColorEnabled() && !noColor))
}

// runAndClose runs s on sess. The report is flushed before the session
// is torn down.
func runAndClose(s *suite.Suite, sess *session, out *terminal.Output) int {
	res := verify.New(s, out.Reporter()).Run(sess)
	if err := out.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "could not write report: %v\n", err)
	}
	sess.close()
	return res.ExitCode
}

func listSuite(name string) int {
	path, err := findSuite(name)
	if err == nil {
		var s *suite.Suite
		if s, err = suite.Load(path); err == nil {
			for _, c := range s.Cases {
				if c.Skip != "" {
					fmt.Printf("%s (skipped: %s)\n", c.Name, c.Skip)
				} else {
					fmt.Println(c.Name)
				}
			}
			return 0
		}
	}
	fmt.Fprintf(os.Stderr, "%v\n", err)
	return verify.ExitSetupFailed
}

func exploreSuite(cmd *cobra.Command, args []string) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return verify.ExitSetupFailed
	}
	defer logflags.Close()

	s, err := loadSuite(cmd, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return verify.ExitSetupFailed
	}
	sess, err := startSession(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not start debugger session: %v\n", err)
		return verify.ExitSetupFailed
	}
	defer sess.close()

	out := terminal.NewOutput(false)
	if err := verify.New(s, out.Reporter()).Setup(sess); err != nil {
		fmt.Fprintf(os.Stderr, "%s debugging tests setup failed: %v\n", s.Name, err)
		return verify.ExitSetupFailed
	}
	if err := terminal.NewExplorer(sess, os.Stdout).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return 0
}

// session is a service.Session together with the processes and the
// terminal started for it.
type session struct {
	service.Session
	proc *launcher.Process
	tty  *launcher.TTY
}

// detachTimeout bounds the wait for the debugger to answer a detach.
var detachTimeout = 5 * time.Second

// close detaches from the target, killing it if dbgcheck started the
// debugger, then releases the debugger process and the terminal. A
// debugger that does not answer the detach is killed anyway.
func (s *session) close() {
	log := logflags.DriverLogger()
	done := make(chan error, 1)
	go func() {
		done <- s.Detach(s.proc != nil)
	}()
	select {
	case err := <-done:
		if err != nil {
			log.Warnf("detach: %v", err)
		}
	case <-time.After(detachTimeout):
		log.Warnf("debugger did not answer detach after %v", detachTimeout)
	}
	if s.proc != nil {
		if err := s.proc.Kill(); err != nil {
			log.Warnf("could not kill debugger: %v", err)
		}
	}
	if s.tty != nil {
		s.tty.Close()
	}
}

func selectedBackend() (string, error) {
	b := backend
	if b == "" {
		b = conf.GetBackend()
	}
	switch b {
	case "dap", "rpc":
		return b, nil
	}
	return "", fmt.Errorf("unknown backend %q, run 'dbgcheck help backend' for usage", b)
}

// startSession starts or connects to the debugger selected by the flags
// and the configuration, and launches the target of s under it stopped.
func startSession(s *suite.Suite) (*session, error) {
	b, err := selectedBackend()
	if err != nil {
		return nil, err
	}
	sess := &session{}
	if conf.TTY && connectAddr == "" {
		if sess.tty, err = launcher.OpenTTY(); err != nil {
			return nil, err
		}
	}
	fail := func(err error) (*session, error) {
		if sess.proc != nil {
			sess.proc.Kill()
		}
		if sess.tty != nil {
			sess.tty.Close()
		}
		return nil, err
	}

	switch b {
	case "dap":
		var client *dap.Client
		if connectAddr != "" {
			if client, err = dap.Dial(connectAddr); err != nil {
				return fail(err)
			}
		} else {
			adapterCmd := adapter
			if adapterCmd == "" {
				adapterCmd = conf.GetAdapter()
			}
			p, conn, err := launcher.StartDAP(adapterCmd)
			if err != nil {
				return fail(err)
			}
			sess.proc = p
			client = dap.NewClient(conn)
		}
		sess.Session = client
		if err := client.Launch(launchConfig(s, sess.tty)); err != nil {
			client.Detach(true)
			return fail(fmt.Errorf("could not launch %s: %w", s.Target.Program, err))
		}
	case "rpc":
		addr := connectAddr
		if addr == "" {
			opts := launcher.DelveOptions{
				Args:        s.Target.Args,
				Cwd:         s.Target.Cwd,
				DisableASLR: s.Setup.DisableASLR,
			}
			if sess.tty != nil {
				opts.TTY = sess.tty.Name()
			}
			p, listening, err := launcher.StartDelve(conf.GetDelve(), s.Target.Program, opts)
			if err != nil {
				return fail(err)
			}
			sess.proc, addr = p, listening
		}
		client, err := rpc2.NewClient(addr)
		if err != nil {
			return fail(err)
		}
		sess.Session = client
	}
	return sess, nil
}

// launchConfig returns the DAP launch arguments for the target of s. The
// lldb settings mirror the setup options of the suite; adapters other than
// lldb-dap ignore initCommands.
func launchConfig(s *suite.Suite, tty *launcher.TTY) dap.LaunchConfig {
	cfg := dap.LaunchConfig{
		Mode:        "exec",
		Program:     s.Target.Program,
		Args:        s.Target.Args,
		Cwd:         s.Target.Cwd,
		DisableASLR: s.Setup.DisableASLR,
		InitCommands: append([]string{
			fmt.Sprintf("settings set show-progress %t", s.Setup.ShowProgress),
			fmt.Sprintf("settings set target.disable-aslr %t", s.Setup.DisableASLR),
		}, s.Setup.InitCommands...),
	}
	if tty != nil {
		cfg.Stdio = []string{tty.Name(), tty.Name(), tty.Name()}
	}
	return cfg
}
