package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/derekparker/trie"
	"github.com/go-delve/liner"

	"github.com/go-delve/dbgcheck/pkg/config"
	"github.com/go-delve/dbgcheck/service"
)

const historyFile string = ".dbgcheck_history"

// ErrExit is returned by Call when the user asks to leave the prompt.
var ErrExit = errors.New("exit requested")

type command struct {
	aliases []string
	args    string
	helpMsg string
	fn      func(e *Explorer, args string) error
}

// Explorer is an interactive prompt over a stopped session, used to find
// the accessors and renderings to put in a suite.
type Explorer struct {
	sess  service.Session
	out   io.Writer
	frame service.Frame

	cmds   []*command
	lookup *trie.Trie
}

// NewExplorer returns an Explorer over sess, which must be stopped.
func NewExplorer(sess service.Session, out io.Writer) *Explorer {
	e := &Explorer{sess: sess, out: out, lookup: trie.New()}
	e.cmds = []*command{
		{aliases: []string{"continue", "c"}, helpMsg: "Resume the target until the next stop.", fn: (*Explorer).cont},
		{aliases: []string{"path", "p"}, args: "<variable path>", helpMsg: "Look up a variable path in the current frame.", fn: (*Explorer).path},
		{aliases: []string{"expr", "e"}, args: "<expression>", helpMsg: "Evaluate an expression in the current frame.", fn: (*Explorer).expr},
		{aliases: []string{"frame", "f"}, helpMsg: "Print the current frame.", fn: (*Explorer).printFrame},
		{aliases: []string{"help", "h"}, helpMsg: "Print the list of commands.", fn: (*Explorer).help},
		{aliases: []string{"quit", "q", "exit"}, helpMsg: "Leave the prompt.", fn: func(*Explorer, string) error { return ErrExit }},
	}
	for _, cmd := range e.cmds {
		for _, alias := range cmd.aliases {
			e.lookup.Add(alias, cmd)
		}
	}
	return e
}

// find returns the command named name. Unambiguous prefixes of command
// names are accepted.
func (e *Explorer) find(name string) (*command, error) {
	if n, ok := e.lookup.Find(name); ok {
		return n.Meta().(*command), nil
	}
	var found *command
	for _, alias := range e.lookup.PrefixSearch(name) {
		n, _ := e.lookup.Find(alias)
		cmd := n.Meta().(*command)
		if found != nil && found != cmd {
			return nil, fmt.Errorf("ambiguous command %q", name)
		}
		found = cmd
	}
	if found == nil {
		return nil, fmt.Errorf("command not available: %s", name)
	}
	return found, nil
}

// Complete returns the command names starting with line.
func (e *Explorer) Complete(line string) []string {
	if strings.ContainsRune(line, ' ') {
		return nil
	}
	c := e.lookup.PrefixSearch(strings.ToLower(line))
	sort.Strings(c)
	return c
}

// Call executes a single command line.
func (e *Explorer) Call(cmdstr string) error {
	cmdstr = strings.TrimSpace(cmdstr)
	if cmdstr == "" {
		return nil
	}
	name, args := cmdstr, ""
	if i := strings.IndexAny(cmdstr, " \t"); i >= 0 {
		name, args = cmdstr[:i], strings.TrimSpace(cmdstr[i+1:])
	}
	cmd, err := e.find(name)
	if err != nil {
		return err
	}
	if cmd.args != "" && args == "" {
		return fmt.Errorf("%s: missing argument %s", cmd.aliases[0], cmd.args)
	}
	return cmd.fn(e, args)
}

// Run reads commands from the terminal until the user quits or input ends.
func (e *Explorer) Run() error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCompleter(e.Complete)

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err == nil {
		if f, err := os.Open(fullHistoryFile); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
		defer func() {
			if f, err := os.Create(fullHistoryFile); err == nil {
				line.WriteHistory(f)
				f.Close()
			}
		}()
	}

	if err := e.printFrame(""); err != nil {
		fmt.Fprintf(e.out, "Could not read current frame: %v\n", err)
	}
	fmt.Fprintln(e.out, "Type 'help' for list of commands.")
	for {
		cmdstr, err := line.Prompt("(dbgcheck) ")
		if err != nil {
			if err == io.EOF || err == liner.ErrPromptAborted {
				fmt.Fprintln(e.out, "exit")
				return nil
			}
			return fmt.Errorf("prompt for input failed: %w", err)
		}
		if strings.TrimSpace(cmdstr) != "" {
			line.AppendHistory(cmdstr)
		}
		if err := e.Call(cmdstr); err != nil {
			if err == ErrExit {
				return nil
			}
			fmt.Fprintf(e.out, "Command failed: %s\n", err)
		}
	}
}

func (e *Explorer) currentFrame() (service.Frame, error) {
	if e.frame == nil {
		f, err := e.sess.SelectedFrame()
		if err != nil {
			return nil, err
		}
		e.frame = f
	}
	return e.frame, nil
}

func (e *Explorer) cont(string) error {
	e.frame = nil
	st, err := e.sess.Continue()
	if err != nil {
		return err
	}
	if st.Exited {
		fmt.Fprintf(e.out, "Process exited with status %d\n", st.ExitStatus)
		return nil
	}
	return e.printFrame("")
}

func (e *Explorer) printFrame(string) error {
	f, err := e.currentFrame()
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Inspecting: %s\n", f)
	return nil
}

func (e *Explorer) path(args string) error {
	f, err := e.currentFrame()
	if err != nil {
		return err
	}
	v, err := f.ValueForVariablePath(args)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, v)
	fmt.Fprintf(e.out, "  assert: [%q, %q]\n", args, v.Value)
	return nil
}

func (e *Explorer) expr(args string) error {
	f, err := e.currentFrame()
	if err != nil {
		return err
	}
	v, err := f.EvaluateExpression(args)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, v)
	fmt.Fprintf(e.out, "  assert: [%q, %q] (lookup: expr)\n", args, v.Value)
	return nil
}

func (e *Explorer) help(string) error {
	fmt.Fprintln(e.out, "The following commands are available:")
	for _, cmd := range e.cmds {
		name := cmd.aliases[0]
		if cmd.args != "" {
			name += " " + cmd.args
		}
		aliases := ""
		if len(cmd.aliases) > 1 {
			aliases = " (alias: " + strings.Join(cmd.aliases[1:], " | ") + ")"
		}
		fmt.Fprintf(e.out, "    %-28s %s%s\n", name, cmd.helpMsg, aliases)
	}
	return nil
}
