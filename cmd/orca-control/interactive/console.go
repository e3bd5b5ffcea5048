// Package interactive provides the interactive tree console for
// orca-control.
package interactive

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"github.com/orca-control/orca-go/pkg/fleet"
	"github.com/orca-control/orca-go/pkg/tree"
	"gopkg.in/yaml.v3"
)

// Console runs get/set/ls commands against a fleet.
type Console struct {
	fleet *fleet.Fleet
	out   io.Writer
	rl    *readline.Instance
}

// New creates a console reading from the terminal.
func New(f *fleet.Fleet) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "orca> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    readline.NewPrefixCompleter(commandCompleters()...),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{fleet: f, out: rl.Stdout(), rl: rl}, nil
}

// NewWithOutput creates a console without a terminal. Commands are fed to
// Exec and results written to out.
func NewWithOutput(f *fleet.Fleet, out io.Writer) *Console {
	return &Console{fleet: f, out: out}
}

// Stdout returns a writer that coordinates with the prompt. Use it for log
// output while the console runs.
func (c *Console) Stdout() io.Writer {
	return c.out
}

// Run reads commands until quit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if !c.Exec(ctx, line) {
			cancel()
			return
		}
	}
}

// Exec runs one command line. It returns false when the console should
// exit.
func (c *Console) Exec(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}

	cmd, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(cmd) {
	case "help", "?":
		c.printHelp()

	case "get", "g":
		c.cmdGet(rest)

	case "set", "s":
		c.cmdSet(ctx, rest)

	case "ls", "l":
		c.cmdList(rest)

	case "cameras", "cams":
		c.cmdCameras()

	case "reconnect":
		c.cmdReconnect(ctx, rest)

	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return false

	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
ORCA Control Commands:
  Tree:
    get [path]                 - Read a value or a whole branch
    set <path> <value>         - Write a value (YAML syntax: 10, true, {a: 1})
    ls [path]                  - List the children of a branch

  Cameras:
    cameras                    - Show every camera's connection and poll state
    reconnect [camera]         - Reconnect one camera, or all of them

  General:
    help                       - Show this help
    quit                       - Exit

  Path Format:
    cameras/<name>/config/<key> - e.g., cameras/cam_a/config/exposure_time`)
}

func (c *Console) cmdGet(path string) {
	v, err := c.fleet.Get(path)
	if err != nil {
		c.printError(err)
		return
	}
	out, err := yaml.Marshal(v)
	if err != nil {
		fmt.Fprintf(c.out, "%v\n", v)
		return
	}
	fmt.Fprint(c.out, string(out))
}

func (c *Console) cmdSet(ctx context.Context, args string) {
	path, raw, ok := strings.Cut(args, " ")
	raw = strings.TrimSpace(raw)
	if !ok || path == "" || raw == "" {
		fmt.Fprintln(c.out, "Usage: set <path> <value>")
		return
	}

	value, err := ParseValue(raw)
	if err != nil {
		fmt.Fprintf(c.out, "Invalid value: %v\n", err)
		return
	}
	if err := c.fleet.Set(ctx, path, value); err != nil {
		c.printError(err)
		return
	}
	fmt.Fprintln(c.out, "OK")
}

func (c *Console) cmdList(path string) {
	root, err := c.fleet.Root()
	if err != nil {
		c.printError(err)
		return
	}
	node, err := root.Resolve(path)
	if err != nil {
		c.printError(err)
		return
	}
	if node.Kind() != tree.KindBranch {
		fmt.Fprintf(c.out, "%s (%s)\n", path, describe(node))
		return
	}
	for _, name := range node.Names() {
		child, _ := node.Child(name)
		fmt.Fprintf(c.out, "  %-24s %s\n", name, describe(child))
	}
}

func (c *Console) cmdCameras() {
	names := c.fleet.Names()
	fmt.Fprintf(c.out, "\nCameras (%d):\n", len(names))
	fmt.Fprintln(c.out, "-------------------------------------------")
	for _, name := range names {
		cam, ok := c.fleet.Camera(name)
		if !ok {
			continue
		}
		fmt.Fprintf(c.out, "  %s\n", name)
		fmt.Fprintf(c.out, "      Endpoint:  %s\n", cam.Endpoint())
		fmt.Fprintf(c.out, "      Connected: %v\n", cam.Connected())
		fmt.Fprintf(c.out, "      Failures:  %d\n", cam.Failures())
		fmt.Fprintf(c.out, "      Polling:   %s (every %s)\n", cam.PollState(), cam.PollInterval())
	}
}

func (c *Console) cmdReconnect(ctx context.Context, name string) {
	if name == "" {
		if err := c.fleet.Reconnect(ctx); err != nil {
			c.printError(err)
			return
		}
		fmt.Fprintln(c.out, "All cameras reconnected")
		return
	}

	cam, ok := c.fleet.Camera(name)
	if !ok {
		fmt.Fprintf(c.out, "Unknown camera: %s\n", name)
		return
	}
	if err := cam.Reconnect(ctx); err != nil {
		c.printError(err)
		return
	}
	fmt.Fprintf(c.out, "Camera %s reconnected\n", name)
}

func (c *Console) printError(err error) {
	fmt.Fprintf(c.out, "Error [%s]: %v\n", fleet.Kind(err), err)
}

// ParseValue decodes a console argument as a YAML scalar or flow
// collection.
func ParseValue(raw string) (any, error) {
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func describe(n *tree.Node) string {
	switch {
	case n.Kind() == tree.KindBranch:
		return fmt.Sprintf("branch, %d entries", n.Len())
	case n.Kind() == tree.KindConstant:
		return "constant"
	case n.Readable() && n.Writable():
		return "read/write"
	case n.Writable():
		return "write-only"
	default:
		return "read-only"
	}
}

func commandCompleters() []readline.PrefixCompleterInterface {
	cmds := []string{"help", "get", "set", "ls", "cameras", "reconnect", "quit"}
	sort.Strings(cmds)
	items := make([]readline.PrefixCompleterInterface, len(cmds))
	for i, cmd := range cmds {
		items[i] = readline.PcItem(cmd)
	}
	return items
}
