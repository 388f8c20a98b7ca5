// Package interactive provides the interactive command-line interface
// for the VXI-11 instrument server.
package interactive

import (
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"github.com/vxi11-protocol/vxi11-go/pkg/address"
	"github.com/vxi11-protocol/vxi11-go/pkg/device"
)

// Server is the part of device.Server the shell drives.
type Server interface {
	Devices() []string
	LinkCount() int
	State() device.ServerState
	CoreAddr() net.Addr
	AbortAddr() net.Addr
	PortmapAddr() net.Addr
	RequestService(name string) bool
}

// Device handles interactive mode for vxi11-device.
type Device struct {
	srv    Server
	rl     *readline.Instance
	cancel context.CancelFunc
}

// New creates a new interactive shell. cancel is called when the user
// quits.
func New(cancel context.CancelFunc) (*Device, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "device> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Device{rl: rl, cancel: cancel}, nil
}

// Attach sets the server the commands act on.
func (d *Device) Attach(srv Server) {
	d.srv = srv
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (d *Device) Stdout() io.Writer {
	return d.rl.Stdout()
}

// Stderr returns a writer that properly coordinates with the readline input.
func (d *Device) Stderr() io.Writer {
	return d.rl.Stderr()
}

// Run starts the interactive command loop. It returns when the user quits
// or ctx is done.
func (d *Device) Run(ctx context.Context) {
	defer d.rl.Close()

	stop := context.AfterFunc(ctx, func() { d.rl.Close() })
	defer stop()

	out := d.rl.Stdout()
	printHelp(out)

	for {
		line, err := d.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			if ctx.Err() == nil {
				fmt.Fprintln(out, "Exiting...")
			}
			d.cancel()
			return
		}

		if !Exec(out, d.srv, line) {
			fmt.Fprintln(out, "Exiting...")
			d.cancel()
			return
		}
	}
}

// Exec runs one command line against srv. It returns false when the line
// asks to quit.
func Exec(w io.Writer, srv Server, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		printHelp(w)

	case "status", "s":
		cmdStatus(w, srv)

	case "devices", "d":
		cmdDevices(w, srv)

	case "srq":
		cmdSrq(w, srv, args)

	case "quit", "exit", "q":
		return false

	default:
		fmt.Fprintf(w, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func printHelp(w io.Writer) {
	fmt.Fprint(w, `
Commands:
  status, s          Show server state and listen addresses
  devices, d         List served devices
  srq <device>       Raise a service request on a device
  help, ?            Show this help
  quit, exit, q      Stop the server
`)
}

func cmdStatus(w io.Writer, srv Server) {
	fmt.Fprintf(w, "State:     %s\n", srv.State())
	if addr := srv.CoreAddr(); addr != nil {
		fmt.Fprintf(w, "Core:      %s\n", addr)
	}
	if addr := srv.AbortAddr(); addr != nil {
		fmt.Fprintf(w, "Abort:     %s\n", addr)
	}
	if addr := srv.PortmapAddr(); addr != nil {
		fmt.Fprintf(w, "Portmap:   %s\n", addr)
	}
	fmt.Fprintf(w, "Links:     %d\n", srv.LinkCount())
}

func cmdDevices(w io.Writer, srv Server) {
	names := srv.Devices()
	sort.Strings(names)
	if len(names) == 0 {
		fmt.Fprintln(w, "No devices")
		return
	}
	for _, name := range names {
		fmt.Fprintf(w, "  %s\n", name)
	}
}

func cmdSrq(w io.Writer, srv Server, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(w, "Usage: srq <device>")
		return
	}
	dn, err := address.ParseDeviceName(args[0])
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	if !srv.RequestService(dn.String()) {
		fmt.Fprintf(w, "Error: no device %s\n", dn)
		return
	}
	fmt.Fprintf(w, "Service request raised on %s\n", dn)
}
