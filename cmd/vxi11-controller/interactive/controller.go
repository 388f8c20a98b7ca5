// Package interactive provides the interactive command-line interface
// for the VXI-11 controller.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/vxi11-protocol/vxi11-go/pkg/discovery"
	"github.com/vxi11-protocol/vxi11-go/pkg/interrupt"
	"github.com/vxi11-protocol/vxi11-go/pkg/session"
)

// errNoSession is returned by instrument commands before connect.
var errNoSession = errors.New("not connected (use 'connect')")

// Controller holds the shell state: the session to the current instrument
// and the instruments found by the last discover.
type Controller struct {
	config  session.Config
	browser discovery.Browser

	mu         sync.Mutex
	sess       *session.Session
	discovered []*discovery.InstrumentService
	out        io.Writer
	srqs       int
}

// New returns a Controller that opens sessions with config. browser may
// be nil, disabling discover.
func New(config session.Config, browser discovery.Browser, out io.Writer) *Controller {
	if config.ClientIDs == nil {
		config.ClientIDs = session.NewClientIDGenerator(0)
	}
	return &Controller{config: config, browser: browser, out: out}
}

// Close closes the current session.
func (c *Controller) Close() error {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.Close()
}

// Session returns the current session, or nil.
func (c *Controller) Session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Run reads commands with readline until the user quits or ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "vxi11> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	stop := context.AfterFunc(ctx, func() { rl.Close() })
	defer stop()

	c.mu.Lock()
	c.out = rl.Stdout()
	c.mu.Unlock()

	c.printHelp()
	for {
		line, err := rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			return nil
		}
		if !c.Exec(ctx, line) {
			return nil
		}
	}
}

// Exec runs one command line. It returns false when the line asks to quit.
func (c *Controller) Exec(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	cmd, rest, _ := strings.Cut(line, " ")
	cmd = strings.ToLower(cmd)
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)

	var err error
	switch cmd {
	case "help", "?":
		c.printHelp()

	case "connect", "c":
		err = c.cmdConnect(ctx, args)

	case "disconnect":
		err = c.Close()

	case "write", "w":
		err = c.cmdWrite(ctx, rest)

	case "read", "r":
		err = c.cmdRead(ctx, args)

	case "query", "q":
		err = c.cmdQuery(ctx, rest)

	case "stb":
		err = c.cmdStb(ctx)

	case "trigger", "trg":
		err = c.simple(ctx, "Triggered", (*session.Session).Trigger)

	case "clear", "clr":
		err = c.simple(ctx, "Cleared", (*session.Session).Clear)

	case "remote":
		err = c.simple(ctx, "Remote", (*session.Session).Remote)

	case "local":
		err = c.simple(ctx, "Local", (*session.Session).Local)

	case "lock":
		err = c.simple(ctx, "Locked", (*session.Session).Lock)

	case "unlock":
		err = c.simple(ctx, "Unlocked", (*session.Session).Unlock)

	case "abort":
		err = c.simple(ctx, "Aborted", (*session.Session).Abort)

	case "srq":
		err = c.cmdSrq(ctx, args)

	case "timeout":
		err = c.cmdTimeout(args)

	case "discover", "d":
		err = c.cmdDiscover(ctx, args)

	case "status", "s":
		c.cmdStatus()

	case "quit", "exit":
		return false

	default:
		c.printf("Unknown command: %s (type 'help' for commands)\n", cmd)
	}

	if err != nil {
		c.printf("Error: %v\n", err)
	}
	return true
}

func (c *Controller) printf(format string, args ...any) {
	c.mu.Lock()
	out := c.out
	c.mu.Unlock()
	fmt.Fprintf(out, format, args...)
}

func (c *Controller) printHelp() {
	c.printf(`
Commands:
  connect <resource>           Connect, e.g. TCPIP::10.0.0.5::inst0::INSTR
  connect <host> [device]      Connect to a host (device defaults to inst0)
  connect #<n>                 Connect to the n-th discovered instrument
  disconnect                   Close the link
  write, w <message>           Send a message
  read, r [bytes]              Read one response
  query, q <message>           Send a message and read the response
  stb                          Read the status byte
  trigger, clear               Trigger or clear the device
  remote, local                Switch remote or local mode
  lock, unlock                 Take or release the device lock
  abort                        Abort the operation in progress
  srq on [tag] | off           Enable or disable service requests
  timeout [io|lock|transmit <duration>]
                               Show or set timeouts
  discover, d [seconds]        Browse for instruments over mDNS
  status, s                    Show the session state
  help, ?                      Show this help
  quit, exit                   Exit
`)
}

func (c *Controller) current() (*session.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil || !c.sess.Connected() {
		return nil, errNoSession
	}
	return c.sess, nil
}

func (c *Controller) cmdConnect(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: connect <resource> | <host> [device] | #<n>")
	}

	config := c.config
	var host, device, resource string
	switch {
	case strings.HasPrefix(args[0], "#"):
		n, err := strconv.Atoi(args[0][1:])
		c.mu.Lock()
		list := c.discovered
		c.mu.Unlock()
		if err != nil || n < 1 || n > len(list) {
			return fmt.Errorf("no discovered instrument %s", args[0])
		}
		svc := list[n-1]
		host, device = svc.Address(), svc.Device
		config.CorePort = int(svc.Port)
	case strings.Contains(args[0], "::"):
		resource = args[0]
	default:
		host = args[0]
		if len(args) > 1 {
			device = args[1]
		}
	}

	// Each connect gets a fresh session so a discovered port never leaks
	// into a later connect.
	if err := c.Close(); err != nil {
		c.printf("Warning: closing previous session: %v\n", err)
	}
	sess := session.New(config)
	var err error
	if resource != "" {
		err = sess.ConnectResource(ctx, resource, 0)
	} else {
		err = sess.Connect(ctx, host, device, 0)
	}
	if err != nil {
		_ = sess.Close()
		return err
	}

	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()

	link, _ := sess.Link()
	c.printf("Connected to %s %s (link %d, max_recv_size %d)\n", sess.Host(), sess.Device(), link, sess.MaxRecvSize())
	return nil
}

func (c *Controller) cmdWrite(ctx context.Context, msg string) error {
	sess, err := c.current()
	if err != nil {
		return err
	}
	if msg == "" {
		return errors.New("usage: write <message>")
	}
	n, err := sess.WriteString(ctx, unescape(msg))
	if err != nil {
		return err
	}
	c.printf("Wrote %d bytes\n", n)
	return nil
}

func (c *Controller) cmdRead(ctx context.Context, args []string) error {
	sess, err := c.current()
	if err != nil {
		return err
	}
	size := 0
	if len(args) > 0 {
		if size, err = strconv.Atoi(args[0]); err != nil || size < 0 {
			return fmt.Errorf("invalid byte count %q", args[0])
		}
	}
	data, err := sess.Read(ctx, size)
	if len(data) > 0 {
		c.printResponse(string(data))
	}
	return err
}

func (c *Controller) cmdQuery(ctx context.Context, msg string) error {
	sess, err := c.current()
	if err != nil {
		return err
	}
	if msg == "" {
		return errors.New("usage: query <message>")
	}
	resp, err := sess.Query(ctx, unescape(msg))
	if resp != "" {
		c.printResponse(resp)
	}
	return err
}

func (c *Controller) printResponse(resp string) {
	trimmed := strings.TrimRight(resp, "\r\n")
	if strings.ContainsFunc(trimmed, func(r rune) bool { return r < 0x20 && r != '\t' }) {
		c.printf("%q\n", resp)
		return
	}
	c.printf("%s\n", trimmed)
}

func (c *Controller) cmdStb(ctx context.Context) error {
	sess, err := c.current()
	if err != nil {
		return err
	}
	stb, err := sess.ReadStatusByte(ctx)
	if err != nil {
		return err
	}
	c.printf("Status byte: 0x%02X (%d)\n", stb, stb)
	return nil
}

func (c *Controller) simple(ctx context.Context, done string, fn func(*session.Session, context.Context) error) error {
	sess, err := c.current()
	if err != nil {
		return err
	}
	if err := fn(sess, ctx); err != nil {
		return err
	}
	c.printf("%s\n", done)
	return nil
}

func (c *Controller) cmdSrq(ctx context.Context, args []string) error {
	sess, err := c.current()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return errors.New("usage: srq on [tag] | off")
	}
	switch strings.ToLower(args[0]) {
	case "on":
		tag := []byte("srq")
		if len(args) > 1 {
			tag = []byte(args[1])
		}
		if err := sess.EnableSrq(ctx, tag, c.onSrq); err != nil {
			return err
		}
		c.printf("Service requests enabled\n")
	case "off":
		if err := sess.DisableSrq(ctx); err != nil {
			return err
		}
		c.printf("Service requests disabled\n")
	default:
		return errors.New("usage: srq on [tag] | off")
	}
	return nil
}

func (c *Controller) onSrq(ev interrupt.Event) {
	c.printf("\n[SRQ] from %v tag=%q at %s\n", ev.From, ev.Tag, ev.Received.Format(time.TimeOnly))
	c.mu.Lock()
	c.srqs++
	c.mu.Unlock()
}

// SrqCount returns the number of service requests received.
func (c *Controller) SrqCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.srqs
}

func (c *Controller) cmdTimeout(args []string) error {
	sess, err := c.current()
	if err != nil {
		return err
	}
	switch len(args) {
	case 0:
		c.printf("IO:       %s\n", sess.IOTimeout())
		c.printf("Lock:     %s\n", sess.LockTimeout())
		c.printf("Transmit: %s\n", sess.TransmitTimeout())
		return nil
	case 2:
	default:
		return errors.New("usage: timeout [io|lock|transmit <duration>]")
	}

	d, err := time.ParseDuration(args[1])
	if err != nil || d < 0 {
		return fmt.Errorf("invalid duration %q", args[1])
	}
	switch strings.ToLower(args[0]) {
	case "io":
		sess.SetIOTimeout(d)
	case "lock":
		sess.SetLockTimeout(d)
	case "transmit":
		sess.SetTransmitTimeout(d)
	default:
		return fmt.Errorf("unknown timeout %q", args[0])
	}
	c.printf("%s timeout set to %s\n", strings.ToLower(args[0]), d)
	return nil
}

func (c *Controller) cmdDiscover(ctx context.Context, args []string) error {
	if c.browser == nil {
		return errors.New("discovery disabled")
	}
	timeout := discovery.BrowseTimeout
	if len(args) > 0 {
		secs, err := strconv.Atoi(args[0])
		if err != nil || secs <= 0 {
			return fmt.Errorf("invalid seconds %q", args[0])
		}
		timeout = time.Duration(secs) * time.Second
	}

	c.printf("Browsing for %s...\n", timeout)
	found, err := c.browser.Collect(ctx, timeout)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.discovered = found
	c.mu.Unlock()

	if len(found) == 0 {
		c.printf("No instruments found\n")
		return nil
	}
	for i, svc := range found {
		c.printf("  #%d %-30s %s:%d %s\n", i+1, svc.InstanceName, svc.Address(), svc.Port, svc.Device)
		if svc.Manufacturer != "" || svc.Model != "" {
			c.printf("     %s %s %s\n", svc.Manufacturer, svc.Model, svc.Serial)
		}
	}
	return nil
}

func (c *Controller) cmdStatus() {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	if sess == nil || !sess.Connected() {
		c.printf("Not connected\n")
		return
	}
	link, _ := sess.Link()
	c.printf("Host:          %s\n", sess.Host())
	c.printf("Device:        %s\n", sess.Device())
	c.printf("Link:          %d\n", link)
	c.printf("Client ID:     %d\n", sess.ClientID())
	c.printf("MaxRecvSize:   %d\n", sess.MaxRecvSize())
	c.printf("Abort port:    %d\n", sess.AbortPort())
	c.printf("Service reqs:  %d\n", c.SrqCount())
}

// unescape expands \n, \r and \t in typed messages.
func unescape(s string) string {
	return strings.NewReplacer(`\n`, "\n", `\r`, "\r", `\t`, "\t", `\\`, `\`).Replace(s)
}
