// Command vxi11-controller is an interactive VXI-11 controller.
//
// This command connects to network instruments with:
//   - CLI argument parsing
//   - YAML configuration file support
//   - mDNS instrument discovery
//   - Service request reporting
//   - Protocol capture for vxi11-log
//
// Usage:
//
//	vxi11-controller [flags] [command...]
//
// Each command argument is run in order and the controller exits. Without
// commands the interactive shell starts.
//
// Flags:
//
//	-config string          Configuration file path
//	-resource string        Connect at startup, e.g. TCPIP::10.0.0.5::inst0::INSTR
//	-port int               Core channel port (skips the portmapper)
//	-timeout duration       I/O timeout
//	-mdns-interface string  Network interface for discovery
//	-log-level string       Log level: debug, info, warn, error (default "info")
//	-protocol-log string    File path for protocol event logging (CBOR format)
//
// Examples:
//
//	# Query an instrument once
//	vxi11-controller -resource TCPIP::10.0.0.5::INSTR "query *IDN?"
//
//	# Start the shell and browse for instruments
//	vxi11-controller
//	vxi11> discover
//	vxi11> connect #1
//
// Interactive Commands:
//
//	connect <resource>  - Connect to an instrument
//	query <message>     - Send a message and print the response
//	stb                 - Read the status byte
//	srq on|off          - Enable or disable service requests
//	discover            - Browse for instruments
//	quit                - Exit the controller
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vxi11-protocol/vxi11-go/cmd/vxi11-controller/interactive"
	"github.com/vxi11-protocol/vxi11-go/pkg/config"
	"github.com/vxi11-protocol/vxi11-go/pkg/discovery"
	"github.com/vxi11-protocol/vxi11-go/pkg/log"
)

var (
	configFile    = flag.String("config", "", "Configuration file path")
	resource      = flag.String("resource", "", "Connect at startup, e.g. TCPIP::10.0.0.5::inst0::INSTR")
	port          = flag.Int("port", 0, "Core channel port (skips the portmapper)")
	ioTimeout     = flag.Duration("timeout", 0, "I/O timeout")
	mdnsInterface = flag.String("mdns-interface", "", "Network interface for discovery")
	logLevel      = flag.String("log-level", "", "Log level: debug, info, warn, error (default \"info\")")
	protocolLog   = flag.String("protocol-log", "", "File path for protocol event logging (CBOR format)")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.ControllerConfig, error) {
	var (
		cfg *config.ControllerConfig
		err error
	)
	if *configFile != "" {
		cfg, err = config.LoadControllerConfig(*configFile)
	} else {
		cfg, err = config.ParseControllerConfig(nil)
	}
	if err != nil {
		return nil, err
	}

	if *resource != "" {
		cfg.Resource = *resource
	}
	if *port != 0 {
		cfg.CorePort = *port
	}
	if *ioTimeout != 0 {
		cfg.Timeouts.IO = config.Duration(*ioTimeout)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *protocolLog != "" {
		cfg.Log.Protocol = *protocolLog
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cfg *config.ControllerConfig, commands []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level, _ := cfg.Log.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var proto log.Logger
	if cfg.Log.Protocol != "" {
		fl, err := log.NewFileLogger(cfg.Log.Protocol)
		if err != nil {
			return fmt.Errorf("failed to create protocol logger: %w", err)
		}
		defer fl.Close()
		proto = fl
	}

	sc := cfg.SessionConfig(logger, proto)
	sc.OnError = func(err error) { logger.Warn("interrupt listener", "error", err) }

	var browser discovery.Browser
	if b, err := discovery.NewMDNSBrowser(discovery.BrowserConfig{Interface: *mdnsInterface}); err != nil {
		logger.Warn("discovery disabled", "error", err)
	} else {
		browser = b
	}

	ctrl := interactive.New(sc, browser, os.Stdout)
	defer ctrl.Close()

	if cfg.Resource != "" {
		ctrl.Exec(ctx, "connect "+cfg.Resource)
		if ctrl.Session() == nil {
			return fmt.Errorf("connect %s failed", cfg.Resource)
		}
	}

	if len(commands) > 0 {
		for _, line := range commands {
			if !ctrl.Exec(ctx, line) {
				break
			}
		}
		return nil
	}

	stdlog.SetFlags(0)
	stdlog.Println("VXI-11 Controller")
	stdlog.Println("=================")
	return ctrl.Run(ctx)
}
