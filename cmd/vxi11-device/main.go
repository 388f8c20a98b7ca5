// Command vxi11-device serves simulated or serial-attached instruments over
// VXI-11.
//
// This command runs a complete instrument server with:
//   - CLI argument parsing
//   - YAML configuration file support
//   - Simulator and serial pass-through backends
//   - Portmapper hosting or registration
//   - mDNS discovery advertising
//   - Prometheus metrics
//   - Protocol capture for vxi11-log
//
// Usage:
//
//	vxi11-device [flags]
//
// Flags:
//
//	-config string        Configuration file path
//	-core string          Core channel listen address
//	-abort string         Abort channel listen address
//	-portmap string       Run a portmapper at this address (e.g. :111)
//	-serial string        Serve a serial instrument on this port instead of the simulator
//	-baud int             Serial baud rate
//	-metrics string       Serve Prometheus metrics at this address
//	-mdns                 Advertise devices over mDNS
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-protocol-log string  File path for protocol event logging (CBOR format)
//	-interactive          Enable interactive mode
//
// Examples:
//
//	# Serve the simulator as inst0 with a portmapper on port 111
//	vxi11-device -portmap :111
//
//	# Serve a serial instrument with metrics
//	vxi11-device -serial /dev/ttyUSB0 -baud 115200 -metrics :9110
//
//	# Start from a configuration file
//	vxi11-device -config /etc/vxi11/device.yaml -mdns
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	stdlog "log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/vxi11-protocol/vxi11-go/cmd/vxi11-device/interactive"
	"github.com/vxi11-protocol/vxi11-go/pkg/config"
	"github.com/vxi11-protocol/vxi11-go/pkg/device"
	"github.com/vxi11-protocol/vxi11-go/pkg/discovery"
	"github.com/vxi11-protocol/vxi11-go/pkg/log"
	"github.com/vxi11-protocol/vxi11-go/pkg/metrics"
)

var (
	configFile  = flag.String("config", "", "Configuration file path")
	coreAddr    = flag.String("core", "", "Core channel listen address")
	abortAddr   = flag.String("abort", "", "Abort channel listen address")
	portmapAddr = flag.String("portmap", "", "Run a portmapper at this address (e.g. :111)")
	serialPort  = flag.String("serial", "", "Serve a serial instrument on this port instead of the simulator")
	baudRate    = flag.Int("baud", 0, "Serial baud rate")
	metricsAddr = flag.String("metrics", "", "Serve Prometheus metrics at this address")
	mdns        = flag.Bool("mdns", false, "Advertise devices over mDNS")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error (default \"info\")")
	protocolLog = flag.String("protocol-log", "", "File path for protocol event logging (CBOR format)")
	interact    = flag.Bool("interactive", false, "Enable interactive mode")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	stdlog.SetFlags(stdlog.Ltime | stdlog.Lmicroseconds)
	stdlog.Println("VXI-11 Instrument Server")
	stdlog.Println("========================")
	for _, e := range cfg.Devices {
		stdlog.Printf("Device: %s", e)
	}

	if err := run(cfg); err != nil {
		stdlog.Fatalf("Error: %v", err)
	}
	stdlog.Println("Goodbye!")
}

// loadConfig reads the configuration file, if any, and applies the flags
// that were set on top of it.
func loadConfig() (*config.DeviceConfig, error) {
	var (
		cfg *config.DeviceConfig
		err error
	)
	if *configFile != "" {
		cfg, err = config.LoadDeviceConfig(*configFile)
	} else {
		cfg, err = config.ParseDeviceConfig(nil)
	}
	if err != nil {
		return nil, err
	}

	if *coreAddr != "" {
		cfg.Listen.Core = *coreAddr
	}
	if *abortAddr != "" {
		cfg.Listen.Abort = *abortAddr
	}
	if *portmapAddr != "" {
		cfg.Listen.Portmap = *portmapAddr
	}
	if *metricsAddr != "" {
		cfg.Metrics.Address = *metricsAddr
	}
	if *mdns {
		cfg.Discovery.Enabled = true
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *protocolLog != "" {
		cfg.Log.Protocol = *protocolLog
	}
	if *serialPort != "" {
		name := cfg.Devices[0].Name
		cfg.Devices = []config.DeviceEntry{{
			Name:    name,
			Backend: config.BackendSerial,
			Serial:  config.SerialEntry{Port: *serialPort, BaudRate: *baudRate},
		}}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cfg *config.DeviceConfig) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var shell *interactive.Device
	var logOut io.Writer = os.Stderr
	if *interact {
		var err error
		shell, err = interactive.New(cancel)
		if err != nil {
			return err
		}
		logOut = shell.Stderr()
		stdlog.SetOutput(shell.Stdout())
	}

	level, _ := cfg.Log.SlogLevel()
	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	var proto log.Logger
	if cfg.Log.Protocol != "" {
		fl, err := log.NewFileLogger(cfg.Log.Protocol)
		if err != nil {
			return fmt.Errorf("failed to create protocol logger: %w", err)
		}
		defer fl.Close()
		stdlog.Printf("Protocol logging to: %s", cfg.Log.Protocol)
		proto = fl
		if level <= slog.LevelDebug {
			proto = log.NewMultiLogger(fl, log.NewSlogAdapter(logger))
		}
	}

	var collector *metrics.Collector
	if cfg.Metrics.Address != "" {
		collector = metrics.NewCollector()
	}

	srv := device.NewServer(cfg.ServerConfig(logger, proto, collector))
	closers, err := addDevices(srv, cfg.Devices)
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()
	if err != nil {
		return err
	}

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	stdlog.Printf("Core channel: %s", srv.CoreAddr())
	stdlog.Printf("Abort channel: %s", srv.AbortAddr())
	if addr := srv.PortmapAddr(); addr != nil {
		stdlog.Printf("Portmapper: %s", addr)
	}

	if cfg.Discovery.Enabled {
		adv, err := advertise(ctx, cfg, srv.CoreAddr(), logger)
		if err != nil {
			stdlog.Printf("Warning: mDNS advertising failed: %v", err)
		} else {
			defer adv.StopAll()
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			stdlog.Printf("Received signal: %v", sig)
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	if collector != nil {
		g.Go(func() error {
			return serveMetrics(gctx, cfg.Metrics.Address, collector)
		})
	}

	if shell != nil {
		shell.Attach(srv)
		g.Go(func() error {
			shell.Run(gctx)
			return nil
		})
	}

	err = g.Wait()
	stdlog.Println("Shutting down...")
	if serr := srv.Stop(); serr != nil {
		stdlog.Printf("Error stopping server: %v", serr)
	}
	return err
}

// addDevices creates the backend of every entry. The returned closers
// release serial ports.
func addDevices(srv *device.Server, entries []config.DeviceEntry) ([]io.Closer, error) {
	var closers []io.Closer
	for _, e := range entries {
		var inst device.Instrument
		switch e.Backend {
		case config.BackendSerial:
			sc, err := e.SerialConfig()
			if err != nil {
				return closers, err
			}
			si, err := device.OpenSerial(sc)
			if err != nil {
				return closers, fmt.Errorf("%s: %w", e.Name, err)
			}
			closers = append(closers, si)
			inst = si
		default:
			inst = device.NewSimulator(e.SimulatorConfig())
		}
		if err := srv.AddDevice(e.Name, inst); err != nil {
			return closers, err
		}
	}
	return closers, nil
}

func advertise(ctx context.Context, cfg *config.DeviceConfig, core net.Addr, logger *slog.Logger) (*discovery.MDNSAdvertiser, error) {
	tcp, ok := core.(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected core address %v", core)
	}

	adv, err := discovery.NewMDNSAdvertiser(discovery.AdvertiserConfig{
		Interface: cfg.Discovery.Interface,
		TTL:       cfg.Discovery.TTL.Std(),
	})
	if err != nil {
		return nil, err
	}
	for _, e := range cfg.Devices {
		info := e.InstrumentInfo(uint16(tcp.Port))
		if err := adv.Advertise(ctx, info); err != nil {
			adv.StopAll()
			return nil, fmt.Errorf("%s: %w", e.Name, err)
		}
		logger.Info("advertising instrument", "instance", info.Instance(), "device", info.Device)
	}
	return adv, nil
}

// serveMetrics serves /metrics until ctx is done.
func serveMetrics(ctx context.Context, addr string, collector *metrics.Collector) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	hs := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- hs.ListenAndServe() }()
	stdlog.Printf("Metrics: http://%s/metrics", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
		return nil
	}
}
