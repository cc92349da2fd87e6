// Command hm3301 reads and configures a particulate matter sensor.
//
// usage:
//
//	hm3301 [flags] read [channels]
//	hm3301 [flags] serial
//	hm3301 [flags] clean
//	hm3301 [flags] period [seconds]
//	hm3301 [flags] serve
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/womat/debug"
	"github.com/womat/hm3301"
	"github.com/womat/hm3301/internal/capture"
	"github.com/womat/hm3301/internal/config"
	"github.com/womat/hm3301/internal/httpserver"
	"github.com/womat/hm3301/internal/logging"
	"github.com/womat/hm3301/internal/metrics"
	"github.com/womat/hm3301/pkg/protocol"
	"github.com/womat/hm3301/pkg/session"
)

func main() {
	flags := pflag.NewFlagSet("hm3301", pflag.ExitOnError)
	configFile := flags.StringP("config", "c", "", "config file (default ./hm3301.yaml)")
	flags.String("connection", "", `sensor connection, eg "i2c /dev/i2c-1 0x69"`)
	flags.Duration("interval", 0, "capture interval of serve")
	flags.String("addr", "", "listen address of serve")
	flags.String("log-level", "", "full or standard")
	flags.String("log-file", "", "log file, stderr if empty")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: hm3301 [flags] read [channels] | serial | clean | period [seconds] | serve\n")
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configFile, flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logFile, err := logging.Setup(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, flags.Args()); err != nil {
		debug.ErrorLog.Print(err)
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("missing command")
	}

	s, err := hm3301.Open(cfg.Device.Connection, cfg.Session.Options()...)
	if err != nil {
		return err
	}
	defer s.Close()

	switch cmd, args := args[0], args[1:]; cmd {
	case "read":
		channels := protocol.Channels
		if len(args) > 0 {
			if channels, err = strconv.Atoi(args[0]); err != nil {
				return errors.Wrapf(err, "invalid channels %q", args[0])
			}
		}

		m, err := s.Measure(ctx, channels)
		if err != nil {
			return err
		}
		for i, v := range m.Values {
			fmt.Printf("%-6s %8v µg/m³\n", protocol.Channel(i), v)
		}

	case "serial":
		serial, err := s.SerialNumber()
		if err != nil {
			return err
		}
		fmt.Println(serial)

	case "clean":
		return s.StartCleaning(1)

	case "period":
		if len(args) == 0 {
			p, err := s.CleaningPeriod()
			if err != nil {
				return err
			}
			fmt.Printf("%ds\n", p)
			return nil
		}

		seconds, err := strconv.Atoi(args[0])
		if err != nil {
			return errors.Wrapf(err, "invalid period %q", args[0])
		}
		w, err := s.SetCleaningPeriod(seconds)
		if err != nil {
			return err
		}
		if w != nil {
			fmt.Fprintln(os.Stderr, "warning:", w)
		}

	case "serve":
		return serve(ctx, cfg, s)

	default:
		return errors.Errorf("unknown command %q", cmd)
	}
	return nil
}

// serve captures periodically and publishes the scans over HTTP until ctx
// is done.
func serve(ctx context.Context, cfg *config.Config, s *session.Session) error {
	if cfg.Capture.Interval <= 0 {
		return errors.Errorf("invalid capture interval %v", cfg.Capture.Interval)
	}

	reg := metrics.NewRegistry()
	m := metrics.NewSensorMetrics(reg)

	var metricsHandler http.Handler
	if cfg.Metrics.Enable {
		metricsHandler = metrics.Handler(reg)
	}

	if p, err := s.CleaningPeriod(); err == nil {
		m.CleaningPeriod.Set(float64(p))
	} else {
		debug.WarningLog.Printf("failed to read cleaning period: %v", err)
	}

	srv := httpserver.New(cfg.HTTP, cfg.Metrics.Path, metricsHandler, s)
	errc := make(chan error, 1)
	go func() {
		debug.DebugLog.Printf("listen on %v", cfg.HTTP.Addr)
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	c := capture.New(s)
	c.OnError = m.Failed

	scans := c.Run(ctx, cfg.Capture.Interval)
	for {
		select {
		case scan, ok := <-scans:
			if !ok {
				return shutdown(srv)
			}
			m.Observe(scan)
			srv.Update(scan)
		case err := <-errc:
			return err
		}
	}
}

func shutdown(srv *httpserver.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
