// cmd/monitor/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tamzrod/pump-monitor/internal/config"
	"github.com/tamzrod/pump-monitor/internal/csvlog"
	"github.com/tamzrod/pump-monitor/internal/display"
	"github.com/tamzrod/pump-monitor/internal/fault"
	"github.com/tamzrod/pump-monitor/internal/fms"
	"github.com/tamzrod/pump-monitor/internal/metrics"
	"github.com/tamzrod/pump-monitor/internal/mirror"
	"github.com/tamzrod/pump-monitor/internal/mks"
	"github.com/tamzrod/pump-monitor/internal/poller"
	"github.com/tamzrod/pump-monitor/internal/status"
)

const usage = "usage: monitor <config.yaml> | monitor ports"

// device is one running client as seen by the consumers.
type device struct {
	src       poller.Source
	stop      func()
	logPrefix string
	logEvery  time.Duration
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	if os.Args[1] == "ports" {
		ports, err := mks.ListPorts()
		if err != nil {
			fmt.Fprintf(os.Stderr, "list ports: %v\n", err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}
	config.Normalize(cfg)
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config validation failed: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --------------------
	// Metrics
	// --------------------

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		metricsSrv = startMetrics(cfg.Metrics.Addr, reg, log)
	}

	// --------------------
	// Device clients
	// --------------------

	var devices []device

	if cfg.FMSEnabled() {
		c, err := fms.New(fms.Config{
			Address:        cfg.FMS.Address,
			Interval:       ms(cfg.FMS.IntervalMs),
			ConnectTimeout: ms(cfg.FMS.ConnectTimeoutMs),
			ReadTimeout:    ms(cfg.FMS.ReadTimeoutMs),
			Cooldown:       ms(cfg.FMS.CooldownMs),
			Logger:         log,
			Metrics:        m,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("fms client build failed")
		}

		events, unsubscribe := c.Subscribe(32)
		go watchEvents(ctx, log.With().Str("device", "fms").Logger(), events, unsubscribe)
		c.Start()

		devices = append(devices, device{
			src:       c,
			stop:      c.Stop,
			logPrefix: cfg.Logging.FMSPrefix,
			logEvery:  ms(cfg.Logging.FMSIntervalMs),
		})
	}

	if cfg.MKSEnabled() {
		c, err := mks.New(mks.Config{
			Port:     cfg.MKS.Port,
			BaudRate: cfg.MKS.BaudRate,
			Address:  cfg.MKS.Address,
			Interval: ms(cfg.MKS.IntervalMs),
			Timeout:  ms(cfg.MKS.TimeoutMs),
			Channels: cfg.MKS.Channels,
			Logger:   log,
			Metrics:  m,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("mks client build failed")
		}

		events, unsubscribe := c.Subscribe(32)
		go watchEvents(ctx, log.With().Str("device", "mks").Logger(), events, unsubscribe)

		// the unit goes through a temporary port before the loop owns it
		if cfg.MKS.Unit != "" {
			if err := c.ChangeUnit(ctx, cfg.MKS.Unit, cfg.MKS.Port); err != nil {
				log.Warn().Err(err).Str("unit", cfg.MKS.Unit).Msg("startup unit not applied")
			}
		}

		if cfg.MKS.RestartOnFault {
			go mks.Supervise(ctx, c, ms(cfg.MKS.RestartDelayMs))
		}
		c.Start()

		devices = append(devices, device{
			src:       c,
			stop:      c.Stop,
			logPrefix: cfg.Logging.MKSPrefix,
			logEvery:  ms(cfg.Logging.MKSIntervalMs),
		})
	}

	// --------------------
	// Consumers (each pulls at its own cadence)
	// --------------------

	var wg sync.WaitGroup

	if cfg.Logging.Enabled {
		for _, d := range devices {
			s, err := csvlog.NewSession(csvlog.Config{
				Dir:    cfg.Logging.Dir,
				Prefix: d.logPrefix,
				Logger: log,
			})
			if err != nil {
				log.Fatal().Err(err).Msg("csv session build failed")
			}
			pipe(ctx, &wg, log, d.src, d.logEvery, s.Run)
		}
	}

	if cfg.Display.Enabled {
		for _, d := range devices {
			pipe(ctx, &wg, log, d.src, ms(cfg.Display.IntervalMs), func(ctx context.Context, in <-chan poller.PollResult) {
				display.Run(ctx, in, log)
			})
		}
	}

	if cfg.Mirror.Enabled {
		plan, err := mirror.BuildPlan(cfg.Mirror)
		if err != nil {
			log.Fatal().Err(err).Msg("mirror plan failed")
		}
		cli, err := mirror.BuildEndpointClient(cfg.Mirror)
		if err != nil {
			log.Fatal().Err(err).Msg("mirror client failed")
		}
		defer cli.Close()

		for _, d := range devices {
			target, ok := plan.Target(d.src.Name())
			if !ok {
				continue
			}
			r := mirror.NewRunner(plan, target, cli, log)
			pipe(ctx, &wg, log, d.src, ms(cfg.Mirror.IntervalMs), r.Run)
		}
	}

	log.Info().Int("devices", len(devices)).Msg("monitor running")

	// --------------------
	// Shutdown
	// --------------------

	<-ctx.Done()
	log.Info().Msg("shutting down")

	for _, d := range devices {
		d.stop()
	}
	wg.Wait()

	if metricsSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("metrics server shutdown failed")
		}
	}
}

// pipe runs a poller for src feeding consume, both tracked by wg.
func pipe(
	ctx context.Context,
	wg *sync.WaitGroup,
	log zerolog.Logger,
	src poller.Source,
	every time.Duration,
	consume func(context.Context, <-chan poller.PollResult),
) {
	p, err := poller.New(poller.Config{Interval: every}, src)
	if err != nil {
		log.Fatal().Err(err).Str("device", src.Name()).Msg("poller build failed")
	}

	out := make(chan poller.PollResult)
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.Run(ctx, out)
	}()
	go func() {
		defer wg.Done()
		consume(ctx, out)
	}()
}

// watchEvents logs client notifications until ctx is done.
func watchEvents(ctx context.Context, log zerolog.Logger, events <-chan status.Event, unsubscribe func()) {
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Kind {
			case status.EventError:
				log.Warn().
					Str("category", fault.CategoryOf(e.Err).String()).
					Str("color", string(display.StatusColor(e))).
					Msg(e.Text)
			case status.EventStatus:
				log.Info().Str("color", string(display.StatusColor(e))).Msg(e.Text)
			case status.EventMetadataReady:
				log.Debug().Msg("metadata ready")
			}
		}
	}
}

func startMetrics(addr string, reg *prometheus.Registry, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server exited")
		}
	}()
	return srv
}

func newLogger(c config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var base zerolog.Logger
	if c.Format == "json" {
		base = zerolog.New(os.Stderr)
	} else {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
	}
	return base.Level(level).With().Timestamp().Logger()
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
