// Corrected wall-clock time service

package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/pelletier/go-toml/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"example.com/timeclock/base/timemath"
	"example.com/timeclock/base/zaplog"
	"example.com/timeclock/benchmark"
	"example.com/timeclock/core/client"
	"example.com/timeclock/core/engine"
	"example.com/timeclock/core/timebase"
	"example.com/timeclock/core/wallclock"
	"example.com/timeclock/driver/clock"
	"example.com/timeclock/driver/persist"
	"example.com/timeclock/net/ntp"
)

const (
	defaultMetricsAddr  = "127.0.0.1:8080"
	displayTickInterval = 1 * time.Second
)

type svcConfig struct {
	TimeAuthority       string `toml:"time_authority,omitempty" env:"TIMECLOCK_TIME_AUTHORITY"`
	SyncIntervalSeconds int    `toml:"sync_interval_seconds,omitempty" env:"TIMECLOCK_SYNC_INTERVAL_SECONDS"`
	QueryTimeoutSeconds int    `toml:"query_timeout_seconds,omitempty" env:"TIMECLOCK_QUERY_TIMEOUT_SECONDS"`
	ManualOffsetMillis  *int64 `toml:"manual_offset_ms,omitempty" env:"TIMECLOCK_MANUAL_OFFSET_MS"`
	StalenessThreshold  int    `toml:"staleness_threshold,omitempty" env:"TIMECLOCK_STALENESS_THRESHOLD"`
	OffsetFile          string `toml:"offset_file,omitempty" env:"TIMECLOCK_OFFSET_FILE"`
	MetricsAddr         string `toml:"metrics_address,omitempty" env:"TIMECLOCK_METRICS_ADDRESS"`
}

var (
	log *zap.Logger
)

func initLogger(verbose bool) {
	c := zap.NewDevelopmentConfig()
	c.DisableStacktrace = true
	c.EncoderConfig.EncodeCaller = func(
		caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		p := caller.TrimmedPath()
		if len(p) > 30 {
			p = "..." + p[len(p)-27:]
		}
		enc.AppendString(fmt.Sprintf("%30s", p))
	}
	if !verbose {
		c.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	var err error
	log, err = c.Build()
	if err != nil {
		panic(err)
	}
	zaplog.SetLogger(log)
}

func runMonitor(log *zap.Logger, addr string) {
	http.Handle("/metrics", promhttp.Handler())
	err := http.ListenAndServe(addr, nil)
	log.Fatal("failed to serve metrics", zap.Error(err))
}

func loadConfig(configFile string) svcConfig {
	var cfg svcConfig
	if configFile != "" {
		raw, err := os.ReadFile(configFile)
		if err != nil {
			log.Fatal("failed to load configuration", zap.Error(err))
		}
		err = toml.NewDecoder(bytes.NewReader(raw)).DisallowUnknownFields().Decode(&cfg)
		if err != nil {
			log.Fatal("failed to decode configuration", zap.Error(err))
		}
	}
	err := env.Parse(&cfg)
	if err != nil {
		log.Fatal("failed to apply environment overrides", zap.Error(err))
	}
	if cfg.TimeAuthority == "" {
		log.Fatal("time_authority not specified in config")
	}
	return cfg
}

// newTimeClient picks the transport from the authority address:
// http(s) URLs use the Date-header exchange, everything else is
// treated as an NTP server address.
func newTimeClient(cfg svcConfig) client.TimeClient {
	a := cfg.TimeAuthority
	if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
		return &client.HTTPClient{Log: log, URL: a}
	}
	a = strings.TrimPrefix(a, "ntp://")
	if !strings.Contains(a, ":") {
		a = fmt.Sprintf("%s:%d", a, ntp.ServerPort)
	}
	return &client.NTPClient{Log: log, Address: a}
}

func newEngine(cfg svcConfig) *engine.Engine {
	ecfg := engine.Config{
		Client: newTimeClient(cfg),
	}
	if cfg.OffsetFile != "" {
		ecfg.Persister = &persist.FileStore{Path: cfg.OffsetFile}
	}
	if cfg.SyncIntervalSeconds != 0 {
		ecfg.SyncInterval = timemath.Duration(float64(cfg.SyncIntervalSeconds))
	}
	if cfg.QueryTimeoutSeconds != 0 {
		ecfg.QueryTimeout = timemath.Duration(float64(cfg.QueryTimeoutSeconds))
	}
	ecfg.StalenessThreshold = cfg.StalenessThreshold

	e := engine.New(log, ecfg)
	if cfg.ManualOffsetMillis != nil {
		e.SetManualOffset(timemath.FromMillis(*cfg.ManualOffsetMillis))
	}
	return e
}

func runClock(configFile string) {
	cfg := loadConfig(configFile)

	lclk := &clock.SystemClock{Log: log}
	timebase.RegisterClock(lclk)

	e := newEngine(cfg)
	e.Start()

	metricsAddr := cfg.MetricsAddr
	if metricsAddr == "" {
		metricsAddr = defaultMetricsAddr
	}
	go runMonitor(log, metricsAddr)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ticker := time.NewTicker(displayTickInterval)
	defer ticker.Stop()

	// The display loop only ever polls the clock facade; a slow or
	// failing sync never stalls it.
	prevHealth := wallclock.Health{State: -1}
	for {
		select {
		case <-ticker.C:
			now := e.Now()
			h := e.HealthStatus()
			fmt.Printf("%s  %s  [%s]\n",
				now.Format("2006-01-02"), now.Format("15:04:05"), h)
			if h.State != prevHealth.State {
				log.Info("sync health changed",
					zap.Stringer("state", h.State),
					zap.Time("last sync", h.LastSyncAt),
				)
				prevHealth = h
			}
		case sig := <-sigc:
			if sig == syscall.SIGHUP {
				log.Info("resync requested")
				e.ResyncNow()
				continue
			}
			log.Info("shutting down", zap.String("signal", sig.String()))
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := e.Shutdown(ctx)
			cancel()
			if err != nil {
				log.Warn("failed to flush offset record", zap.Error(err))
			}
			return
		}
	}
}

func runTool(remoteAddr string, timeout time.Duration) {
	lclk := &clock.SystemClock{Log: log}
	timebase.RegisterClock(lclk)

	c := newTimeClient(svcConfig{TimeAuthority: remoteAddr})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	m, err := c.Query(ctx)
	if err != nil {
		log.Fatal("failed to measure clock offset",
			zap.String("to", remoteAddr), zap.Error(err))
	}
	fmt.Printf("offset: %v, uncertainty: %v, server time: %s\n",
		m.Offset, m.Uncertainty, m.ServerTime.Format(time.RFC3339Nano))
}

func runBenchmark(remoteAddr string, numRequests int, timeout time.Duration) {
	lclk := &clock.SystemClock{Log: zap.NewNop()}
	timebase.RegisterClock(lclk)
	benchmark.RunBenchmark(log, remoteAddr, numRequests, timeout)
}

func exitWithUsage() {
	fmt.Println("usage: timeclock clock -config <file> [-verbose]")
	fmt.Println("       timeclock tool -remote <address> [-timeout <duration>] [-verbose]")
	fmt.Println("       timeclock benchmark -remote <address> [-n <count>] [-verbose]")
	os.Exit(1)
}

func main() {
	var (
		verbose     bool
		configFile  string
		remoteAddr  string
		numRequests int
		timeout     time.Duration
	)

	clockFlags := flag.NewFlagSet("clock", flag.ExitOnError)
	toolFlags := flag.NewFlagSet("tool", flag.ExitOnError)
	benchmarkFlags := flag.NewFlagSet("benchmark", flag.ExitOnError)

	clockFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	clockFlags.StringVar(&configFile, "config", "", "Config file")

	toolFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	toolFlags.StringVar(&remoteAddr, "remote", "", "Time authority address")
	toolFlags.DurationVar(&timeout, "timeout", 5*time.Second, "Query timeout")

	benchmarkFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	benchmarkFlags.StringVar(&remoteAddr, "remote", "", "Time authority address")
	benchmarkFlags.IntVar(&numRequests, "n", 1000, "Number of requests")
	benchmarkFlags.DurationVar(&timeout, "timeout", 5*time.Second, "Query timeout")

	if len(os.Args) < 2 {
		exitWithUsage()
	}

	switch os.Args[1] {
	case clockFlags.Name():
		err := clockFlags.Parse(os.Args[2:])
		if err != nil || clockFlags.NArg() != 0 {
			exitWithUsage()
		}
		if configFile == "" {
			exitWithUsage()
		}
		initLogger(verbose)
		runClock(configFile)
	case toolFlags.Name():
		err := toolFlags.Parse(os.Args[2:])
		if err != nil || toolFlags.NArg() != 0 {
			exitWithUsage()
		}
		if remoteAddr == "" {
			exitWithUsage()
		}
		initLogger(verbose)
		runTool(remoteAddr, timeout)
	case benchmarkFlags.Name():
		err := benchmarkFlags.Parse(os.Args[2:])
		if err != nil || benchmarkFlags.NArg() != 0 {
			exitWithUsage()
		}
		if remoteAddr == "" {
			exitWithUsage()
		}
		initLogger(verbose)
		runBenchmark(remoteAddr, numRequests, timeout)
	default:
		exitWithUsage()
	}
}
