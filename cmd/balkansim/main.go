package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/gustycube/balkansim/internal/circuitbreaker"
	"github.com/gustycube/balkansim/internal/config"
	"github.com/gustycube/balkansim/internal/emit"
	"github.com/gustycube/balkansim/internal/health"
	"github.com/gustycube/balkansim/internal/logging"
	"github.com/gustycube/balkansim/internal/metrics"
	"github.com/gustycube/balkansim/internal/output"
	"github.com/gustycube/balkansim/internal/rate"
	"github.com/gustycube/balkansim/internal/sim"
	"github.com/gustycube/balkansim/internal/telemetry"
	"github.com/gustycube/balkansim/internal/types"
	"github.com/gustycube/balkansim/internal/ui"
)

const version = "1.0.0"

func main() {
	var configFile string
	var users, countries, edgesPerNode, steps, sampleEvery int
	var userDetection, countryDetection, userAlpha, countryAlpha float64
	var seed int64
	var runID, threatMode string
	var trackCentrality bool
	var stepsPerSecond float64
	var outputPath, outputFormat string
	var ingest, spoolDir string
	var mtlsCert, mtlsKey, mtlsCA string
	var metricsAddr string
	var otelEndpoint, otelService string
	var otelInsecure bool
	var logLevel string
	var quiet, verbose, progress, showVersion bool

	flag.StringVar(&configFile, "config", "", "path to config file (YAML, JSON or TOML)")
	flag.IntVar(&users, "users", 0, "number of end users")
	flag.IntVar(&countries, "countries", 0, "number of authorities (countries)")
	flag.Float64Var(&userDetection, "user_detection", 0, "probability an end user detects a threat")
	flag.Float64Var(&countryDetection, "country_detection", 0, "probability an authority detects a threat")
	flag.Float64Var(&userAlpha, "user_alpha", 0, "probability an end user originates a threat (alpha mode)")
	flag.Float64Var(&countryAlpha, "country_alpha", 0, "probability an authority originates a threat (alpha mode)")
	flag.IntVar(&edgesPerNode, "edges_per_node", 0, "edges each new node attaches with in the initial topology")
	flag.IntVar(&steps, "steps", 0, "number of packets to originate")
	flag.Int64Var(&seed, "seed", 0, "random seed")
	flag.StringVar(&runID, "run", "", "run id")
	flag.StringVar(&threatMode, "threat_mode", "", "threat origination (always, alpha)")
	flag.BoolVar(&trackCentrality, "track_centrality", false, "record the most central node at every sample")
	flag.IntVar(&sampleEvery, "sample_every", 0, "steps between samples")
	flag.Float64Var(&stepsPerSecond, "steps_per_second", 0, "throttle the run (0 for unlimited)")
	flag.StringVar(&outputPath, "output", "", "series output file (empty for stdout)")
	flag.StringVar(&outputFormat, "output_format", "", "output format (json, jsonl, csv)")
	flag.StringVar(&ingest, "ingest", "", "ingest endpoint for sample batches (optional)")
	flag.StringVar(&spoolDir, "spool_dir", "", "spool dir for failed batches")
	flag.StringVar(&mtlsCert, "mtls_cert", "", "client cert (PEM) for mTLS to ingest")
	flag.StringVar(&mtlsKey, "mtls_key", "", "client key (PEM) for mTLS to ingest")
	flag.StringVar(&mtlsCA, "mtls_ca", "", "CA bundle (PEM) for mTLS to ingest")
	flag.StringVar(&metricsAddr, "metrics_addr", "", "metrics listen addr")
	flag.StringVar(&otelEndpoint, "otel_endpoint", "", "OTLP HTTP endpoint (host:port)")
	flag.BoolVar(&otelInsecure, "otel_insecure", true, "OTLP insecure (no TLS)")
	flag.StringVar(&otelService, "otel_service", "", "OTEL service.name")
	flag.StringVar(&logLevel, "log_level", "", "log level (debug, info, warn, error)")
	flag.BoolVar(&quiet, "quiet", false, "suppress progress output")
	flag.BoolVar(&verbose, "verbose", false, "verbose logging")
	flag.BoolVar(&progress, "progress", true, "show progress indicators")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "balkansim - simulates how threat detection and rewiring fragment a network\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -users=200 -countries=20 -steps=50000 -seed=7\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config=run.yaml -output=series.csv -output_format=csv\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  BALKANSIM_SEED          Random seed\n")
		fmt.Fprintf(os.Stderr, "  BALKANSIM_INGEST        Ingest endpoint\n")
		fmt.Fprintf(os.Stderr, "  BALKANSIM_METRICS_ADDR  Metrics listen addr\n")
		fmt.Fprintf(os.Stderr, "  REDIS_ADDR              Redis server receiving sample batches\n")
		fmt.Fprintf(os.Stderr, "  REDIS_KEY               Redis list key\n")
		fmt.Fprintf(os.Stderr, "  LOG_LEVEL               Log level (debug, info, warn, error)\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Println("balkansim v" + version)
		fmt.Println("Built with Go", strings.TrimPrefix(runtime.Version(), "go"))
		os.Exit(0)
	}

	// Load configuration
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config file %s: %v\n", configFile, err)
			os.Exit(1)
		}
	} else {
		cfg = config.Default()
	}

	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	// Only flags given on the command line override file and environment.
	values := map[string]interface{}{
		"users":             users,
		"countries":         countries,
		"user_detection":    userDetection,
		"country_detection": countryDetection,
		"user_alpha":        userAlpha,
		"country_alpha":     countryAlpha,
		"edges_per_node":    edgesPerNode,
		"steps":             steps,
		"seed":              seed,
		"run":               runID,
		"threat_mode":       threatMode,
		"track_centrality":  trackCentrality,
		"sample_every":      sampleEvery,
		"steps_per_second":  stepsPerSecond,
		"output":            outputPath,
		"output_format":     outputFormat,
		"ingest":            ingest,
		"spool_dir":         spoolDir,
		"mtls_cert":         mtlsCert,
		"mtls_key":          mtlsKey,
		"mtls_ca":           mtlsCA,
		"metrics_addr":      metricsAddr,
		"otel_endpoint":     otelEndpoint,
		"otel_insecure":     otelInsecure,
		"otel_service":      otelService,
		"log_level":         logLevel,
	}
	flags := make(map[string]interface{})
	flag.Visit(func(f *flag.Flag) {
		if v, ok := values[f.Name]; ok {
			flags[f.Name] = v
		}
	})
	if verbose {
		flags["log_level"] = "debug"
	}
	cfg.MergeWithFlags(flags)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	if configFile != "" {
		log.Infow("loaded config from file", "file", configFile)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize telemetry
	shutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.OTELService, cfg.Run, cfg.OTELInsecure)
	if err != nil {
		log.Warnw("otel init failed", "err", err)
	} else {
		defer shutdown(context.Background())
	}

	console := ui.NewInteractiveLogger(log, progress && !quiet)
	pacer := rate.NewPacer(cfg.StepsPerSecond)
	console.StartSpinner("Building network")
	s, err := sim.New(sim.ParamsFromConfig(cfg),
		sim.WithLogger(log),
		sim.WithPacer(pacer),
		sim.WithSampleEvery(cfg.SampleEvery),
	)
	console.StopSpinner()
	if err != nil {
		log.Fatalw("build simulation", "err", err)
	}

	// Initialize health handler
	healthHandler := health.NewHandler(log)
	healthHandler.SetMetadata("run", cfg.Run)
	healthHandler.SetMetadata("seed", fmt.Sprint(cfg.Seed))
	healthHandler.SetMetadata("version", version)
	healthHandler.RegisterChecker("progress", health.NewProgressChecker(func() (int, int) {
		st := s.Status()
		return st.Step, st.Target
	}))
	healthHandler.RegisterChecker("connectivity", health.NewConnectivityChecker(func() int {
		return s.Status().Components
	}))

	// Sample sinks
	var sinks []emit.Sink
	if cfg.Ingest != "" {
		hs, err := emit.NewHTTPSink(cfg.Ingest, cfg.MTLSCert, cfg.MTLSKey, cfg.MTLSCA)
		if err != nil {
			log.Fatalw("ingest sink", "err", err)
		}
		sinks = append(sinks, hs)
	}
	if cfg.RedisAddr != "" {
		rs, err := emit.NewRedisSink(ctx, cfg.RedisAddr, cfg.RedisKey)
		if err != nil {
			log.Fatalw("redis init", "err", err)
		}
		defer rs.Close()
		log.Infow("redis sink enabled", "addr", cfg.RedisAddr, "key", cfg.RedisKey)
		sinks = append(sinks, rs)
		healthHandler.RegisterChecker("redis", health.NewRedisChecker(rs.Ping))
	}
	if len(sinks) == 0 && cfg.Output != "" {
		// the series goes to a file, so batches can stream on stdout
		sinks = append(sinks, emit.NewWriterSink(os.Stdout))
	}

	if cfg.MetricsAddr != "" {
		go metrics.ServeWithHealth(ctx, cfg.MetricsAddr, healthHandler, log)
		log.Infow("metrics and health server started", "addr", cfg.MetricsAddr)
	}

	// Series output
	var series *output.Writer
	if cfg.Output != "" {
		f, ferr := os.Create(cfg.Output)
		if ferr != nil {
			log.Fatalw("open output", "path", cfg.Output, "err", ferr)
		}
		defer f.Close()
		series, err = output.NewWriter(cfg.OutputFormat, f)
	} else {
		series, err = output.NewStdoutWriter(cfg.OutputFormat)
	}
	if err != nil {
		log.Fatalw("output writer", "err", err)
	}

	var emitter *emit.Emitter
	var breakers *circuitbreaker.SinkBreaker
	samples := make(chan types.Sample, 1024)
	emitted := make(chan struct{})
	if len(sinks) > 0 {
		breakers = circuitbreaker.NewSinkBreaker(&circuitbreaker.Config{
			FailureThreshold:  5,
			Timeout:           30 * time.Second,
			HalfOpenSuccesses: 1,
			OnStateChange: func(name string, from, to circuitbreaker.State) {
				log.Warnw("sink breaker state changed", "sink", name, "from", from.String(), "to", to.String())
			},
		})
		emitter = emit.NewEmitter(cfg.Run, cfg.BatchMaxSamples, time.Duration(cfg.BatchFlushSec)*time.Second, cfg.SpoolDir, breakers, log, sinks...)
		go func() {
			emitter.Run(ctx, samples)
			close(emitted)
		}()
	} else {
		close(emitted)
	}

	console.LogInfo("starting balkansim",
		"run", cfg.Run,
		"users", cfg.Users,
		"countries", cfg.Countries,
		"steps", cfg.Steps,
		"seed", cfg.Seed,
		"threat_mode", cfg.ThreatMode,
		"paced", !pacer.Unlimited(),
		"config_file", configFile,
	)

	healthHandler.SetReady(true)
	console.SetTotal(int64(cfg.Steps))

	runErr := s.Run(ctx, cfg.Steps, func(sample types.Sample) error {
		if err := series.Write(sample); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
		if emitter != nil {
			select {
			case samples <- sample:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		console.UpdateProgress(sample)
		return nil
	})
	close(samples)
	<-emitted
	console.Finish()
	healthHandler.SetReady(false)

	if err := series.Flush(); err != nil {
		console.LogError("flush output", "err", err)
	}
	if emitter != nil {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
		emitter.Drain(drainCtx)
		drainCancel()
		console.LogInfo("sinks drained", "breakers", breakers.Stats())
	}

	if runErr != nil && ctx.Err() == nil {
		log.Fatalw("simulation failed", "step", s.Steps(), "err", runErr)
	}
	if ctx.Err() != nil {
		console.LogWarn("interrupted", "step", s.Steps())
	}
	log.Infow("shutdown complete")
}
