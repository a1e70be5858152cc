package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/martinemde/llmguard/unifiedllm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

// Global carries what every subcommand shares.
type Global struct {
	Ctx      context.Context
	Log      zerolog.Logger
	Config   *unifiedllm.Config
	Registry *prometheus.Registry
	Recorder unifiedllm.Recorder
}

// Logger adapts the command's zerolog logger for the library.
func (g *Global) Logger() unifiedllm.Logger {
	return unifiedllm.NewZerologLogger(g.Log)
}

// Dispatcher builds the configured dispatcher with logging and metrics.
func (g *Global) Dispatcher() (*unifiedllm.Dispatcher, error) {
	return g.Config.Dispatcher(unifiedllm.WithLogger(g.Logger()), unifiedllm.WithRecorder(g.Recorder))
}

// Breakers builds the configured breaker set with logging and metrics.
func (g *Global) Breakers() *unifiedllm.BreakerSet {
	return g.Config.Breakers(unifiedllm.WithBreakerLogger(g.Logger()), unifiedllm.WithBreakerRecorder(g.Recorder))
}

// CLI is the command line of llmguard.
type CLI struct {
	Config      string   `short:"c" help:"Resilience configuration file (YAML)" type:"path"`
	EnvFile     []string `name:"env-file" help:"Dotenv files to load" default:".env"`
	Verbose     bool     `short:"v" help:"Enable debug logging"`
	MetricsFile string   `name:"metrics-file" help:"Write Prometheus metrics to this file on exit" type:"path"`

	Classify ClassifyCmd `cmd:"" help:"Classify an error message and print the processed error"`
	Backoff  BackoffCmd  `cmd:"" help:"Print the retry delay schedule for a provider"`
	Ask      AskCmd      `cmd:"" help:"Send one prompt through the breaker and retry layers"`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("llmguard"),
		kong.Description("Classify, retry and circuit-break calls to generative-AI providers."),
		kong.UsageOnError(),
	)

	level := zerolog.InfoLevel
	if cli.Verbose {
		level = zerolog.DebugLevel
	}
	wr := diode.NewWriter(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}, 1000, 10*time.Millisecond, func(missed int) {
		fmt.Fprintf(os.Stderr, "logger dropped %d messages\n", missed)
	})
	log := zerolog.New(wr).Level(level).With().Timestamp().Logger()

	code := run(kctx, &cli, log)
	_ = wr.Close()
	os.Exit(code)
}

func run(kctx *kong.Context, cli *CLI, log zerolog.Logger) int {
	if err := unifiedllm.LoadEnv(cli.EnvFile...); err != nil {
		log.Error().Err(err).Msg("failed to load env files")
		return 1
	}

	cfg := &unifiedllm.Config{}
	if cli.Config != "" {
		loaded, err := unifiedllm.LoadConfig(cli.Config)
		if err != nil {
			log.Error().Err(err).Str("path", cli.Config).Msg("failed to load configuration")
			return 1
		}
		cfg = loaded
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	g := &Global{
		Ctx:      ctx,
		Log:      log,
		Config:   cfg,
		Registry: reg,
		Recorder: unifiedllm.NewPrometheusRecorder(reg),
	}

	err := kctx.Run(g)
	if cli.MetricsFile != "" {
		if werr := prometheus.WriteToTextfile(cli.MetricsFile, reg); werr != nil {
			log.Warn().Err(werr).Msg("failed to write metrics")
		}
	}
	if err != nil {
		log.Error().Err(err).Str("command", kctx.Command()).Msg("command failed")
		return 1
	}
	return 0
}
