package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/koanbot/koanbot/pkg/bsky"
	"github.com/koanbot/koanbot/pkg/config"
	"github.com/koanbot/koanbot/pkg/linkpreview"
	"github.com/koanbot/koanbot/pkg/metrics"
	"github.com/koanbot/koanbot/pkg/oracle"
	"github.com/koanbot/koanbot/pkg/responder"
	"github.com/koanbot/koanbot/pkg/richtext"
	"github.com/koanbot/koanbot/pkg/schedule"
)

// newCLIApp creates the CLI application with all commands. extra is applied
// to the completion client after the defaults.
func newCLIApp(extra ...oracle.Option) *cli.App {
	l := &launcher{oracleOptions: extra}
	app := &cli.App{
		Name:    "koanbot",
		Usage:   "Answer Bluesky mentions with generated koans",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "koanbot.yaml",
				EnvVars: []string{config.EnvConfigPath},
				Usage:   "Path to a YAML or JSON5 config file",
			},
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "Dotenv file loaded before reading the environment"},
		},
		Action: l.runScheduled,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Answer mentions on a schedule until interrupted (default)",
				Action: l.runScheduled,
			},
			{
				Name:   "once",
				Usage:  "Run a single cycle and exit",
				Action: l.runOnce,
			},
		},
	}
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// launcher carries construction options from newCLIApp to the commands.
type launcher struct {
	oracleOptions []oracle.Option
}

// bot is everything built from the config at startup.
type bot struct {
	cfg       *config.Config
	log       zerolog.Logger
	registry  *prometheus.Registry
	responder *responder.Responder
}

func (l *launcher) setup(c *cli.Context) (*bot, error) {
	if err := config.LoadDotenv(c.String("env-file")); err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := newLogger(cfg.Log, c.App.Writer)
	zerolog.DefaultContextLogger = &log

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	client := bsky.NewClient(cfg.Bluesky.Service, nil, log)
	if err := client.Login(c.Context, cfg.Bluesky.Identifier, cfg.Bluesky.Password); err != nil {
		return nil, fmt.Errorf("failed to log in to %s: %w", cfg.Bluesky.Service, err)
	}

	opts := append([]oracle.Option{oracle.WithTokenObserver(m.ObservePromptTokens)}, l.oracleOptions...)
	completer := oracle.NewOpenAI(oracle.Config{
		APIKey:            cfg.OpenAI.APIKey,
		Organization:      cfg.OpenAI.Organization,
		BaseURL:           cfg.OpenAI.BaseURL,
		Model:             cfg.OpenAI.Model,
		RequestsPerSecond: cfg.OpenAI.RequestsPerSecond,
		Burst:             cfg.OpenAI.Burst,
	}, log, opts...)

	deps := responder.Deps{
		Source:  client,
		Poster:  client,
		Oracle:  completer,
		Metrics: m,
		Log:     log.With().Str("component", "responder").Logger(),
	}
	if cfg.Reply.FacetsEnabled() || cfg.Reply.LinkCards {
		annotator := &richtext.Annotator{
			LinkCards:   cfg.Reply.LinkCards,
			CardTimeout: time.Duration(cfg.Reply.LinkCardTimeoutSec) * time.Second,
			Log:         log.With().Str("component", "richtext").Logger(),
		}
		if cfg.Reply.FacetsEnabled() {
			annotator.Handles = client
		}
		if cfg.Reply.LinkCards {
			annotator.Previews = linkpreview.New(linkpreview.Config{
				FetchTimeout: time.Duration(cfg.Reply.LinkCardTimeoutSec) * time.Second,
			})
			annotator.Blobs = client
		}
		deps.Annotator = annotator
	}

	r := responder.New(deps, responder.Options{
		NotificationLimit: cfg.Bluesky.NotificationLimit,
		LikeMentions:      cfg.Bluesky.LikeMentions,
		MaxConcurrent:     cfg.Schedule.MaxConcurrent,
		Prompt: responder.PromptBuilder{
			Persona:  cfg.Generation.Persona,
			Form:     cfg.Generation.Form,
			MaxChars: cfg.Generation.PromptChars,
		},
		MaxLength:      cfg.Generation.MaxLength,
		MaxAttempts:    cfg.Generation.MaxAttempts,
		AttemptTimeout: time.Duration(cfg.OpenAI.RequestTimeoutSec) * time.Second,
		Langs:          cfg.Bluesky.Langs,
	})
	return &bot{cfg: cfg, log: log, registry: registry, responder: r}, nil
}

func newLogger(cfg config.LogConfig, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "koanbot").Logger()
}

func (l *launcher) runScheduled(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	c.Context = ctx

	b, err := l.setup(c)
	if err != nil {
		return err
	}
	if addr := b.cfg.Metrics.Listen; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, b.registry, b.log); err != nil {
				b.log.Err(err).Msg("Metrics server failed")
			}
		}()
	}

	sched, err := schedule.New(b.cfg.Schedule.Spec, func(ctx context.Context) error {
		_, err := b.responder.RunCycle(ctx)
		return err
	}, b.log)
	if err != nil {
		return err
	}
	b.log.Info().Str("schedule", b.cfg.Schedule.Spec).Str("version", Version).Msg("Koanbot started")
	return sched.Run(ctx)
}

func (l *launcher) runOnce(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	c.Context = ctx

	b, err := l.setup(c)
	if err != nil {
		return err
	}
	report, err := b.responder.RunCycle(ctx)
	if err != nil {
		// A failed cycle is not a startup failure; the next invocation retries.
		b.log.Err(err).Str("cycle_id", report.ID).Msg("Cycle failed")
		return nil
	}
	fmt.Fprintf(c.App.Writer, "posted=%d failed=%d skipped=%d\n", report.Posted, report.Failed, report.Skipped)
	return nil
}
