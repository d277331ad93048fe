package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/masahide/erlc-sessionbot/pkg/erlc"
	"github.com/masahide/erlc-sessionbot/pkg/statusapi"
	"github.com/masahide/erlc-sessionbot/pkg/statusview"
	"github.com/masahide/erlc-sessionbot/pkg/tracker"
	"go.uber.org/zap"
)

type env struct {
	Debug bool `envconfig:"DEBUG" default:"false"`
	// Discord
	DiscordToken   string        `envconfig:"DISCORD_TOKEN" required:"true"`
	DiscordGuildID string        `envconfig:"DISCORD_GUILD_ID"`
	AllowedRoleID  string        `envconfig:"ALLOWED_ROLE_ID" default:"1461009685149782102"`
	PollInterval   time.Duration `envconfig:"POLL_INTERVAL" default:"1m"`
	// Telemetry
	MetricsEnabled  bool          `envconfig:"METRICS_ENABLED" default:"false"`
	MetricsInterval time.Duration `envconfig:"METRICS_INTERVAL" default:"1m"`
	MackerelHostID  string        `envconfig:"MACKEREL_HOST_ID"`
	MackerelAPIKey  string        `envconfig:"MACKEREL_API_KEY"`

	erlc.Env
	statusview.Theme
	statusapi.Config
}

func loadEnv() (env, error) {
	e := env{}
	if err := envconfig.Process("", &e); err != nil {
		return e, err
	}
	if e.DiscordToken == "" {
		return e, errors.New("DISCORD_TOKEN is empty")
	}
	if e.Env.APIKey == "" {
		return e, errors.New("ERLC_API_KEY is empty")
	}
	return e, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	dotenvErr := godotenv.Load()
	e, cfgErr := loadEnv()
	logger, err := newLogger(e.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	if dotenvErr != nil && !errors.Is(dotenvErr, fs.ErrNotExist) {
		logger.Warn(".env not loaded", zap.Error(dotenvErr))
	}
	if cfgErr != nil {
		logger.Fatal("config error", zap.Error(cfgErr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, e, logger); err != nil {
		logger.Error("exit", zap.Error(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, e env, logger *zap.Logger) error {
	dg, err := discordgo.New("Bot " + e.DiscordToken)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds

	tel, err := setupTelemetry(ctx, e, logger.Named("telemetry"))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tel.shutdown(shCtx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	client := erlc.New(e.Env, erlc.WithLogger(logger.Named("erlc")))
	fetcher := tel.observe(client)

	d := newBot(e, discordChat{s: dg}, fetcher, logger)
	dg.AddHandler(d.ready)
	dg.AddHandler(d.interactionCreate)
	if err := dg.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	defer dg.Close()

	p := &tracker.Poller{
		Set:      d.tracked,
		Chat:     d.chat,
		Fetcher:  fetcher,
		Render:   d.theme.StatusEmbed,
		Interval: e.PollInterval,
		Logger:   logger.Named("poller"),
		OnTick:   tel.onTick,
	}
	go p.Run(ctx)

	go d.reportLoop(ctx, fetcher, newMackerelReporter(e, logger.Named("mackerel")))

	if e.Addr != "" {
		h := statusapi.New(e.Config, statusapi.Deps{
			Sessions: d.sessions,
			Tracked:  d.tracked,
			Fetcher:  fetcher,
			Logger:   logger.Named("statusapi"),
		})
		go func() {
			if err := statusapi.Serve(ctx, e.Config, h, logger.Named("statusapi")); err != nil {
				logger.Error("status api", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down...")
	return nil
}
