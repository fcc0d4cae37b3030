package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Reverse-Call-Center/agent-phone/agents"
	"github.com/Reverse-Call-Center/agent-phone/audio"
	"github.com/Reverse-Call-Center/agent-phone/config"
	"github.com/Reverse-Call-Center/agent-phone/credentials"
	"github.com/Reverse-Call-Center/agent-phone/handlers"
	"github.com/Reverse-Call-Center/agent-phone/server"
	"github.com/Reverse-Call-Center/agent-phone/softphone"
	"github.com/Reverse-Call-Center/agent-phone/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.String("config", "config.json", "path to the JSON config file")
	logLevel := pflag.String("log-level", "", "log level (overrides config)")
	presenceListen := pflag.String("presence-listen", "", "host the presence collector on this address")
	pflag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	setLogLevel(cfg.LogLevel, *logLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info().Str("sip_server", cfg.SIPServer).Msg("Agent phone starting...")

	provider, err := credentialProvider(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading credentials")
	}

	if *presenceListen != "" {
		go startPresenceCollector(ctx, *presenceListen)
	}

	var reporter agents.Reporter
	if cfg.PresenceGRPCAddress != "" {
		r, conn, err := agents.DialReporter(cfg.PresenceGRPCAddress, func() string {
			return provider.Current().Identity
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Error connecting to presence service")
		}
		defer conn.Close()
		reporter = r
	}

	capture, err := audio.NewCaptureProvider(cfg.AudioCapture)
	if err != nil {
		log.Fatal().Err(err).Msg("Error selecting audio capture")
	}
	sinks := audio.CommandSinks(cfg.PlaybackCommand)

	sipServer, err := server.NewSIPServer(cfg, provider.Current, nil, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Error starting SIP user agent")
	}

	phone := softphone.New(cfg, softphone.Deps{
		Transport:   sipServer,
		Signaling:   sipServer,
		Capture:     capture,
		Sinks:       sinks,
		Reporter:    reporter,
		Credentials: provider,
		Logger:      log.Logger,
	})

	go func() {
		if err := sipServer.Serve(ctx, phone); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("SIP user agent stopped")
			cancel()
		}
	}()

	srv := &http.Server{
		Addr:              cfg.UIListenAddress,
		Handler:           handlers.NewRouter(phone, log.Logger),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		log.Info().Str("address", cfg.UIListenAddress).Msg("UI listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("UI server failed")
			cancel()
		}
	}()

	if err := phone.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Softphone stopped with error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("UI server forced to shutdown")
	}
	if err := sipServer.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("SIP user agent shutdown")
	}
	log.Info().Msg("Agent phone stopped")
}

func setLogLevel(configured, override string) {
	level := configured
	if override != "" {
		level = override
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		log.Warn().Str("level", level).Msg("Unknown log level, using info")
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}

// credentialProvider watches the credentials file when one is configured,
// otherwise it takes the identity from the environment.
func credentialProvider(ctx context.Context, cfg *config.Config) (credentials.Provider, error) {
	if cfg.CredentialsFile == "" {
		return credentials.Static{Credentials: types.Credentials{
			Identity: os.Getenv("AGENT_PHONE_IDENTITY"),
			Secret:   os.Getenv("AGENT_PHONE_SECRET"),
		}}, nil
	}
	provider, err := credentials.NewFileProvider(cfg.CredentialsFile, log.Logger)
	if err != nil {
		return nil, err
	}
	go provider.Run(ctx)
	return provider, nil
}

func startPresenceCollector(ctx context.Context, addr string) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error().Err(err).Str("address", addr).Msg("Failed to listen for presence reports")
		return
	}
	if err := agents.NewCollector(log.Logger).Serve(ctx, lis); err != nil {
		log.Error().Err(err).Msg("Presence collector stopped")
	}
}
