package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openroom/voiceclient/internal/adapters/audio"
	router "github.com/openroom/voiceclient/internal/adapters/http"
	"github.com/openroom/voiceclient/internal/adapters/rtc"
	sig "github.com/openroom/voiceclient/internal/adapters/signal"
	"github.com/openroom/voiceclient/internal/app"
	"github.com/openroom/voiceclient/internal/app/vad"
	"github.com/openroom/voiceclient/internal/config"
	"github.com/openroom/voiceclient/internal/core"
	"github.com/openroom/voiceclient/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	channel := sig.NewChannel(sig.Options{
		URL:              cfg.SignalingURL,
		HandshakeTimeout: cfg.HandshakeTimeout,
		MaxAttempts:      cfg.ReconnectMaxAttempts,
	})
	media := rtc.NewSession(
		rtc.NewAPIClient(cfg.APIBaseURL),
		func(c core.Constraints) (core.AudioSource, error) {
			return audio.Open(cfg.DevicePath, cfg.SampleRate, c)
		},
		cfg.STUNServers,
		cfg.SampleRate,
	)

	coord := app.NewCoordinator(app.Options{
		Signal:      channel,
		Media:       media,
		Credentials: core.Credentials{Token: cfg.AuthToken, UserID: domain.UserID(cfg.UserID)},
		DisplayName: cfg.DisplayName,
		VAD: vad.Config{
			Threshold:    cfg.SpeakThreshold,
			HoldFrames:   cfg.SpeakHoldFrames,
			TickInterval: 16 * time.Millisecond,
		},
	})
	media.OnRemoteLevel(coord.HandleRemoteLevel)

	r := router.SetupRouter(cfg, coord)
	addr := fmt.Sprintf(":%d", cfg.ControlPort)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("voiced control API started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	if coord.State() != app.StateIdle {
		if err := coord.LeaveRoom(); err != nil {
			log.Warn().Err(err).Msg("leave on shutdown")
		}
	}
	channel.Disconnect()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("exited gracefully")
}
