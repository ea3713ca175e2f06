package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leandro-lugaresi/hub"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/echobridge/meet/internal/adapters/directory"
	"github.com/echobridge/meet/internal/adapters/httpapi"
	"github.com/echobridge/meet/internal/adapters/media"
	"github.com/echobridge/meet/internal/adapters/rtc"
	signalws "github.com/echobridge/meet/internal/adapters/signal"
	"github.com/echobridge/meet/internal/adapters/translate"
	"github.com/echobridge/meet/internal/app"
	"github.com/echobridge/meet/internal/config"
	"github.com/echobridge/meet/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	events := hub.New()
	creds := directory.NewCredStore(cfg.RefreshURL, cfg.AccessToken, cfg.RefreshToken)
	dir := directory.NewClient(directory.DefaultConfig(cfg.DirectoryURL), creds)

	deps := app.Deps{
		Events:    events,
		Signals:   signalws.NewChannel(signalws.DefaultConfig(cfg.SignalURL)),
		Translate: translate.NewChannel(translate.DefaultConfig(cfg.TranslateURL)),
		Directory: dir,
		Users:     dir,
		Creds:     creds,
		Media:     &media.Acquirer{MicPath: cfg.MicPath, FrameDuration: cfg.FrameDuration},
		Playback:  media.NewRecorder(cfg.PlaybackDir),
		Dial:      rtc.Dialer(rtc.DefaultWebRTCConfig()),
	}

	prefs := domain.TranslationPreferences{
		Language:    cfg.Language,
		VoiceGender: cfg.VoiceGender,
		GestureMode: cfg.GestureMode,
	}
	ctrl := app.NewSessionController(deps, domain.ParticipantID(cfg.ParticipantID), prefs, app.DefaultPipelineConfig())

	r := httpapi.SetupRouter(cfg.Mode, ctrl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("meet client started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if ctrl.InSession() {
		if err := ctrl.Leave(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("leave on shutdown")
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Client exited gracefully")
}
