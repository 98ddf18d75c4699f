package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Yoshiki785/realtime-translator/internal/audio"
	"github.com/Yoshiki785/realtime-translator/internal/config"
	"github.com/Yoshiki785/realtime-translator/internal/history"
	"github.com/Yoshiki785/realtime-translator/internal/ledger"
	"github.com/Yoshiki785/realtime-translator/internal/observability"
	"github.com/Yoshiki785/realtime-translator/internal/realtime"
	"github.com/Yoshiki785/realtime-translator/internal/session"
	"github.com/Yoshiki785/realtime-translator/internal/translate"
)

const pendingFinalizePollInterval = 15 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("backend_url", cfg.BackendURL).
		Str("transport", cfg.RealtimeTransport).
		Str("input_lang", cfg.InputLang).
		Str("output_lang", cfg.OutputLang).
		Dur("gap_interval", cfg.GapInterval()).
		Msg("Realtime Translator starting")

	store, err := history.NewStore(cfg.HistoryDBPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open history database")
	}
	defer store.Close()

	ledgerClient := ledger.NewClient(ledger.Options{
		BaseURL:            cfg.BackendURL,
		AuthToken:          cfg.BackendToken,
		MaxFinalizeRetries: cfg.PendingFinalizeRetries,
	})
	tokens := realtime.NewTokenProvider(cfg.BackendURL, cfg.BackendToken)
	translator := translate.New(cfg.OpenAIAPIKey, cfg.OpenAIModel)

	controller := session.NewController(session.ControllerOptions{
		Config:       cfg,
		Ledger:       ledgerClient,
		Tokens:       tokens,
		NewTransport: newTransportFactory(cfg),
		Translator:   translator,
		History:      store,
		Notifier:     consoleNotifier{},
	})

	// Debug HTTP server: metrics plus health/readiness probes.
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", observability.HealthCheckHandler())

	backendCheck := func(ctx context.Context) (bool, error) {
		if _, err := ledgerClient.RefreshQuota(ctx); err != nil {
			return false, err
		}
		return true, nil
	}
	historyCheck := func(ctx context.Context) (bool, error) {
		if _, err := store.List(1); err != nil {
			return false, err
		}
		return true, nil
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"usage-backend": backendCheck,
		"history-db":    historyCheck,
	}))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.DebugPort),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info().Str("port", cfg.DebugPort).Msg("Debug server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Debug server failed to start")
		}
	}()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Retry deferred job completions periodically; this stands in for the
	// browser's online event.
	go func() {
		ticker := time.NewTicker(pendingFinalizePollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				if ledgerClient.HasPending() {
					controller.HandleOnline(rootCtx)
				}
			}
		}
	}()

	if err := controller.Start(rootCtx); err != nil {
		logger.Error().Err(err).Msg("Session start failed")
	}

	// Wait for interrupt signal to shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	controller.Stop(stopCtx)
	rootCancel()

	if err := server.Shutdown(stopCtx); err != nil {
		logger.Error().Err(err).Msg("Debug server forced to shutdown")
	}

	logger.Info().Msg("Exited gracefully")
}

// newTransportFactory builds a fresh transport per connection attempt with
// its own microphone source and optional WAV recorder.
func newTransportFactory(cfg *config.Config) session.TransportFactory {
	logger := observability.GetLogger()

	return func(handler realtime.Handler) (realtime.Transport, error) {
		mic := audio.NewMicrophone(cfg.SampleRate, cfg.Channels)

		var recorder *audio.Recorder
		if !cfg.RecordingOff {
			rec, err := audio.NewRecorder(cfg.RecordingDir, cfg.SampleRate, cfg.Channels)
			if err != nil {
				logger.Warn().Err(err).Msg("Recording disabled for this session")
			} else {
				recorder = rec
			}
		}

		settings := realtime.CaptureSettings{
			Language:     cfg.InputLang,
			VADThreshold: cfg.VADThreshold,
			VADSilenceMs: cfg.VADSilenceMs,
			VADPrefixMs:  cfg.VADPrefixMs,
		}

		if cfg.RealtimeTransport == "websocket" {
			return realtime.NewWebSocketTransport(realtime.WebSocketOptions{
				Endpoint: cfg.RealtimeURL,
				Settings: settings,
				Source:   mic,
				Recorder: recorder,
			}, handler), nil
		}
		return realtime.NewWebRTCTransport(realtime.WebRTCOptions{
			Endpoint: cfg.RealtimeURL,
			Settings: settings,
			Source:   mic,
			Recorder: recorder,
		}, handler), nil
	}
}

// consoleNotifier prints session updates to stdout.
type consoleNotifier struct{}

func (consoleNotifier) OnState(state session.State) {
	fmt.Printf("[state] %s\n", state)
}

func (consoleNotifier) OnError(message string) {
	fmt.Printf("[error] %s\n", message)
}

func (consoleNotifier) OnLive(text string) {
	if text != "" {
		fmt.Printf("\r... %s", text)
	}
}

func (consoleNotifier) OnLine(original, translation string) {
	fmt.Printf("\n> %s\n  %s\n", original, translation)
}

func (consoleNotifier) OnTakeover(activeSince string) {
	fmt.Printf("[notice] Another session is already running (since %s). Stop it before starting a new one.\n", activeSince)
}
