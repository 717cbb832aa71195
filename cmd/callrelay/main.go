package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Vir-8/callrelay/internal/api"
	"github.com/Vir-8/callrelay/internal/call"
	"github.com/Vir-8/callrelay/internal/config"
	"github.com/Vir-8/callrelay/internal/relay"
	"github.com/Vir-8/callrelay/internal/storage/sqlite"
	"github.com/Vir-8/callrelay/internal/telephony"
	"github.com/Vir-8/callrelay/internal/transcriber"
	"github.com/Vir-8/callrelay/internal/websocket"
	"github.com/Vir-8/callrelay/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting callrelay",
		logger.String("config", *configPath),
		logger.String("provider", cfg.Transcription.Provider))

	// Storage
	db, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		log.Error("Failed to open database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	callStorage := sqlite.NewCallStorage(db, log)

	// Observer broadcast hub
	wsServer := websocket.NewServer(cfg.Server.CORSAllowedOrigins, log)

	// Relay sessions
	manager := relay.NewManager(
		wsServer,
		relay.SessionConfig{
			ConnectTimeout:  time.Duration(cfg.Transcription.ConnectTimeoutSec) * time.Second,
			DrainTimeout:    10 * time.Second,
			MaxQueuedFrames: cfg.Transcription.MaxQueuedFrames,
		},
		transcriber.Config{
			Provider:   cfg.Transcription.Provider,
			Language:   cfg.Transcription.Language,
			Encoding:   cfg.Transcription.Encoding,
			SampleRate: cfg.Transcription.SampleRate,
			Keywords:   cfg.Transcription.Keywords,
			Deepgram: transcriber.DeepgramConfig{
				APIKey:         cfg.Transcription.Deepgram.APIKey,
				URL:            cfg.Transcription.Deepgram.URL,
				InterimResults: cfg.Transcription.Deepgram.InterimResults,
				Punctuate:      cfg.Transcription.Deepgram.Punctuate,
			},
			Speechmatics: transcriber.SpeechmaticsConfig{
				APIToken:       cfg.Transcription.Speechmatics.APIToken,
				URL:            cfg.Transcription.Speechmatics.URL,
				EnablePartials: cfg.Transcription.Speechmatics.EnablePartials,
				MaxDelaySec:    cfg.Transcription.Speechmatics.MaxDelaySec,
				OperatingPoint: cfg.Transcription.Speechmatics.OperatingPoint,
			},
		},
		log,
	)

	// Telephony
	twilioClient, err := telephony.NewClient(
		cfg.Twilio.AccountSID,
		cfg.Twilio.AuthToken,
		time.Duration(cfg.Twilio.TimeoutSeconds)*time.Second,
		log,
	)
	if err != nil {
		log.Error("Failed to create telephony client", logger.Error(err))
		os.Exit(1)
	}

	// Call orchestration
	callService, err := call.NewService(twilioClient, manager, callStorage, call.Config{
		PhoneNumber: cfg.Twilio.PhoneNumber,
		AgentNumber: cfg.Twilio.AgentNumber,
		BaseURL:     cfg.Server.BaseURL,
	}, log)
	if err != nil {
		log.Error("Failed to create call service", logger.Error(err))
		os.Exit(1)
	}

	// HTTP server
	router := api.NewRouter(callService, manager, wsServer, callStorage, cfg, log)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("Shutting down", logger.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown failed", logger.Error(err))
	}
	manager.Shutdown()
	wsServer.Shutdown()

	log.Info("Shutdown complete")
}
