package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"slidecast/compositor"
	"slidecast/config"
	"slidecast/encoder"
	"slidecast/logging"
	"slidecast/services"
	"slidecast/storage"
	"slidecast/utils"
)

// loadApp reads configuration and sets up the global logger.
func loadApp() (*config.Config, *config.Personas, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Debug().Str("config", cfg.String()).Msg("configuration loaded")

	personas, err := config.LoadPersonas(cfg.PersonasFile)
	if err != nil {
		return nil, nil, err
	}
	if _, err := personas.Get(cfg.DefaultPersona); err != nil {
		return nil, nil, fmt.Errorf("DEFAULT_PERSONA: %w", err)
	}
	return cfg, personas, nil
}

func aiOptions(cfg *config.Config, baseURL string) services.AIClientOptions {
	return services.AIClientOptions{
		BaseURL:           baseURL,
		RequestsPerMinute: cfg.AIRequestsPerMinute,
		RetryDelay:        cfg.RetryDelay(),
		Backoff:           time.Second,
	}
}

func newScriptWriter(cfg *config.Config, geminiKeys *utils.APIKeyPool) services.ScriptWriter {
	if cfg.ScriptProvider == "openai" {
		return services.NewOpenAIScriptWriter(cfg.OpenAIAPIKey, cfg.ScriptModel, aiOptions(cfg, cfg.OpenAIBaseURL))
	}
	return services.NewGeminiScriptWriter(geminiKeys, cfg.ScriptModel, aiOptions(cfg, ""))
}

func newSpeech(cfg *config.Config, geminiKeys *utils.APIKeyPool) services.SpeechSynthesizer {
	if cfg.SpeechProvider == "openai" {
		baseURL := cfg.SpeechBaseURL
		if baseURL == "" {
			baseURL = cfg.OpenAIBaseURL
		}
		var keys *utils.APIKeyPool
		if cfg.OpenAIAPIKey != "" {
			keys = utils.NewAPIKeyPool([]string{cfg.OpenAIAPIKey})
		}
		return services.NewOpenAISpeech(keys, cfg.SpeechModel, aiOptions(cfg, baseURL))
	}
	return services.NewGeminiSpeech(geminiKeys, cfg.SpeechModel, aiOptions(cfg, ""))
}

// newCompositor probes ffmpeg and builds the compositor. Without ffmpeg every
// render fails with a recorder capability error.
func newCompositor(ctx context.Context, cfg *config.Config) *compositor.Compositor {
	caps, err := encoder.ProbeCapabilities(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("ffmpeg unavailable, rendering is disabled")
		caps = encoder.NewCapabilities(nil, nil)
	} else {
		log.Info().Str("h264", caps.H264Encoder()).Msg("ffmpeg capabilities probed")
	}

	logger := log.With().Str("component", "compositor").Logger()
	return compositor.New(compositor.Options{
		Recorders:    encoder.NewRecorderFactory(caps, cfg.TempDir, logger),
		Audio:        encoder.AudioDecoder{},
		SampleRate:   cfg.AudioSampleRate,
		Channels:     cfg.AudioChannels,
		Realtime:     cfg.RealtimeRender,
		SlideTimeout: cfg.SlideTimeout,
		Logger:       &logger,
	})
}

// newStore opens the configured artifact store. The returned func releases it.
func newStore(cfg *config.Config) (storage.ArtifactStore, func(), error) {
	if cfg.StorageBackend == "nats" {
		store, closeFn, err := storage.ConnectNatsObjectStore(cfg.NatsURL, cfg.NatsBucket)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("url", cfg.NatsURL).Str("bucket", cfg.NatsBucket).Msg("using NATS object store")
		return store, closeFn, nil
	}
	log.Info().Str("dir", cfg.StorageDir).Msg("using file store")
	return storage.NewFileStore(cfg.StorageDir), func() {}, nil
}

// newPublisher returns nil when Drive publishing is not configured.
func newPublisher(ctx context.Context, cfg *config.Config) (storage.Publisher, error) {
	if cfg.DriveCredentialsFile == "" {
		return nil, nil
	}
	pub, err := storage.NewDrivePublisher(ctx, cfg.DriveCredentialsFile, cfg.DriveFolderID)
	if err != nil {
		return nil, err
	}
	log.Info().Str("folder", cfg.DriveFolderID).Msg("Drive publishing enabled")
	return pub, nil
}
