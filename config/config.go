package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all application configuration
type Config struct {
	// Server
	Port        string `env:"PORT" envDefault:"8080"`
	TempDir     string `env:"TEMP_DIR" envDefault:"./temp"`
	DatabaseURL string `env:"DATABASE_URL"`

	// AI providers
	GeminiAPIKeys  []string `env:"GEMINI_API_KEYS" envSeparator:","`
	OpenAIAPIKey   string   `env:"OPENAI_API_KEY"`
	OpenAIBaseURL  string   `env:"OPENAI_BASE_URL"`
	ScriptProvider string   `env:"SCRIPT_PROVIDER" envDefault:"gemini"`
	ScriptModel    string   `env:"SCRIPT_MODEL"`
	SpeechProvider string   `env:"SPEECH_PROVIDER" envDefault:"gemini"`
	SpeechModel    string   `env:"SPEECH_MODEL"`
	SpeechBaseURL  string   `env:"SPEECH_BASE_URL"`

	// Personas
	PersonasFile   string `env:"PERSONAS_FILE"`
	DefaultPersona string `env:"DEFAULT_PERSONA" envDefault:"teacher"`

	// Rendering
	RasterDPI       int           `env:"RASTER_DPI" envDefault:"150"`
	AudioSampleRate int           `env:"AUDIO_SAMPLE_RATE" envDefault:"48000"`
	AudioChannels   int           `env:"AUDIO_CHANNELS" envDefault:"2"`
	RealtimeRender  bool          `env:"REALTIME_RENDER" envDefault:"false"`
	SlideTimeout    time.Duration `env:"SLIDE_TIMEOUT" envDefault:"0s"`

	// Rate limiting
	MaxConcurrentTTSRequests int `env:"MAX_CONCURRENT_TTS_REQUESTS" envDefault:"3"`
	AIRequestsPerMinute      int `env:"AI_REQUESTS_PER_MINUTE" envDefault:"15"`
	RetryDelaySeconds        int `env:"RETRY_DELAY_SECONDS" envDefault:"60"`

	// Storage
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"file"`
	StorageDir     string `env:"STORAGE_DIR" envDefault:"./data"`
	NatsURL        string `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	NatsBucket     string `env:"NATS_BUCKET" envDefault:"slidecast"`

	// Publishing
	DriveCredentialsFile string `env:"DRIVE_CREDENTIALS_FILE"`
	DriveFolderID        string `env:"DRIVE_FOLDER_ID"`

	// Auth
	JWTSecret string `env:"JWT_SECRET"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
}

// LoadConfig loads configuration from a .env file (if present) and the environment
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	switch c.ScriptProvider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("%w: SCRIPT_PROVIDER must be gemini or openai, got %q", ErrInvalidConfig, c.ScriptProvider)
	}
	switch c.SpeechProvider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("%w: SPEECH_PROVIDER must be gemini or openai, got %q", ErrInvalidConfig, c.SpeechProvider)
	}
	switch c.StorageBackend {
	case "file", "nats":
	default:
		return fmt.Errorf("%w: STORAGE_BACKEND must be file or nats, got %q", ErrInvalidConfig, c.StorageBackend)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("%w: LOG_FORMAT must be console or json, got %q", ErrInvalidConfig, c.LogFormat)
	}
	if c.RasterDPI <= 0 {
		return fmt.Errorf("%w: RASTER_DPI must be positive", ErrInvalidConfig)
	}
	if c.AudioSampleRate < 8000 {
		return fmt.Errorf("%w: AUDIO_SAMPLE_RATE must be at least 8000", ErrInvalidConfig)
	}
	if c.AudioChannels < 1 || c.AudioChannels > 2 {
		return fmt.Errorf("%w: AUDIO_CHANNELS must be 1 or 2", ErrInvalidConfig)
	}
	if c.SlideTimeout < 0 {
		return fmt.Errorf("%w: SLIDE_TIMEOUT must not be negative", ErrInvalidConfig)
	}
	if c.MaxConcurrentTTSRequests <= 0 {
		return fmt.Errorf("%w: MAX_CONCURRENT_TTS_REQUESTS must be positive", ErrInvalidConfig)
	}
	if c.AIRequestsPerMinute <= 0 {
		return fmt.Errorf("%w: AI_REQUESTS_PER_MINUTE must be positive", ErrInvalidConfig)
	}
	return nil
}

// RequireAIKeys reports whether the configured providers have credentials.
func (c *Config) RequireAIKeys() error {
	if err := c.RequireScriptKeys(); err != nil {
		return err
	}
	return c.RequireSpeechKeys()
}

// RequireScriptKeys checks the script provider's credentials. The render CLI
// with pre-written scripts runs without them.
func (c *Config) RequireScriptKeys() error {
	switch c.ScriptProvider {
	case "gemini":
		if len(c.GeminiAPIKeys) == 0 {
			return fmt.Errorf("%w: GEMINI_API_KEYS is required for the gemini script provider", ErrInvalidConfig)
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY is required for the openai script provider", ErrInvalidConfig)
		}
	}
	return nil
}

// RequireSpeechKeys checks the speech provider's credentials.
func (c *Config) RequireSpeechKeys() error {
	switch c.SpeechProvider {
	case "gemini":
		if len(c.GeminiAPIKeys) == 0 {
			return fmt.Errorf("%w: GEMINI_API_KEYS is required for the gemini speech provider", ErrInvalidConfig)
		}
	case "openai":
		if c.OpenAIAPIKey == "" && c.SpeechBaseURL == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY or SPEECH_BASE_URL is required for the openai speech provider", ErrInvalidConfig)
		}
	}
	return nil
}

// RetryDelay is RetryDelaySeconds as a duration
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

func (c *Config) String() string {
	return fmt.Sprintf("Config{Port: %s, Script: %s, Speech: %s, Gemini Keys: %d, OpenAI Key: %t, Storage: %s, DB: %t, JWT: %t}",
		c.Port, c.ScriptProvider, c.SpeechProvider, len(c.GeminiAPIKeys), c.OpenAIAPIKey != "",
		c.StorageBackend, c.DatabaseURL != "", c.JWTSecret != "")
}
