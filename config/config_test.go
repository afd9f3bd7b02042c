package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "gemini", cfg.ScriptProvider)
	assert.Equal(t, 48000, cfg.AudioSampleRate)
	assert.Equal(t, 2, cfg.AudioChannels)
	assert.Equal(t, "file", cfg.StorageBackend)
	assert.Equal(t, time.Duration(0), cfg.SlideTimeout)
	assert.Equal(t, 60*time.Second, cfg.RetryDelay())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("GEMINI_API_KEYS", "k1, k2,k3")
	t.Setenv("SPEECH_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-secret")
	t.Setenv("SLIDE_TIMEOUT", "90s")
	t.Setenv("REALTIME_RENDER", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Len(t, cfg.GeminiAPIKeys, 3)
	assert.Equal(t, 90*time.Second, cfg.SlideTimeout)
	assert.True(t, cfg.RealtimeRender)
	assert.NoError(t, cfg.RequireAIKeys())

	s := cfg.String()
	assert.NotContains(t, s, "sk-secret")
	assert.NotContains(t, s, "k1")
	assert.Contains(t, s, "Gemini Keys: 3")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"script provider", func(c *Config) { c.ScriptProvider = "bard" }},
		{"speech provider", func(c *Config) { c.SpeechProvider = "" }},
		{"storage", func(c *Config) { c.StorageBackend = "s3" }},
		{"log format", func(c *Config) { c.LogFormat = "xml" }},
		{"dpi", func(c *Config) { c.RasterDPI = 0 }},
		{"sample rate", func(c *Config) { c.AudioSampleRate = 100 }},
		{"channels", func(c *Config) { c.AudioChannels = 6 }},
		{"timeout", func(c *Config) { c.SlideTimeout = -time.Second }},
		{"tts concurrency", func(c *Config) { c.MaxConcurrentTTSRequests = 0 }},
		{"rate", func(c *Config) { c.AIRequestsPerMinute = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig()
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestRequireAIKeys(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.ErrorIs(t, cfg.RequireAIKeys(), ErrInvalidConfig)

	cfg.ScriptProvider, cfg.SpeechProvider = "openai", "openai"
	assert.ErrorIs(t, cfg.RequireAIKeys(), ErrInvalidConfig)
	cfg.OpenAIAPIKey = "sk"
	assert.NoError(t, cfg.RequireAIKeys())

	// a self-hosted speech server needs no key
	cfg.OpenAIAPIKey = ""
	cfg.SpeechBaseURL = "http://localhost:8880/v1"
	assert.NoError(t, cfg.RequireSpeechKeys())
	assert.ErrorIs(t, cfg.RequireScriptKeys(), ErrInvalidConfig)
}

func TestEmbeddedPersonas(t *testing.T) {
	p, err := LoadPersonas("")
	require.NoError(t, err)
	require.NotEmpty(t, p.List)

	teacher, err := p.Get("teacher")
	require.NoError(t, err)
	assert.Equal(t, "Kore", teacher.Voice)
	assert.NotEmpty(t, teacher.Instructions)

	_, err = p.Get("pirate")
	assert.ErrorIs(t, err, ErrUnknownPersona)
}

func TestPersonasFileOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[persona]]
id = "pirate"
name = "Pirate"
instructions = "Talk like a pirate."
voice = "Fenrir"
`), 0o644))

	p, err := LoadPersonas(path)
	require.NoError(t, err)
	require.Len(t, p.List, 1)
	assert.Equal(t, "Fenrir", p.List[0].Voice)

	_, err = ParsePersonas([]byte("[[persona]]\nid = \"a\"\ninstructions = \"x\"\n[[persona]]\nid = \"a\"\ninstructions = \"y\"\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = ParsePersonas([]byte("not = [valid"))
	assert.Error(t, err)

	_, err = LoadPersonas(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
