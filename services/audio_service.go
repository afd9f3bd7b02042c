package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"slidecast/audiograph"
	"slidecast/config"
	"slidecast/utils"
)

const (
	DefaultGeminiSpeechModel = "gemini-2.5-flash-preview-tts"
	DefaultOpenAISpeechModel = "gpt-4o-mini-tts"

	geminiPCMRate = 24000
	// keeps a single TTS request well under provider input limits
	speechChunkSize = 1500
)

// SpeechAudio is a synthesized narration clip.
type SpeechAudio struct {
	Data     []byte
	MIMEType string
	Duration time.Duration // zero when the container is not WAV
}

// SpeechSynthesizer turns narration text into audio.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (*SpeechAudio, error)
}

// personaVoicer is implemented by synthesizers whose voice names differ from
// Persona.Voice.
type personaVoicer interface {
	PersonaVoice(p config.Persona) string
}

// joinSpeech merges per-chunk clips. WAV clips are concatenated into one
// stream; any other single clip is returned unchanged.
func joinSpeech(clips [][]byte, mimeType string) (*SpeechAudio, error) {
	if len(clips) == 1 && !audiograph.IsWAV(clips[0]) {
		return &SpeechAudio{Data: clips[0], MIMEType: mimeType}, nil
	}
	data, err := audiograph.ConcatWAV(clips...)
	if err != nil {
		return nil, fmt.Errorf("failed to join audio chunks: %w", err)
	}
	buf, err := audiograph.DecodeWAV(data)
	if err != nil {
		return nil, err
	}
	return &SpeechAudio{Data: data, MIMEType: "audio/wav", Duration: buf.Duration()}, nil
}

// GeminiSpeech synthesizes speech with a Gemini TTS model. The model returns
// raw 16-bit PCM which is wrapped into WAV.
type GeminiSpeech struct {
	pool  *geminiPool
	model string
	text  *TextProcessor
}

// NewGeminiSpeech creates a speech synthesizer backed by the Gemini API
func NewGeminiSpeech(keys *utils.APIKeyPool, model string, opts AIClientOptions) *GeminiSpeech {
	if model == "" {
		model = DefaultGeminiSpeechModel
	}
	return &GeminiSpeech{
		pool:  newGeminiPool(keys, opts),
		model: model,
		text:  NewTextProcessor(speechChunkSize),
	}
}

// Synthesize implements SpeechSynthesizer
func (s *GeminiSpeech) Synthesize(ctx context.Context, text, voice string) (*SpeechAudio, error) {
	chunks := s.text.SplitForAudio(text)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("gemini speech: %w", ErrEmptyResponse)
	}

	clips := make([][]byte, 0, len(chunks))
	for i, chunk := range chunks {
		clip, err := s.synthesizeChunk(ctx, chunk, voice)
		if err != nil {
			return nil, fmt.Errorf("failed to generate audio chunk %d: %w", i, err)
		}
		clips = append(clips, clip)
	}
	return joinSpeech(clips, "audio/wav")
}

func (s *GeminiSpeech) synthesizeChunk(ctx context.Context, text, voice string) ([]byte, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityAudio)},
	}
	if voice != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		}
	}

	resp, err := s.pool.generate(ctx, s.model, genai.Text(text), cfg)
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrEmptyResponse
	}

	var pcm []byte
	sampleRate := geminiPCMRate
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		if r := pcmRate(part.InlineData.MIMEType); r > 0 {
			sampleRate = r
		}
		pcm = append(pcm, part.InlineData.Data...)
	}
	if len(pcm) == 0 {
		return nil, ErrEmptyResponse
	}
	return audiograph.PCMToWAV(pcm, sampleRate, 1)
}

// pcmRate reads the rate parameter of a type like "audio/L16;codec=pcm;rate=24000".
func pcmRate(mimeType string) int {
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return 0
	}
	r, err := strconv.Atoi(params["rate"])
	if err != nil {
		return 0
	}
	return r
}

// OpenAISpeech calls an OpenAI-compatible /audio/speech endpoint, such as
// OpenAI itself or a self-hosted server, asking for WAV output.
type OpenAISpeech struct {
	baseURL    string
	model      string
	apiPool    *utils.APIKeyPool
	httpClient *http.Client
	limiter    *rate.Limiter
	opts       AIClientOptions
	text       *TextProcessor
}

// OpenAISpeechRequest is the JSON body of an /audio/speech request
type OpenAISpeechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewOpenAISpeech creates a speech synthesizer. keys may be nil for servers
// without authentication.
func NewOpenAISpeech(keys *utils.APIKeyPool, model string, opts AIClientOptions) *OpenAISpeech {
	opts = opts.withDefaults()
	if model == "" {
		model = DefaultOpenAISpeechModel
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	return &OpenAISpeech{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		apiPool:    keys,
		httpClient: opts.HTTPClient,
		limiter:    newLimiter(opts.RequestsPerMinute),
		opts:       opts,
		text:       NewTextProcessor(speechChunkSize),
	}
}

// Synthesize implements SpeechSynthesizer
func (s *OpenAISpeech) Synthesize(ctx context.Context, text, voice string) (*SpeechAudio, error) {
	chunks := s.text.SplitForAudio(text)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("openai speech: %w", ErrEmptyResponse)
	}
	if voice == "" {
		voice = "alloy"
	}

	clips := make([][]byte, 0, len(chunks))
	contentType := "audio/wav"
	for i, chunk := range chunks {
		clip, ct, err := s.generateSingleAudio(ctx, chunk, voice)
		if err != nil {
			return nil, fmt.Errorf("failed to generate audio chunk %d: %w", i, err)
		}
		clips = append(clips, clip)
		contentType = ct
	}
	return joinSpeech(clips, contentType)
}

// PersonaVoice picks the persona's OpenAI voice
func (s *OpenAISpeech) PersonaVoice(p config.Persona) string {
	if p.OpenAIVoice != "" {
		return p.OpenAIVoice
	}
	return "alloy"
}

// generateSingleAudio generates audio for a single text chunk with retry
func (s *OpenAISpeech) generateSingleAudio(ctx context.Context, text, voice string) ([]byte, string, error) {
	var lastErr error

	for attempt := 0; attempt < s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, time.Duration(attempt)*s.opts.Backoff); err != nil {
				return nil, "", err
			}
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, "", err
		}

		apiKey := ""
		if s.apiPool.Len() > 0 {
			key, err := s.apiPool.GetRandomKey()
			if err != nil {
				return nil, "", fmt.Errorf("openai speech: %w", err)
			}
			apiKey = key
		}

		audioData, contentType, status, err := s.callSpeechAPI(ctx, text, voice, apiKey)
		if err == nil {
			if apiKey != "" {
				s.apiPool.MarkSuccess(apiKey)
			}
			return audioData, contentType, nil
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}

		lastErr = err
		if apiKey != "" && (status == http.StatusTooManyRequests || status == http.StatusUnauthorized) {
			s.apiPool.MarkFailed(apiKey, s.opts.RetryDelay)
			log.Debug().Fields(s.apiPool.GetStats()).Msg("speech key blacklisted")
		}
		if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
			return nil, "", err
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("speech request failed")
	}

	return nil, "", fmt.Errorf("failed after %d retries: %w", s.opts.MaxRetries, lastErr)
}

// callSpeechAPI performs one request. The returned status is zero for
// transport failures.
func (s *OpenAISpeech) callSpeechAPI(ctx context.Context, text, voice, apiKey string) ([]byte, string, int, error) {
	jsonData, err := json.Marshal(OpenAISpeechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: "wav",
	})
	if err != nil {
		return nil, "", 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/audio/speech", bytes.NewReader(jsonData))
	if err != nil {
		return nil, "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp openAIErrorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			return nil, "", resp.StatusCode, fmt.Errorf("API error: %s (status: %d)", errResp.Error.Message, resp.StatusCode)
		}
		return nil, "", resp.StatusCode, fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	if len(body) == 0 {
		return nil, "", resp.StatusCode, ErrEmptyResponse
	}

	contentType := resp.Header.Get("Content-Type")
	if audiograph.IsWAV(body) || contentType == "" {
		contentType = "audio/wav"
	}
	return body, contentType, resp.StatusCode, nil
}

// IsEmptyResponse reports whether err came from a provider returning nothing usable
func IsEmptyResponse(err error) bool {
	return errors.Is(err, ErrEmptyResponse)
}
