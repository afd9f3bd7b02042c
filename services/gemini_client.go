package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"slidecast/utils"
)

const defaultRequestTimeout = 2 * time.Minute

// ErrEmptyResponse is returned when a provider answers without usable content.
var ErrEmptyResponse = errors.New("provider returned an empty response")

// AIClientOptions are shared by the Gemini and OpenAI-backed services.
type AIClientOptions struct {
	BaseURL           string
	RequestsPerMinute int
	RetryDelay        time.Duration // how long a failing key stays blacklisted
	MaxRetries        int
	Backoff           time.Duration // wait between attempts, multiplied by attempt number
	HTTPClient        *http.Client
}

func (o AIClientOptions) withDefaults() AIClientOptions {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 60 * time.Second
	}
	if o.Backoff < 0 {
		o.Backoff = 0
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return o
}

func newLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
}

// geminiPool issues GenerateContent calls, rotating API keys from the pool and
// blacklisting keys that are rate limited or rejected.
type geminiPool struct {
	keys    *utils.APIKeyPool
	opts    AIClientOptions
	limiter *rate.Limiter

	mu      sync.Mutex
	clients map[string]*genai.Client
}

func newGeminiPool(keys *utils.APIKeyPool, opts AIClientOptions) *geminiPool {
	opts = opts.withDefaults()
	return &geminiPool{
		keys:    keys,
		opts:    opts,
		limiter: newLimiter(opts.RequestsPerMinute),
		clients: make(map[string]*genai.Client),
	}
}

func (g *geminiPool) client(ctx context.Context, key string) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.clients[key]; ok {
		return c, nil
	}
	cfg := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: g.opts.HTTPClient,
	}
	if g.opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimRight(g.opts.BaseURL, "/")}
	}
	c, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}
	g.clients[key] = c
	return c, nil
}

func (g *geminiPool) generate(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var lastErr error
	for attempt := 0; attempt < g.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, time.Duration(attempt)*g.opts.Backoff); err != nil {
				return nil, err
			}
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		key, err := g.keys.GetRandomKey()
		if err != nil {
			return nil, fmt.Errorf("gemini: %w", err)
		}
		client, err := g.client(ctx, key)
		if err != nil {
			return nil, err
		}

		resp, err := client.Models.GenerateContent(ctx, model, contents, cfg)
		if err == nil {
			g.keys.MarkSuccess(key)
			return resp, nil
		}

		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			lastErr = fmt.Errorf("Gemini API request failed (status=%d): %s", apiErr.Code, strings.TrimSpace(apiErr.Message))
			switch {
			case apiErr.Code == http.StatusTooManyRequests, apiErr.Code == http.StatusUnauthorized, apiErr.Code == http.StatusForbidden:
				g.keys.MarkFailed(key, g.opts.RetryDelay)
				log.Debug().Fields(g.keys.GetStats()).Msg("gemini key blacklisted")
			case apiErr.Code >= 500:
			default:
				return nil, lastErr
			}
		} else {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("Gemini API request failed: %w", err)
		}
		log.Warn().Err(lastErr).Int("attempt", attempt+1).Str("model", model).Msg("gemini request failed")
	}
	return nil, fmt.Errorf("failed after %d retries: %w", g.opts.MaxRetries, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}
