package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"slidecast/config"
	"slidecast/utils"
)

const (
	DefaultGeminiScriptModel = "gemini-2.5-flash"
	DefaultOpenAIScriptModel = "gpt-4o-mini"
	DefaultOpenAIBaseURL     = "https://api.openai.com/v1"

	maxPageTextRunes = 4000
)

// ScriptRequest is everything the model sees when narrating one slide.
type ScriptRequest struct {
	Image          []byte
	ImageMIME      string
	PageText       string
	Persona        config.Persona
	SlideNumber    int // 1-based
	TotalSlides    int
	PreviousScript string
}

// ScriptWriter produces the spoken narration for a slide.
type ScriptWriter interface {
	WriteScript(ctx context.Context, req ScriptRequest) (string, error)
}

func scriptSystemPrompt(p config.Persona) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(p.Instructions))
	sb.WriteString("\n\nYou write the words a presenter says aloud while a slide is on screen. ")
	sb.WriteString("Reply with the narration only: no headings, no markdown, no stage directions, no speaker labels. ")
	sb.WriteString("Keep it under 120 words and do not read the slide verbatim.")
	return sb.String()
}

func scriptUserPrompt(req ScriptRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "This is slide %d of %d.", req.SlideNumber, req.TotalSlides)
	switch {
	case req.SlideNumber == 1:
		sb.WriteString(" Open the presentation.")
	case req.SlideNumber == req.TotalSlides:
		sb.WriteString(" Close the presentation.")
	}

	if text := strings.TrimSpace(req.PageText); text != "" {
		runes := []rune(text)
		if len(runes) > maxPageTextRunes {
			text = string(runes[:maxPageTextRunes])
		}
		sb.WriteString("\n\nText extracted from the slide:\n")
		sb.WriteString(text)
	}
	if prev := strings.TrimSpace(req.PreviousScript); prev != "" {
		sb.WriteString("\n\nNarration of the previous slide, continue naturally from it:\n")
		sb.WriteString(prev)
	}
	return sb.String()
}

// GeminiScriptWriter narrates slides with a multimodal Gemini model, sending
// the slide image alongside the extracted text.
type GeminiScriptWriter struct {
	pool  *geminiPool
	model string
	text  *TextProcessor
}

// NewGeminiScriptWriter creates a script writer backed by the Gemini API
func NewGeminiScriptWriter(keys *utils.APIKeyPool, model string, opts AIClientOptions) *GeminiScriptWriter {
	if model == "" {
		model = DefaultGeminiScriptModel
	}
	return &GeminiScriptWriter{
		pool:  newGeminiPool(keys, opts),
		model: model,
		text:  NewTextProcessor(0),
	}
}

// WriteScript implements ScriptWriter
func (w *GeminiScriptWriter) WriteScript(ctx context.Context, req ScriptRequest) (string, error) {
	parts := make([]*genai.Part, 0, 2)
	if len(req.Image) > 0 {
		mime := req.ImageMIME
		if mime == "" {
			mime = "image/png"
		}
		parts = append(parts, genai.NewPartFromBytes(req.Image, mime))
	}
	parts = append(parts, genai.NewPartFromText(scriptUserPrompt(req)))

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(scriptSystemPrompt(req.Persona), genai.RoleUser),
	}
	resp, err := w.pool.generate(ctx, w.model, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	if err != nil {
		return "", err
	}

	script := w.text.CleanScript(responseText(resp))
	if script == "" {
		return "", fmt.Errorf("gemini script: %w", ErrEmptyResponse)
	}
	return script, nil
}

// OpenAIScriptWriter narrates slides through any OpenAI-compatible chat
// completions endpoint. The slide image is sent as a data URL.
type OpenAIScriptWriter struct {
	client  openai.Client
	model   string
	limiter *rate.Limiter
	text    *TextProcessor
}

// NewOpenAIScriptWriter creates a script writer for an OpenAI-compatible API
func NewOpenAIScriptWriter(apiKey, model string, opts AIClientOptions) *OpenAIScriptWriter {
	opts = opts.withDefaults()
	if model == "" {
		model = DefaultOpenAIScriptModel
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}

	clientOpts := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(baseURL, "/")),
		option.WithHTTPClient(opts.HTTPClient),
		option.WithMaxRetries(opts.MaxRetries - 1),
	}
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}

	return &OpenAIScriptWriter{
		client:  openai.NewClient(clientOpts...),
		model:   model,
		limiter: newLimiter(opts.RequestsPerMinute),
		text:    NewTextProcessor(0),
	}
}

// WriteScript implements ScriptWriter
func (w *OpenAIScriptWriter) WriteScript(ctx context.Context, req ScriptRequest) (string, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return "", err
	}

	user := openai.UserMessage(scriptUserPrompt(req))
	if len(req.Image) > 0 {
		mime := req.ImageMIME
		if mime == "" {
			mime = "image/png"
		}
		user = openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(scriptUserPrompt(req)),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(req.Image),
			}),
		})
	}

	resp, err := w.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: w.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(scriptSystemPrompt(req.Persona)),
			user,
		},
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("OpenAI API request failed (status=%d): %s", apiErr.StatusCode, strings.TrimSpace(apiErr.Message))
		}
		return "", fmt.Errorf("OpenAI API request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai script: %w", ErrEmptyResponse)
	}

	script := w.text.CleanScript(resp.Choices[0].Message.Content)
	if script == "" {
		return "", fmt.Errorf("openai script: %w", ErrEmptyResponse)
	}
	return script, nil
}
