package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slidecast/config"
	"slidecast/utils"
)

var testPersona = config.Persona{
	ID:           "teacher",
	Name:         "Teacher",
	Instructions: "You are a patient teacher.",
	Voice:        "Kore",
	OpenAIVoice:  "nova",
}

const geminiTextResponse = `{
	"candidates":[
		{
			"content":{"parts":[{"text":"**Narration:** Welcome to the second slide."}],"role":"model"},
			"finishReason":"STOP"
		}
	]
}`

func TestScriptUserPrompt(t *testing.T) {
	tests := []struct {
		name     string
		req      ScriptRequest
		contains []string
		excludes []string
	}{
		{
			name:     "first slide",
			req:      ScriptRequest{SlideNumber: 1, TotalSlides: 3, PageText: "Agenda"},
			contains: []string{"slide 1 of 3", "Open the presentation", "Agenda"},
			excludes: []string{"previous slide"},
		},
		{
			name:     "middle slide with history",
			req:      ScriptRequest{SlideNumber: 2, TotalSlides: 3, PreviousScript: "We started with the agenda."},
			contains: []string{"slide 2 of 3", "previous slide", "We started with the agenda."},
			excludes: []string{"Open the presentation", "Close the presentation", "Text extracted"},
		},
		{
			name:     "last slide",
			req:      ScriptRequest{SlideNumber: 3, TotalSlides: 3},
			contains: []string{"Close the presentation"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompt := scriptUserPrompt(tt.req)
			for _, s := range tt.contains {
				if !strings.Contains(prompt, s) {
					t.Errorf("prompt missing %q:\n%s", s, prompt)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(prompt, s) {
					t.Errorf("prompt should not contain %q:\n%s", s, prompt)
				}
			}
		})
	}
}

func TestScriptUserPromptTruncatesPageText(t *testing.T) {
	prompt := scriptUserPrompt(ScriptRequest{SlideNumber: 2, TotalSlides: 3, PageText: strings.Repeat("é", maxPageTextRunes+100)})
	assert.Equal(t, maxPageTextRunes, strings.Count(prompt, "é"))
}

func TestGeminiScriptWriter(t *testing.T) {
	var (
		requestPath string
		rawBody     string
		apiKey      string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestPath = r.URL.Path
		apiKey = r.Header.Get("x-goog-api-key")
		body, _ := io.ReadAll(r.Body)
		rawBody = string(body)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(geminiTextResponse))
	}))
	defer server.Close()

	writer := NewGeminiScriptWriter(utils.NewAPIKeyPool([]string{"test-key"}), "", AIClientOptions{BaseURL: server.URL})
	script, err := writer.WriteScript(context.Background(), ScriptRequest{
		Image:       []byte("png bytes"),
		PageText:    "Revenue by quarter",
		Persona:     testPersona,
		SlideNumber: 2,
		TotalSlides: 5,
	})
	require.NoError(t, err)

	assert.Equal(t, "Welcome to the second slide.", script)
	assert.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", requestPath)
	assert.Equal(t, "test-key", apiKey)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(rawBody), &body))
	assert.Contains(t, body, "systemInstruction")
	assert.Contains(t, rawBody, "inlineData")
	assert.Contains(t, rawBody, "image/png")
	assert.Contains(t, rawBody, "Revenue by quarter")
	assert.Contains(t, rawBody, "patient teacher")
}

func TestGeminiScriptWriterBlacklistsRateLimitedKey(t *testing.T) {
	var (
		mu   sync.Mutex
		used = map[string]int{}
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("x-goog-api-key")
		mu.Lock()
		used[key]++
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if key == "exhausted" {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`))
			return
		}
		_, _ = w.Write([]byte(geminiTextResponse))
	}))
	defer server.Close()

	pool := utils.NewAPIKeyPool([]string{"exhausted", "good"})
	writer := NewGeminiScriptWriter(pool, "", AIClientOptions{BaseURL: server.URL})
	for i := 0; i < 4; i++ {
		_, err := writer.WriteScript(context.Background(), ScriptRequest{SlideNumber: 1, TotalSlides: 1, Persona: testPersona})
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, used["exhausted"], 1, "a rate limited key must not be reused")
	assert.Equal(t, 4, used["good"])
}

func TestGeminiScriptWriterDoesNotRetryBadRequest(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"invalid image","status":"INVALID_ARGUMENT"}}`))
	}))
	defer server.Close()

	writer := NewGeminiScriptWriter(utils.NewAPIKeyPool([]string{"k"}), "", AIClientOptions{BaseURL: server.URL})
	_, err := writer.WriteScript(context.Background(), ScriptRequest{SlideNumber: 1, TotalSlides: 1, Persona: testPersona})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=400")
	assert.Contains(t, err.Error(), "invalid image")
	assert.Equal(t, 1, calls)
}

func TestGeminiScriptWriterEmptyAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"  "}],"role":"model"}}]}`))
	}))
	defer server.Close()

	writer := NewGeminiScriptWriter(utils.NewAPIKeyPool([]string{"k"}), "", AIClientOptions{BaseURL: server.URL})
	_, err := writer.WriteScript(context.Background(), ScriptRequest{SlideNumber: 1, TotalSlides: 1, Persona: testPersona})
	assert.True(t, IsEmptyResponse(err), "got %v", err)
}

func TestGeminiScriptWriterNoKeys(t *testing.T) {
	writer := NewGeminiScriptWriter(nil, "", AIClientOptions{BaseURL: "http://127.0.0.1:1"})
	_, err := writer.WriteScript(context.Background(), ScriptRequest{SlideNumber: 1, TotalSlides: 1})
	assert.ErrorIs(t, err, utils.ErrNoAvailableKeys)
}

func TestOpenAIScriptWriter(t *testing.T) {
	var (
		requestPath string
		auth        string
		body        struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string          `json:"role"`
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
		}
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestPath = r.URL.Path
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"\"Here is our roadmap.\""}}]}`))
	}))
	defer server.Close()

	writer := NewOpenAIScriptWriter("sk-test", "", AIClientOptions{BaseURL: server.URL})
	script, err := writer.WriteScript(context.Background(), ScriptRequest{
		Image:          []byte("png"),
		ImageMIME:      "image/png",
		Persona:        testPersona,
		SlideNumber:    2,
		TotalSlides:    3,
		PreviousScript: "Hello.",
	})
	require.NoError(t, err)

	assert.Equal(t, "Here is our roadmap.", script)
	assert.Equal(t, "/chat/completions", requestPath)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, DefaultOpenAIScriptModel, body.Model)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "system", body.Messages[0].Role)
	assert.Equal(t, "user", body.Messages[1].Role)
	assert.Contains(t, string(body.Messages[1].Content), "slide 2 of 3")
	assert.Contains(t, string(body.Messages[1].Content), "data:image/png;base64,")
}

func TestOpenAIScriptWriterAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"unknown model","type":"invalid_request_error","param":"model","code":"model_not_found"}}`))
	}))
	defer server.Close()

	writer := NewOpenAIScriptWriter("sk-test", "nope", AIClientOptions{BaseURL: server.URL})
	_, err := writer.WriteScript(context.Background(), ScriptRequest{SlideNumber: 1, TotalSlides: 1, Persona: testPersona})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=400")
	assert.Contains(t, err.Error(), "unknown model")
}
