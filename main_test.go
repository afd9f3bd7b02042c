package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slidecast/config"
	"slidecast/services"
	"slidecast/storage"
	"slidecast/utils"
)

func TestRootCommand(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"serve", "render", "personas"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestRenderRequiresFlags(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"render", "--pdf", "deck.pdf"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out")
}

func TestLoadScripts(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    []string
		wantErr bool
	}{
		{"array", `["  Hello. ", "", "Bye."]`, []string{"Hello.", "", "Bye."}, false},
		{"object", `{"1": "Hello."}`, nil, true},
		{"garbage", `not json`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			got, err := loadScripts(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("loadScripts() error = %v, wantErr %v", err, tt.wantErr)
			}
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := loadScripts(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestBuildNarrationSlides(t *testing.T) {
	pages := []services.Page{
		{Number: 1, Image: []byte("a"), MIMEType: "image/png"},
		{Number: 2, Image: []byte("b"), MIMEType: "image/png"},
		{Number: 3, Image: []byte("c"), MIMEType: "image/png"},
	}
	slides := buildNarrationSlides(pages, []string{"Intro"}, []string{"Welcome.", ""})
	require.Len(t, slides, 3)

	assert.Equal(t, []byte("a"), slides[0].Image)
	assert.Equal(t, "Intro", slides[0].PageText)
	assert.Equal(t, "Welcome.", slides[0].Script)
	assert.Empty(t, slides[1].Script)
	assert.Empty(t, slides[2].PageText)
	assert.True(t, needsScripts(slides))

	slides[1].Script, slides[2].Script = "Middle.", "End."
	assert.False(t, needsScripts(slides))
}

func TestPrintPersonas(t *testing.T) {
	personas, err := config.LoadPersonas("")
	require.NoError(t, err)

	var out bytes.Buffer
	printPersonas(&out, personas, "teacher")
	assert.Contains(t, out.String(), "* teacher")
}

func TestProviderSelection(t *testing.T) {
	keys := utils.NewAPIKeyPool([]string{"k"})
	cfg := &config.Config{ScriptProvider: "gemini", SpeechProvider: "gemini", AIRequestsPerMinute: 60}

	assert.IsType(t, &services.GeminiScriptWriter{}, newScriptWriter(cfg, keys))
	assert.IsType(t, &services.GeminiSpeech{}, newSpeech(cfg, keys))

	cfg.ScriptProvider, cfg.SpeechProvider = "openai", "openai"
	cfg.SpeechBaseURL = "http://localhost:8880/v1"
	assert.IsType(t, &services.OpenAIScriptWriter{}, newScriptWriter(cfg, keys))
	assert.IsType(t, &services.OpenAISpeech{}, newSpeech(cfg, keys))
}

func TestNewStoreAndPublisher(t *testing.T) {
	cfg := &config.Config{StorageBackend: "file", StorageDir: t.TempDir()}
	store, closeFn, err := newStore(cfg)
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &storage.FileStore{}, store)

	pub, err := newPublisher(context.Background(), cfg)
	require.NoError(t, err)
	assert.Nil(t, pub)

	cfg.DriveCredentialsFile = filepath.Join(t.TempDir(), "missing.json")
	_, err = newPublisher(context.Background(), cfg)
	assert.Error(t, err)
}
