package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu       sync.Mutex
	requests []ScriptRequest
	failOn   map[int]bool
}

func (w *fakeWriter) WriteScript(_ context.Context, req ScriptRequest) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requests = append(w.requests, req)
	if w.failOn[req.SlideNumber] {
		return "", errors.New("model refused")
	}
	return fmt.Sprintf("Script for slide %d.", req.SlideNumber), nil
}

type fakeSpeech struct {
	t        *testing.T
	delay    time.Duration
	failText string

	active    int32
	maxActive int32
	voices    sync.Map
}

func (s *fakeSpeech) Synthesize(ctx context.Context, text, voice string) (*SpeechAudio, error) {
	n := atomic.AddInt32(&s.active, 1)
	defer atomic.AddInt32(&s.active, -1)
	for {
		m := atomic.LoadInt32(&s.maxActive)
		if n <= m || atomic.CompareAndSwapInt32(&s.maxActive, m, n) {
			break
		}
	}
	s.voices.Store(voice, true)

	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if s.failText != "" && strings.Contains(text, s.failText) {
		return nil, errors.New("tts unavailable")
	}
	return &SpeechAudio{Data: testWAV(s.t, 8000, 100*time.Millisecond), MIMEType: "audio/wav", Duration: 100 * time.Millisecond}, nil
}

func newSlides(n int) []*NarrationSlide {
	slides := make([]*NarrationSlide, n)
	for i := range slides {
		slides[i] = &NarrationSlide{Image: []byte("img"), ImageMIME: "image/png", PageText: fmt.Sprintf("page %d", i+1)}
	}
	return slides
}

func TestNarrateWritesScriptsInOrderWithContext(t *testing.T) {
	writer := &fakeWriter{}
	speech := &fakeSpeech{t: t}
	ns := NewNarrationService(writer, speech, 2)

	slides := newSlides(3)
	var messages []string
	err := ns.Narrate(context.Background(), slides, testPersona, func(done, total int, message string) {
		messages = append(messages, message)
		assert.Equal(t, 6, total)
		assert.LessOrEqual(t, done, total)
	})
	require.NoError(t, err)
	assert.Len(t, messages, 6)

	require.Len(t, writer.requests, 3)
	for i, req := range writer.requests {
		assert.Equal(t, i+1, req.SlideNumber)
		assert.Equal(t, 3, req.TotalSlides)
		assert.Equal(t, fmt.Sprintf("page %d", i+1), req.PageText)
	}
	assert.Empty(t, writer.requests[0].PreviousScript)
	assert.Equal(t, "Script for slide 1.", writer.requests[1].PreviousScript)
	assert.Equal(t, "Script for slide 2.", writer.requests[2].PreviousScript)

	for i, s := range slides {
		assert.NoError(t, s.Err, "slide %d", i+1)
		require.NotNil(t, s.Audio, "slide %d", i+1)
		assert.Equal(t, "audio/wav", s.Audio.MIMEType)
	}
}

func TestNarrateRecordsPerSlideFailures(t *testing.T) {
	writer := &fakeWriter{failOn: map[int]bool{2: true}}
	speech := &fakeSpeech{t: t, failText: "slide 3"}
	ns := NewNarrationService(writer, speech, 3)

	slides := newSlides(4)
	require.NoError(t, ns.Narrate(context.Background(), slides, testPersona, nil))

	assert.NoError(t, slides[0].Err)
	assert.NotNil(t, slides[0].Audio)

	assert.ErrorContains(t, slides[1].Err, "write script")
	assert.Empty(t, slides[1].Script)
	assert.Nil(t, slides[1].Audio)

	assert.ErrorContains(t, slides[2].Err, "synthesize speech")
	assert.Equal(t, "Script for slide 3.", slides[2].Script)
	assert.Nil(t, slides[2].Audio)

	assert.NoError(t, slides[3].Err)
	// slide 2 failed, so slide 4 continues from slide 3
	assert.Equal(t, "Script for slide 3.", writer.requests[3].PreviousScript)
}

func TestNarrateKeepsExistingWork(t *testing.T) {
	writer := &fakeWriter{}
	speech := &fakeSpeech{t: t}
	ns := NewNarrationService(writer, speech, 1)

	slides := newSlides(3)
	slides[0].Script = "Edited opening."
	slides[1].Script = "Already voiced."
	slides[1].Audio = &SpeechAudio{MIMEType: "audio/wav"}

	require.NoError(t, ns.Narrate(context.Background(), slides, testPersona, nil))

	require.Len(t, writer.requests, 1)
	assert.Equal(t, 3, writer.requests[0].SlideNumber)
	assert.Equal(t, "Already voiced.", writer.requests[0].PreviousScript)
	assert.Equal(t, "Edited opening.", slides[0].Script)
	assert.NotEmpty(t, slides[0].Audio.Data)
	assert.Empty(t, slides[1].Audio.Data, "existing audio is not replaced")
}

func TestNarrateLimitsSpeechConcurrency(t *testing.T) {
	speech := &fakeSpeech{t: t, delay: 20 * time.Millisecond}
	ns := NewNarrationService(&fakeWriter{}, speech, 2)

	require.NoError(t, ns.Narrate(context.Background(), newSlides(6), testPersona, nil))
	assert.LessOrEqual(t, atomic.LoadInt32(&speech.maxActive), int32(2))
	assert.Equal(t, int32(2), atomic.LoadInt32(&speech.maxActive))
}

func TestNarrateUsesPersonaVoice(t *testing.T) {
	speech := &fakeSpeech{t: t}
	ns := NewNarrationService(&fakeWriter{}, speech, 1)

	require.NoError(t, ns.Narrate(context.Background(), newSlides(1), testPersona, nil))
	_, ok := speech.voices.Load("Kore")
	assert.True(t, ok)
}

func TestNarrateWithoutWriter(t *testing.T) {
	ns := NewNarrationService(nil, &fakeSpeech{t: t}, 1)

	slides := newSlides(2)
	slides[0].Script = "Given."
	require.NoError(t, ns.Narrate(context.Background(), slides, testPersona, nil))
	assert.NotNil(t, slides[0].Audio)
	assert.Error(t, slides[1].Err)
	assert.Nil(t, slides[1].Audio)
}

func TestNarrateCancellation(t *testing.T) {
	speech := &fakeSpeech{t: t, delay: time.Second}
	ns := NewNarrationService(&fakeWriter{}, speech, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := ns.Narrate(ctx, newSlides(4), testPersona, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
