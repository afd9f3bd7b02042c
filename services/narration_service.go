package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"slidecast/config"
)

// NarrationSlide carries one slide through script writing and speech
// synthesis. A slide that already has a Script keeps it; a slide that
// already has Audio is not synthesized again.
type NarrationSlide struct {
	Image     []byte
	ImageMIME string
	PageText  string
	Script    string
	Audio     *SpeechAudio
	Err       error
}

// NarrationProgress is called after every completed step.
type NarrationProgress func(done, total int, message string)

// NarrationService writes scripts and synthesizes speech for a deck
type NarrationService struct {
	writer        ScriptWriter
	speech        SpeechSynthesizer
	maxConcurrent int
	text          *TextProcessor
}

// NewNarrationService creates a new narration service. writer may be nil
// when every slide arrives with a script.
func NewNarrationService(writer ScriptWriter, speech SpeechSynthesizer, maxConcurrent int) *NarrationService {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &NarrationService{
		writer:        writer,
		speech:        speech,
		maxConcurrent: maxConcurrent,
		text:          NewTextProcessor(speechChunkSize),
	}
}

// Narrate fills in Script and Audio for every slide. Scripts are written in
// slide order so each request sees the previous narration; speech is then
// synthesized concurrently. A failure on one slide is stored in its Err and
// the rest of the deck continues. Only cancellation aborts the batch.
func (ns *NarrationService) Narrate(ctx context.Context, slides []*NarrationSlide, persona config.Persona, onProgress NarrationProgress) error {
	if onProgress == nil {
		onProgress = func(int, int, string) {}
	}

	total := 0
	for _, s := range slides {
		if s.Script == "" {
			total++
		}
		if s.Audio == nil {
			total++
		}
	}
	done := 0
	var progressMu sync.Mutex
	step := func(message string) {
		progressMu.Lock()
		defer progressMu.Unlock()
		done++
		onProgress(done, total, message)
	}

	previous := ""
	for i, s := range slides {
		if s.Script != "" {
			previous = s.Script
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if ns.writer == nil {
			s.Err = fmt.Errorf("slide %d: no script writer configured", i+1)
			step(fmt.Sprintf("Skipped script %d/%d", i+1, len(slides)))
			continue
		}

		script, err := ns.writer.WriteScript(ctx, ScriptRequest{
			Image:          s.Image,
			ImageMIME:      s.ImageMIME,
			PageText:       s.PageText,
			Persona:        persona,
			SlideNumber:    i + 1,
			TotalSlides:    len(slides),
			PreviousScript: previous,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Int("slide", i+1).Msg("script generation failed")
			s.Err = fmt.Errorf("slide %d: write script: %w", i+1, err)
			step(fmt.Sprintf("Script failed for slide %d/%d", i+1, len(slides)))
			continue
		}
		s.Script = script
		previous = script
		log.Debug().Int("slide", i+1).Fields(ns.text.GetStats(script)).Msg("script written")
		step(fmt.Sprintf("Wrote script %d/%d", i+1, len(slides)))
	}

	voice := persona.Voice
	if v, ok := ns.speech.(personaVoicer); ok {
		voice = v.PersonaVoice(persona)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ns.maxConcurrent)
	for i, s := range slides {
		if s.Audio != nil {
			continue
		}
		if s.Script == "" {
			step(fmt.Sprintf("Skipped speech %d/%d", i+1, len(slides)))
			continue
		}

		g.Go(func() error {
			audio, err := ns.speech.Synthesize(gctx, s.Script, voice)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn().Err(err).Int("slide", i+1).Msg("speech synthesis failed")
				s.Err = fmt.Errorf("slide %d: synthesize speech: %w", i+1, err)
				step(fmt.Sprintf("Speech failed for slide %d/%d", i+1, len(slides)))
				return nil
			}
			s.Audio = audio
			s.Err = nil
			step(fmt.Sprintf("Synthesized speech %d/%d", i+1, len(slides)))
			return nil
		})
	}
	return g.Wait()
}
