package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"slidecast/services"
	"slidecast/utils"
)

type renderOptions struct {
	pdf       string
	persona   string
	out       string
	subtitles string
	scripts   string
}

func newRenderCommand() *cobra.Command {
	var opts renderOptions

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a PDF deck into a narrated video file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return render(cmd.Context(), cmd.ErrOrStderr(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.pdf, "pdf", "", "Slide deck PDF")
	cmd.Flags().StringVar(&opts.persona, "persona", "", "Narration persona (default from DEFAULT_PERSONA)")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Output video file")
	cmd.Flags().StringVar(&opts.subtitles, "subtitles", "", "Write SRT subtitles to this file")
	cmd.Flags().StringVar(&opts.scripts, "scripts", "", "JSON array of pre-written scripts, one per slide")
	_ = cmd.MarkFlagRequired("pdf")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func render(ctx context.Context, progress io.Writer, opts renderOptions) error {
	cfg, personas, err := loadApp()
	if err != nil {
		return err
	}
	personaID := opts.persona
	if personaID == "" {
		personaID = cfg.DefaultPersona
	}
	persona, err := personas.Get(personaID)
	if err != nil {
		return err
	}

	var scripts []string
	if opts.scripts != "" {
		if scripts, err = loadScripts(opts.scripts); err != nil {
			return err
		}
	}

	pdf, err := os.ReadFile(opts.pdf)
	if err != nil {
		return fmt.Errorf("failed to read PDF: %w", err)
	}

	start := time.Now()
	fmt.Fprintf(progress, "Rasterizing %s\n", opts.pdf)
	pages, err := services.NewPDFRasterizer(cfg.RasterDPI).Rasterize(ctx, pdf)
	if err != nil {
		return err
	}
	texts, err := services.ExtractPageTexts(pdf)
	if err != nil {
		log.Debug().Err(err).Msg("no text layer, continuing without hints")
	}

	slides := buildNarrationSlides(pages, texts, scripts)
	if len(scripts) > len(slides) {
		log.Warn().Int("scripts", len(scripts)).Int("slides", len(slides)).Msg("extra scripts ignored")
	}

	if err := cfg.RequireSpeechKeys(); err != nil {
		return err
	}
	geminiKeys := utils.NewAPIKeyPool(cfg.GeminiAPIKeys)
	var writer services.ScriptWriter
	if needsScripts(slides) {
		if err := cfg.RequireScriptKeys(); err != nil {
			return err
		}
		writer = newScriptWriter(cfg, geminiKeys)
	}

	narration := services.NewNarrationService(writer, newSpeech(cfg, geminiKeys), cfg.MaxConcurrentTTSRequests)
	err = narration.Narrate(ctx, slides, persona, func(done, total int, message string) {
		fmt.Fprintf(progress, "[%d/%d] %s\n", done, total, message)
	})
	if err != nil {
		return err
	}

	videoSlides := make([]services.VideoSlide, len(slides))
	for i, s := range slides {
		if s.Err != nil {
			log.Warn().Err(s.Err).Int("slide", i+1).Msg("slide skipped")
		}
		videoSlides[i] = services.VideoSlide{Image: s.Image, Script: s.Script}
		if s.Audio != nil {
			videoSlides[i].Audio = s.Audio.Data
		}
	}

	video := services.NewVideoService(newCompositor(ctx, cfg), nil)
	result, err := video.Render(ctx, videoSlides, func(message string) {
		fmt.Fprintln(progress, message)
	})
	if err != nil {
		return err
	}

	if err := os.WriteFile(opts.out, result.Blob.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write video: %w", err)
	}
	for _, note := range result.Blob.ContainerNotes() {
		log.Warn().
			Str("mime", result.Blob.MimeType).
			Str("container_ext", result.Blob.ContainerExtension()).
			Msg(note)
	}
	if opts.subtitles != "" {
		if err := os.WriteFile(opts.subtitles, result.Subtitles, 0o644); err != nil {
			return fmt.Errorf("failed to write subtitles: %w", err)
		}
	}

	fmt.Fprintf(progress, "Wrote %s (%s, %s video) in %s\n",
		opts.out, result.Blob.MimeType, result.Blob.Duration.Round(time.Millisecond), time.Since(start).Round(time.Second))
	return nil
}

// loadScripts reads a JSON array of per-slide scripts. Empty entries are left
// for the script writer.
func loadScripts(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scripts: %w", err)
	}
	var scripts []string
	if err := json.Unmarshal(data, &scripts); err != nil {
		return nil, fmt.Errorf("scripts file must be a JSON array of strings: %w", err)
	}
	for i := range scripts {
		scripts[i] = strings.TrimSpace(scripts[i])
	}
	return scripts, nil
}

func buildNarrationSlides(pages []services.Page, texts, scripts []string) []*services.NarrationSlide {
	slides := make([]*services.NarrationSlide, len(pages))
	for i, page := range pages {
		s := &services.NarrationSlide{Image: page.Image, ImageMIME: page.MIMEType}
		if i < len(texts) {
			s.PageText = texts[i]
		}
		if i < len(scripts) {
			s.Script = scripts[i]
		}
		slides[i] = s
	}
	return slides
}

func needsScripts(slides []*services.NarrationSlide) bool {
	for _, s := range slides {
		if s.Script == "" {
			return true
		}
	}
	return false
}
