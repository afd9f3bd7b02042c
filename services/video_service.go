package services

import (
	"bytes"
	"context"
	"fmt"

	"slidecast/compositor"
	"slidecast/utils"
)

// VideoGenerator renders slides into one recording. *compositor.Compositor
// implements it.
type VideoGenerator interface {
	Generate(ctx context.Context, slides []compositor.Slide, onProgress func(string)) (*compositor.Blob, error)
}

// VideoSlide is a slide ready for rendering. Slides with no Audio are skipped.
type VideoSlide struct {
	Image  []byte
	Audio  []byte
	Script string
}

// VideoResult is a finished render.
type VideoResult struct {
	Blob      *compositor.Blob
	Subtitles []byte
}

// VideoService renders narrated slides and times their subtitles
type VideoService struct {
	generator     VideoGenerator
	textProcessor *TextProcessor
}

// NewVideoService creates a new video service
func NewVideoService(generator VideoGenerator, textProcessor *TextProcessor) *VideoService {
	if textProcessor == nil {
		textProcessor = NewTextProcessor(speechChunkSize)
	}
	return &VideoService{
		generator:     generator,
		textProcessor: textProcessor,
	}
}

// Render runs the compositor over slides and builds SRT subtitles from the
// timeline it reports.
func (vs *VideoService) Render(ctx context.Context, slides []VideoSlide, onProgress func(string)) (*VideoResult, error) {
	input := make([]compositor.Slide, len(slides))
	for i, s := range slides {
		input[i] = compositor.Slide{Image: s.Image, Audio: s.Audio}
	}

	blob, err := vs.generator.Generate(ctx, input, onProgress)
	if err != nil {
		return nil, err
	}
	return &VideoResult{
		Blob:      blob,
		Subtitles: vs.BuildSubtitles(slides, blob.Segments),
	}, nil
}

// BuildSubtitles writes an SRT document. Each slide's script is split into
// cues spread over the span its audio occupied in the video.
func (vs *VideoService) BuildSubtitles(slides []VideoSlide, segments []compositor.Segment) []byte {
	var buf bytes.Buffer
	index := 1
	for _, seg := range segments {
		if seg.Slide < 0 || seg.Slide >= len(slides) {
			continue
		}
		cues := vs.textProcessor.TimeCues(slides[seg.Slide].Script, seg.Start, seg.End-seg.Start)
		for _, cue := range cues {
			fmt.Fprintf(&buf, "%d\n%s --> %s\n%s\n\n", index,
				utils.FormatSRTTimestamp(cue.Start), utils.FormatSRTTimestamp(cue.End), cue.Text)
			index++
		}
	}
	return buf.Bytes()
}
