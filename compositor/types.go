// Package compositor turns an ordered list of slides (image plus narration
// audio) into one encoded video. Each slide's image is held on screen for
// exactly as long as its audio plays; the audio clock decides when a slide
// ends.
package compositor

import (
	"context"
	"errors"
	"image"
	"io"
	"time"

	"slidecast/audiograph"
)

// Output geometry and encoding parameters.
const (
	Width              = 1920
	Height             = 1080
	FrameRate          = 30
	VideoBitsPerSecond = 8_000_000

	// TrailingBuffer keeps the recording open after the last slide so the
	// end of the narration is not clipped by the encoder.
	TrailingBuffer = 500 * time.Millisecond

	DefaultSampleRate = 48000
	DefaultChannels   = 2
)

var (
	ErrSurfaceUnavailable  = errors.New("drawing surface unavailable")
	ErrRecorderUnavailable = errors.New("stream recorder unavailable")
	ErrNoPlayableSlides    = errors.New("no slide has narration audio")
	ErrRunInProgress       = errors.New("a video generation run is already in progress")
	ErrInvalidTransition   = errors.New("invalid compositor state transition")
	ErrSlideTimeout        = errors.New("slide playback did not finish in time")
)

// Slide is one input unit. Image holds encoded raster bytes (PNG, JPEG or
// WebP). A slide with empty Audio is skipped.
type Slide struct {
	Image []byte
	Audio []byte
}

// Segment records where a slide landed on the output timeline.
type Segment struct {
	// Slide is the 0-based index of the slide in the input list.
	Slide int
	// Start and End bound the slide's audio on the audio clock.
	Start time.Duration
	End   time.Duration
	// DrawnUntil is the clock value when the slide's last frame was shown.
	DrawnUntil time.Duration
}

// Surface is the off-screen render target shared by all slides of a run.
type Surface interface {
	Clear()
	DrawImage(img image.Image, dst image.Rectangle)
	Frame() image.Image
}

// Capabilities answers whether a MIME type can be recorded.
type Capabilities interface {
	IsTypeSupported(mimeType string) bool
}

// RecorderSettings configures one recording.
type RecorderSettings struct {
	MimeType           string
	Width              int
	Height             int
	FrameRate          int
	VideoBitsPerSecond int
	SampleRate         int
	Channels           int
}

// Recorder captures frames and the audio sink into an encoded container.
// Stop finalizes and returns the blob; Abort discards everything.
type Recorder interface {
	AudioSink() io.Writer
	WriteFrame(frame image.Image, pts time.Duration) error
	Stop(ctx context.Context) (*Blob, error)
	Abort() error
}

// RecorderFactory probes support and creates recorders.
type RecorderFactory interface {
	Capabilities
	NewRecorder(ctx context.Context, settings RecorderSettings) (Recorder, error)
}

// ImageDecoder decodes slide image bytes.
type ImageDecoder interface {
	DecodeImage(data []byte) (image.Image, error)
}

// AudioDecoder decodes slide audio into PCM at the given format.
type AudioDecoder interface {
	DecodeAudio(ctx context.Context, data []byte, sampleRate, channels int) (*audiograph.Buffer, error)
}
