package compositor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"slidecast/audiograph"
)

// Options configures a Compositor. Only Recorders is required.
type Options struct {
	Recorders  RecorderFactory
	NewSurface func(w, h int) (Surface, error)
	Images     ImageDecoder
	Audio      AudioDecoder

	SampleRate int
	Channels   int

	// Realtime paces rendering against the wall clock instead of running
	// the audio graph as fast as possible.
	Realtime bool
	// SlideTimeout, when positive, aborts a slide that has not finished
	// within its audio duration plus this margin of wall time.
	SlideTimeout time.Duration

	Logger *zerolog.Logger
}

// Compositor renders slides into a single video. A Compositor runs one
// generation at a time; it can be reused once a run has returned.
type Compositor struct {
	opts    Options
	log     zerolog.Logger
	running atomic.Bool

	mu    sync.Mutex
	state State

	// onAudioContext observes the per-run audio context.
	onAudioContext func(*audiograph.Context)
}

// New fills unset options with defaults.
func New(opts Options) *Compositor {
	if opts.NewSurface == nil {
		opts.NewSurface = NewCanvas
	}
	if opts.Images == nil {
		opts.Images = StdImageDecoder{}
	}
	if opts.Audio == nil {
		opts.Audio = WAVDecoder{}
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultSampleRate
	}
	if opts.Channels <= 0 {
		opts.Channels = DefaultChannels
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Compositor{
		opts: opts,
		log:  logger.With().Str("component", "compositor").Logger(),
	}
}

// run holds everything acquired by one Generate call.
type run struct {
	c          *Compositor
	ctx        context.Context
	slides     []Slide
	onProgress func(string)

	mimeType  string
	surface   Surface
	recorder  Recorder
	audio     *audiograph.Context
	scheduler FrameScheduler
	segments  []Segment
}

// Generate plays every slide that has audio, in order, holding its image on
// screen for the audio's duration, then returns the encoded recording.
// Slides without audio are skipped. Any failure aborts the whole run.
func (c *Compositor) Generate(ctx context.Context, slides []Slide, onProgress func(string)) (*Blob, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer c.running.Store(false)

	// A rejected run leaves the previous run's final state visible.
	if !hasPlayable(slides) {
		return nil, ErrNoPlayableSlides
	}

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()

	if onProgress == nil {
		onProgress = func(string) {}
	}

	r := &run{c: c, ctx: ctx, slides: slides, onProgress: onProgress}
	blob, err := r.execute()
	if err != nil {
		r.abort()
		if terr := c.transition(StateAborted); terr != nil {
			c.log.Error().Err(terr).Msg("abort transition")
		}
		c.log.Error().Err(err).Msg("video generation aborted")
		return nil, err
	}
	return blob, nil
}

func hasPlayable(slides []Slide) bool {
	for _, s := range slides {
		if len(s.Audio) > 0 {
			return true
		}
	}
	return false
}

func (r *run) execute() (*Blob, error) {
	c := r.c
	if c.opts.Recorders == nil {
		return nil, fmt.Errorf("%w: no recorder configured", ErrRecorderUnavailable)
	}

	r.mimeType = NegotiateMimeType(c.opts.Recorders)
	r.onProgress(fmt.Sprintf("Preparing recorder (%s)", r.mimeType))
	c.log.Info().Str("mime_type", r.mimeType).Int("slides", len(r.slides)).Msg("starting video generation")

	surface, err := c.opts.NewSurface(Width, Height)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSurfaceUnavailable, err)
	}
	r.surface = surface

	recorder, err := c.opts.Recorders.NewRecorder(r.ctx, RecorderSettings{
		MimeType:           r.mimeType,
		Width:              Width,
		Height:             Height,
		FrameRate:          FrameRate,
		VideoBitsPerSecond: VideoBitsPerSecond,
		SampleRate:         c.opts.SampleRate,
		Channels:           c.opts.Channels,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRecorderUnavailable, err)
	}
	r.recorder = recorder

	audio, err := audiograph.NewContext(c.opts.SampleRate, c.opts.Channels, recorder.AudioSink())
	if err != nil {
		return nil, fmt.Errorf("failed to create audio context: %w", err)
	}
	r.audio = audio
	if c.onAudioContext != nil {
		c.onAudioContext(audio)
	}

	if err := c.transition(StateRecording); err != nil {
		return nil, err
	}

	if c.opts.Realtime {
		sched, err := newRealtimeScheduler(audio, FrameRate)
		if err != nil {
			return nil, fmt.Errorf("failed to start audio pump: %w", err)
		}
		r.scheduler = sched
	} else {
		r.scheduler = newOfflineScheduler(audio, FrameRate)
	}

	if err := r.playSlides(); err != nil {
		return nil, err
	}
	if err := r.drawTrailingBuffer(); err != nil {
		return nil, err
	}
	return r.finalize()
}

// cue is a decoded slide whose audio is queued on the audio clock.
type cue struct {
	index      int
	scaled     image.Image
	rect       image.Rectangle
	start, end time.Duration
}

// playSlides plays every slide with audio back to back. Each slide's source
// is queued at the previous slide's end before the previous slide is drawn,
// so the audio clock never runs silent between slides.
func (r *run) playSlides() error {
	c := r.c
	var playable []int
	for i, slide := range r.slides {
		if len(slide.Audio) == 0 {
			c.log.Debug().Int("slide", i+1).Msg("skipping slide without audio")
			continue
		}
		playable = append(playable, i)
	}

	var next *cue
	for k, i := range playable {
		if err := c.transition(StateScheduled); err != nil {
			return err
		}
		r.onProgress(fmt.Sprintf("Rendering slide %d/%d", i+1, len(r.slides)))

		cur := next
		if cur == nil {
			var err error
			if cur, err = r.queue(i, r.audio.CurrentTime()); err != nil {
				return err
			}
		}
		if err := c.transition(StatePlaying); err != nil {
			return err
		}

		next = nil
		if k+1 < len(playable) {
			var err error
			if next, err = r.queue(playable[k+1], cur.end); err != nil {
				return err
			}
		}
		if err := r.drawSlide(cur); err != nil {
			return err
		}
	}
	return nil
}

// queue decodes slide i and schedules its audio to start at the given time.
func (r *run) queue(i int, at time.Duration) (*cue, error) {
	c := r.c
	slide := r.slides[i]

	buf, err := c.opts.Audio.DecodeAudio(r.ctx, slide.Audio, c.opts.SampleRate, c.opts.Channels)
	if err != nil {
		return nil, fmt.Errorf("slide %d: decode audio: %w", i+1, err)
	}
	img, err := c.opts.Images.DecodeImage(slide.Image)
	if err != nil {
		return nil, fmt.Errorf("slide %d: decode image: %w", i+1, err)
	}
	scaled, rect := scaleToFit(img, Width, Height)

	src, err := r.audio.CreateBufferSource(buf)
	if err != nil {
		return nil, fmt.Errorf("slide %d: create audio source: %w", i+1, err)
	}
	if err := src.StartAt(at); err != nil {
		return nil, fmt.Errorf("slide %d: start audio: %w", i+1, err)
	}
	return &cue{index: i, scaled: scaled, rect: rect, start: src.StartTime(), end: src.EndTime()}, nil
}

// drawSlide holds the slide on screen until the audio clock reaches its end.
func (r *run) drawSlide(cur *cue) error {
	c := r.c
	i := cur.index
	var deadline time.Time
	if c.opts.SlideTimeout > 0 {
		deadline = time.Now().Add(cur.end - r.audio.CurrentTime() + c.opts.SlideTimeout)
	}
	c.log.Debug().
		Int("slide", i+1).
		Dur("start", cur.start).
		Dur("duration", cur.end-cur.start).
		Msg("slide playing")

	for r.audio.CurrentTime() < cur.end {
		r.surface.Clear()
		r.surface.DrawImage(cur.scaled, cur.rect)
		if err := r.recorder.WriteFrame(r.surface.Frame(), r.audio.CurrentTime()); err != nil {
			return fmt.Errorf("slide %d: write frame: %w", i+1, err)
		}
		if err := r.scheduler.NextFrame(r.ctx, cur.end); err != nil {
			return fmt.Errorf("slide %d: %w", i+1, err)
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return fmt.Errorf("slide %d: %w", i+1, ErrSlideTimeout)
		}
	}

	r.segments = append(r.segments, Segment{
		Slide:      i,
		Start:      cur.start,
		End:        cur.end,
		DrawnUntil: r.audio.CurrentTime(),
	})
	return c.transition(StateDrawnToEnd)
}

// drawTrailingBuffer repeats the last frame over silence.
func (r *run) drawTrailingBuffer() error {
	end := r.audio.CurrentTime() + TrailingBuffer
	frame := r.surface.Frame()
	for r.audio.CurrentTime() < end {
		if err := r.recorder.WriteFrame(frame, r.audio.CurrentTime()); err != nil {
			return fmt.Errorf("trailing buffer: write frame: %w", err)
		}
		if err := r.scheduler.NextFrame(r.ctx, end); err != nil {
			return fmt.Errorf("trailing buffer: %w", err)
		}
	}
	return nil
}

func (r *run) finalize() (*Blob, error) {
	c := r.c
	if err := c.transition(StateFinalizing); err != nil {
		return nil, err
	}
	r.onProgress("Finalizing video")

	r.scheduler.Close()
	total := r.audio.CurrentTime()
	if err := r.audio.Close(); err != nil {
		return nil, fmt.Errorf("failed to close audio context: %w", err)
	}

	blob, err := r.recorder.Stop(r.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize recording: %w", err)
	}
	r.recorder = nil
	if blob.MimeType == "" {
		blob.MimeType = r.mimeType
	}
	blob.Extension = DeclaredExtension
	blob.Duration = total
	blob.Segments = r.segments

	if err := c.transition(StateStopped); err != nil {
		return nil, err
	}
	c.log.Info().
		Str("mime_type", blob.MimeType).
		Dur("duration", blob.Duration).
		Int("bytes", len(blob.Data)).
		Msg("video generation finished")
	return blob, nil
}

// abort releases whatever the run acquired.
func (r *run) abort() {
	if r.scheduler != nil {
		r.scheduler.Close()
	}
	if r.audio != nil {
		if err := r.audio.Close(); err != nil {
			r.c.log.Warn().Err(err).Msg("audio context close failed")
		}
	}
	if r.recorder != nil {
		if err := r.recorder.Abort(); err != nil {
			r.c.log.Warn().Err(err).Msg("recorder abort failed")
		}
	}
}

// IsCapabilityError reports whether err happened before recording started.
func IsCapabilityError(err error) bool {
	return errors.Is(err, ErrSurfaceUnavailable) || errors.Is(err, ErrRecorderUnavailable)
}

var _ Surface = (*Canvas)(nil)
