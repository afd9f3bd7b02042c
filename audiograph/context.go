package audiograph

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"
)

// renderChunkFrames bounds the mixing scratch space.
const renderChunkFrames = 4096

var (
	// ErrContextClosed is returned by any operation on a closed context.
	ErrContextClosed = errors.New("audio context closed")
	// ErrSourceStarted is returned when a buffer source is started twice.
	ErrSourceStarted = errors.New("buffer source already started")
	// ErrPumpRunning is returned when StartPump is called twice.
	ErrPumpRunning = errors.New("audio pump already running")
)

// Context mixes started buffer sources into a single recording sink. Its
// clock (CurrentTime) is the number of frames rendered into the sink, so it
// is the time the listener hears, independent of any video timing.
type Context struct {
	mu         sync.Mutex
	sampleRate int
	channels   int
	sink       io.Writer

	rendered int64
	active   []*BufferSource
	closed   bool

	pumpCancel context.CancelFunc
	pumpDone   chan struct{}
	pumpErr    error

	scratch []int32
	out     []byte
}

// BufferSource plays one Buffer once, starting at the frame where Start was
// called. Sources are single-use.
type BufferSource struct {
	ctx     *Context
	buf     *Buffer
	startAt int64
	started bool
	ended   bool
}

// NewContext creates a context writing interleaved little-endian s16 PCM to sink.
func NewContext(sampleRate, channels int, sink io.Writer) (*Context, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: rate=%d channels=%d", ErrInvalidFormat, sampleRate, channels)
	}
	if sink == nil {
		sink = io.Discard
	}
	return &Context{
		sampleRate: sampleRate,
		channels:   channels,
		sink:       sink,
		scratch:    make([]int32, renderChunkFrames*channels),
		out:        make([]byte, renderChunkFrames*channels*2),
	}, nil
}

// SampleRate returns the context sample rate in Hz.
func (c *Context) SampleRate() int { return c.sampleRate }

// Channels returns the number of interleaved channels.
func (c *Context) Channels() int { return c.channels }

// CurrentTime is the audio clock.
func (c *Context) CurrentTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return FramesToDuration(c.rendered, c.sampleRate)
}

// CurrentFrame is the audio clock in frames.
func (c *Context) CurrentFrame() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rendered
}

// Closed reports whether Close has been called.
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CreateBufferSource binds buf to a new, not yet started source.
func (c *Context) CreateBufferSource(buf *Buffer) (*BufferSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrContextClosed
	}
	if buf == nil || buf.SampleRate != c.sampleRate || buf.Channels != c.channels {
		return nil, ErrFormatMismatch
	}
	return &BufferSource{ctx: c, buf: buf}, nil
}

// Start schedules the source at the current audio clock position.
func (s *BufferSource) Start() error {
	return s.start(-1)
}

// StartAt schedules the source to begin at audio clock t. A time the clock
// has already passed starts the source at the current position.
func (s *BufferSource) StartAt(t time.Duration) error {
	return s.start(DurationToFrames(t, s.ctx.sampleRate))
}

func (s *BufferSource) start(at int64) error {
	c := s.ctx
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrContextClosed
	}
	if s.started {
		return ErrSourceStarted
	}
	s.started = true
	s.startAt = max(at, c.rendered)
	if s.buf.Frames() == 0 {
		s.ended = true
		return nil
	}
	c.active = append(c.active, s)
	return nil
}

// StartTime is the audio clock value at which the source began playing.
func (s *BufferSource) StartTime() time.Duration {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	return FramesToDuration(s.startAt, s.ctx.sampleRate)
}

// EndTime is the audio clock value at which the source finishes.
func (s *BufferSource) EndTime() time.Duration {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	return FramesToDuration(s.startAt+int64(s.buf.Frames()), s.ctx.sampleRate)
}

// Ended reports whether every frame of the source has been rendered.
func (s *BufferSource) Ended() bool {
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	return s.ended
}

// Render mixes the next frames of all active sources into the sink and
// advances the clock. Silence is written when nothing is playing.
func (c *Context) Render(frames int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.renderLocked(frames)
}

// RenderUntil renders until the clock reaches at least t.
func (c *Context) RenderUntil(t time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := DurationToFrames(t, c.sampleRate)
	if target <= c.rendered {
		return nil
	}
	return c.renderLocked(target - c.rendered)
}

func (c *Context) renderLocked(frames int64) error {
	if c.closed {
		return ErrContextClosed
	}
	for frames > 0 {
		n := int64(renderChunkFrames)
		if frames < n {
			n = frames
		}
		if err := c.mixChunk(n); err != nil {
			return err
		}
		frames -= n
	}
	return nil
}

func (c *Context) mixChunk(n int64) error {
	ch := int64(c.channels)
	mix := c.scratch[:n*ch]
	for i := range mix {
		mix[i] = 0
	}

	chunkStart := c.rendered
	chunkEnd := chunkStart + n
	remaining := c.active[:0]
	for _, src := range c.active {
		srcEnd := src.startAt + int64(src.buf.Frames())
		from := max(src.startAt, chunkStart)
		to := min(srcEnd, chunkEnd)
		if from < to {
			in := src.buf.Samples[(from-src.startAt)*ch : (to-src.startAt)*ch]
			dst := mix[(from-chunkStart)*ch : (to-chunkStart)*ch]
			for i, v := range in {
				dst[i] += int32(v)
			}
		}
		if srcEnd <= chunkEnd {
			src.ended = true
			continue
		}
		remaining = append(remaining, src)
	}
	c.active = remaining

	out := c.out[:len(mix)*2]
	for i, v := range mix {
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	if _, err := c.sink.Write(out); err != nil {
		return fmt.Errorf("failed to write to recording sink: %w", err)
	}
	c.rendered = chunkEnd
	return nil
}

// StartPump renders audio against the wall clock every quantum until the
// context is closed. It is the realtime engine behind CurrentTime; offline
// callers drive the clock with Render/RenderUntil instead.
func (c *Context) StartPump(quantum time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrContextClosed
	}
	if c.pumpCancel != nil {
		return ErrPumpRunning
	}
	if quantum <= 0 {
		quantum = 10 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.pumpCancel = cancel
	c.pumpDone = make(chan struct{})
	base := c.rendered
	go c.pump(ctx, quantum, base)
	return nil
}

func (c *Context) pump(ctx context.Context, quantum time.Duration, base int64) {
	defer close(c.pumpDone)

	ticker := time.NewTicker(quantum)
	defer ticker.Stop()
	began := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			target := base + DurationToFrames(time.Since(began), c.sampleRate)
			c.mu.Lock()
			var err error
			if !c.closed && target > c.rendered {
				err = c.renderLocked(target - c.rendered)
			}
			if err != nil {
				c.pumpErr = err
			}
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Err returns the first error hit by the realtime pump, if any.
func (c *Context) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pumpErr
}

// Close stops the pump, drops all sources and makes the context unusable.
// It is safe to call more than once.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.active = nil
	cancel, done := c.pumpCancel, c.pumpDone
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pumpErr
}
