// Package audiograph provides a minimal audio processing graph: decoded PCM
// buffers, single-use buffer sources and one context whose clock is derived
// from the number of sample frames rendered into its recording sink.
package audiograph

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidFormat is returned for a non-positive sample rate or channel count.
	ErrInvalidFormat = errors.New("invalid audio format")
	// ErrFormatMismatch is returned when a buffer does not match the context format.
	ErrFormatMismatch = errors.New("buffer format does not match context")
)

// Buffer is a fixed-length block of interleaved signed 16-bit PCM.
type Buffer struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// NewBuffer allocates a silent buffer holding the given number of frames.
func NewBuffer(sampleRate, channels, frames int) (*Buffer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: rate=%d channels=%d", ErrInvalidFormat, sampleRate, channels)
	}
	if frames < 0 {
		frames = 0
	}
	return &Buffer{
		SampleRate: sampleRate,
		Channels:   channels,
		Samples:    make([]int16, frames*channels),
	}, nil
}

// Frames returns the number of sample frames (samples per channel).
func (b *Buffer) Frames() int {
	if b == nil || b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration is the exact playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return FramesToDuration(int64(b.Frames()), b.SampleRate)
}

// FramesToDuration converts a frame count at sampleRate into a duration.
func FramesToDuration(frames int64, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	sec := frames / int64(sampleRate)
	rem := frames % int64(sampleRate)
	return time.Duration(sec)*time.Second + time.Duration(rem)*time.Second/time.Duration(sampleRate)
}

// DurationToFrames converts d into a whole number of frames, rounding up so
// that rendering to the returned frame count always reaches d.
func DurationToFrames(d time.Duration, sampleRate int) int64 {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	num := int64(d) * int64(sampleRate)
	frames := num / int64(time.Second)
	if num%int64(time.Second) != 0 {
		frames++
	}
	return frames
}
