package compositor

import (
	"context"
	"time"

	"slidecast/audiograph"
)

// FrameScheduler waits for the next display refresh. until is the end of
// what is currently on screen; the clock is not advanced past it.
type FrameScheduler interface {
	NextFrame(ctx context.Context, until time.Duration) error
	Close()
}

// offlineScheduler advances the audio graph itself, one video frame of
// audio per tick, so rendering runs as fast as the encoder allows.
type offlineScheduler struct {
	ac  *audiograph.Context
	fps int64
}

func newOfflineScheduler(ac *audiograph.Context, fps int) *offlineScheduler {
	return &offlineScheduler{ac: ac, fps: int64(fps)}
}

func (s *offlineScheduler) NextFrame(ctx context.Context, until time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rate := int64(s.ac.SampleRate())
	cur := s.ac.CurrentFrame()
	tick := cur * s.fps / rate
	// First sample frame at or after the next tick boundary.
	next := ((tick+1)*rate + s.fps - 1) / s.fps
	if limit := audiograph.DurationToFrames(until, int(rate)); limit > cur && limit < next {
		next = limit
	}
	return s.ac.Render(next - cur)
}

func (s *offlineScheduler) Close() {}

// realtimeScheduler paces frames with a wall-clock ticker while the audio
// context pumps itself.
type realtimeScheduler struct {
	ac     *audiograph.Context
	ticker *time.Ticker
}

func newRealtimeScheduler(ac *audiograph.Context, fps int) (*realtimeScheduler, error) {
	if err := ac.StartPump(10 * time.Millisecond); err != nil {
		return nil, err
	}
	return &realtimeScheduler{ac: ac, ticker: time.NewTicker(time.Second / time.Duration(fps))}, nil
}

// NextFrame ignores until: the pump owns the clock, and the next slide's
// source is already queued at the current slide's end.
func (s *realtimeScheduler) NextFrame(ctx context.Context, _ time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ticker.C:
		return s.ac.Err()
	}
}

func (s *realtimeScheduler) Close() {
	s.ticker.Stop()
}
