package encoder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"slidecast/compositor"
	"slidecast/utils"
)

var (
	ErrUnsupportedMime = errors.New("mime type not supported by ffmpeg")
	ErrRecorderClosed  = errors.New("recorder already stopped or aborted")
)

// RecorderFactory creates ffmpeg-backed recorders working under TempDir.
type RecorderFactory struct {
	Caps    *Capabilities
	TempDir string
	Logger  zerolog.Logger
}

// NewRecorderFactory returns a factory for the given capabilities.
func NewRecorderFactory(caps *Capabilities, tempDir string, logger zerolog.Logger) *RecorderFactory {
	return &RecorderFactory{Caps: caps, TempDir: tempDir, Logger: logger}
}

func (f *RecorderFactory) IsTypeSupported(mimeType string) bool {
	return f.Caps != nil && f.Caps.IsTypeSupported(mimeType)
}

// NewRecorder starts the video encoder process.
func (f *RecorderFactory) NewRecorder(ctx context.Context, s compositor.RecorderSettings) (compositor.Recorder, error) {
	if !f.IsTypeSupported(s.MimeType) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMime, s.MimeType)
	}
	p, _ := f.Caps.profileFor(s.MimeType)

	id := "rec-" + uuid.NewString()
	dir, err := utils.CreateTempDir(f.TempDir, id, "video", "audio", "output")
	if err != nil {
		return nil, err
	}

	r := &FFmpegRecorder{
		settings:  s,
		profile:   p,
		dir:       dir,
		videoPath: filepath.Join(dir, "video", "video.mkv"),
		audioPath: filepath.Join(dir, "audio", "audio.pcm"),
		log:       f.Logger.With().Str("recorder", id).Logger(),
	}
	if err := r.start(ctx); err != nil {
		_ = utils.CleanupJobFiles(f.TempDir, id)
		return nil, err
	}
	return r, nil
}

// FFmpegRecorder pipes raw RGBA frames into ffmpeg at a constant frame rate
// and spools the audio sink to a PCM file. Stop muxes both into the final
// container.
type FFmpegRecorder struct {
	settings compositor.RecorderSettings
	profile  profile
	dir      string
	log      zerolog.Logger

	videoPath string
	audioPath string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *syncBuffer

	audioFile *os.File
	audio     *countingWriter

	mu      sync.Mutex
	closed  bool
	written int64
	last    []byte
}

func (r *FFmpegRecorder) start(ctx context.Context) error {
	f, err := os.Create(r.audioPath)
	if err != nil {
		return fmt.Errorf("failed to create audio spool: %w", err)
	}
	r.audioFile = f
	r.audio = &countingWriter{w: bufio.NewWriterSize(f, 1<<16)}

	s := r.settings
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", s.Width, s.Height),
		"-r", strconv.Itoa(s.FrameRate),
		"-i", "pipe:0",
		"-c:v", r.profile.videoCodec,
		"-b:v", strconv.Itoa(s.VideoBitsPerSecond),
		"-pix_fmt", "yuv420p",
		"-g", strconv.Itoa(s.FrameRate * 2),
	}
	if r.profile.videoCodec == "libx264" {
		args = append(args, "-preset", "veryfast")
	}
	args = append(args, r.profile.encodeArgs...)
	args = append(args, "-f", "matroska", "-y", r.videoPath)

	r.cmd = exec.CommandContext(ctx, utils.FFmpegBinary, args...)
	r.stderr = &syncBuffer{}
	r.cmd.Stderr = r.stderr
	stdin, err := r.cmd.StdinPipe()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to open ffmpeg stdin: %w", err)
	}
	r.stdin = stdin
	if err := r.cmd.Start(); err != nil {
		f.Close()
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	r.log.Debug().Str("mime_type", s.MimeType).Str("codec", r.profile.videoCodec).Msg("recorder started")
	return nil
}

// AudioSink receives interleaved s16le PCM from the audio graph.
func (r *FFmpegRecorder) AudioSink() io.Writer { return r.audio }

// WriteFrame places frame at the constant-rate slot nearest to pts,
// repeating the previous frame to fill any skipped slots.
func (r *FFmpegRecorder) WriteFrame(frame image.Image, pts time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRecorderClosed
	}
	pix := rgbaPixels(frame, r.settings.Width, r.settings.Height)
	slot := frameSlot(pts, r.settings.FrameRate)

	if slot < r.written {
		// Slot already filled; keep the newer image for padding.
		r.last = append(r.last[:0], pix...)
		return nil
	}
	if r.last == nil {
		r.last = append([]byte(nil), pix...)
	}
	for r.written < slot {
		if err := r.writeRaw(r.last); err != nil {
			return err
		}
	}
	if err := r.writeRaw(pix); err != nil {
		return err
	}
	r.last = append(r.last[:0], pix...)
	return nil
}

func (r *FFmpegRecorder) writeRaw(pix []byte) error {
	if _, err := r.stdin.Write(pix); err != nil {
		return fmt.Errorf("ffmpeg video pipe: %w, stderr: %s", err, r.stderr.Tail(1000))
	}
	r.written++
	return nil
}

// Stop pads the video to the audio length, waits for the encoder and muxes
// the final container.
func (r *FFmpegRecorder) Stop(ctx context.Context) (*compositor.Blob, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRecorderClosed
	}
	r.closed = true
	defer os.RemoveAll(r.dir)

	audioDur := pcmDuration(r.audio.n, r.settings.SampleRate, r.settings.Channels)
	target := framesForDuration(audioDur, r.settings.FrameRate)
	var padErr error
	for r.last != nil && r.written < target && padErr == nil {
		padErr = r.writeRaw(r.last)
	}
	r.mu.Unlock()

	closeErr := r.stdin.Close()
	waitErr := r.cmd.Wait()
	if padErr != nil {
		_ = r.closeAudio()
		return nil, padErr
	}
	if closeErr != nil || waitErr != nil {
		_ = r.closeAudio()
		return nil, fmt.Errorf("video encoder failed: %w, stderr: %s", errors.Join(closeErr, waitErr), r.stderr.Tail(2000))
	}
	if err := r.closeAudio(); err != nil {
		return nil, fmt.Errorf("failed to flush audio spool: %w", err)
	}

	out := filepath.Join(r.dir, "output", "out"+compositor.ExtensionForMime(r.settings.MimeType))
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", r.videoPath,
		"-f", "s16le",
		"-ar", strconv.Itoa(r.settings.SampleRate),
		"-ac", strconv.Itoa(r.settings.Channels),
		"-i", r.audioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", r.profile.audioCodec,
		"-b:a", "192k",
	}
	args = append(args, r.profile.muxArgs...)
	args = append(args, "-f", r.profile.muxer, "-y", out)
	if err := utils.RunFFmpegCommand(ctx, args); err != nil {
		return nil, fmt.Errorf("failed to mux recording: %w", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("failed to read recording: %w", err)
	}
	r.log.Debug().
		Int64("frames", r.written).
		Dur("audio", audioDur).
		Int("bytes", len(data)).
		Msg("recorder stopped")
	return &compositor.Blob{Data: data, MimeType: r.settings.MimeType}, nil
}

// Abort kills the encoder and deletes every intermediate file.
func (r *FFmpegRecorder) Abort() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if r.cmd.Process != nil {
		_ = r.cmd.Process.Kill()
	}
	_ = r.stdin.Close()
	_ = r.cmd.Wait()
	_ = r.closeAudio()
	r.log.Debug().Msg("recorder aborted")
	return os.RemoveAll(r.dir)
}

func (r *FFmpegRecorder) closeAudio() error {
	if r.audioFile == nil {
		return nil
	}
	flushErr := r.audio.Flush()
	closeErr := r.audioFile.Close()
	r.audioFile = nil
	return errors.Join(flushErr, closeErr)
}

// frameSlot is the index of the constant-rate frame nearest to pts.
func frameSlot(pts time.Duration, fps int) int64 {
	if pts <= 0 {
		return 0
	}
	return (int64(pts)*int64(fps) + int64(time.Second)/2) / int64(time.Second)
}

// framesForDuration is the number of frames needed to cover d.
func framesForDuration(d time.Duration, fps int) int64 {
	num := int64(d) * int64(fps)
	frames := num / int64(time.Second)
	if num%int64(time.Second) != 0 {
		frames++
	}
	return frames
}

func pcmDuration(n int64, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := n / int64(channels*2)
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

// rgbaPixels returns w*h*4 bytes of tightly packed RGBA.
func rgbaPixels(img image.Image, w, h int) []byte {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect == image.Rect(0, 0, w, h) && rgba.Stride == w*4 {
		return rgba.Pix
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)
	return dst.Pix
}

type countingWriter struct {
	w *bufio.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (c *countingWriter) Flush() error { return c.w.Flush() }

// syncBuffer collects ffmpeg stderr while the process is running.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Tail(n int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf.String()
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return s
}

var _ compositor.RecorderFactory = (*RecorderFactory)(nil)
