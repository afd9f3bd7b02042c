package encoder

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slidecast/audiograph"
	"slidecast/compositor"
	"slidecast/utils"
)

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func TestCapabilitiesNegotiation(t *testing.T) {
	tests := []struct {
		name     string
		muxers   map[string]bool
		encoders map[string]bool
		want     string
	}{
		{
			name:     "full build picks mp4",
			muxers:   set("mp4", "matroska", "webm"),
			encoders: set("libx264", "aac", "libopus", "libvpx-vp9"),
			want:     compositor.MimeMP4,
		},
		{
			name:     "no aac falls to webm h264",
			muxers:   set("mp4", "matroska", "webm"),
			encoders: set("libx264", "libopus", "libvpx-vp9"),
			want:     compositor.MimeWebMH264,
		},
		{
			name:     "hardware h264 counts",
			muxers:   set("mp4"),
			encoders: set("h264_videotoolbox", "aac"),
			want:     compositor.MimeMP4,
		},
		{
			name:     "no h264 falls back to vp9",
			muxers:   set("mp4", "matroska", "webm"),
			encoders: set("aac", "libopus", "libvpx-vp9"),
			want:     compositor.MimeWebMVP9,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caps := NewCapabilities(tt.muxers, tt.encoders)
			assert.Equal(t, tt.want, compositor.NegotiateMimeType(caps))
		})
	}

	caps := NewCapabilities(set("webm"), set("libvpx-vp9"))
	assert.False(t, caps.IsTypeSupported(compositor.MimeWebMVP9), "needs libopus")
	assert.False(t, caps.IsTypeSupported("video/ogg"))
	assert.Equal(t, "", caps.H264Encoder())
	assert.Equal(t, "libx264", NewCapabilities(nil, set("h264_nvenc", "libx264")).H264Encoder())
}

func TestFrameSlots(t *testing.T) {
	tick := audiograph.FramesToDuration(1600, 48000)
	for k := int64(0); k < 100; k++ {
		assert.Equal(t, k, frameSlot(time.Duration(k)*tick, 30))
	}
	assert.Equal(t, int64(0), frameSlot(-time.Second, 30))
	assert.Equal(t, int64(30), framesForDuration(time.Second, 30))
	assert.Equal(t, int64(31), framesForDuration(time.Second+time.Millisecond, 30))
	assert.Equal(t, time.Second, pcmDuration(48000*4, 48000, 2))
}

func TestRGBAPixels(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(1, 0, color.RGBA{R: 1, G: 2, B: 3, A: 4})
	assert.Equal(t, []byte{0, 0, 0, 0, 1, 2, 3, 4}, rgbaPixels(img, 2, 1))

	gray := image.NewGray(image.Rect(0, 0, 1, 1))
	gray.SetGray(0, 0, color.Gray{Y: 9})
	assert.Equal(t, []byte{9, 9, 9, 255}, rgbaPixels(gray, 1, 1))
}

func TestAudioDecoderWAVFastPath(t *testing.T) {
	wav, err := audiograph.EncodeWAV(&audiograph.Buffer{SampleRate: 48000, Channels: 2, Samples: []int16{1, 2, 3, 4}})
	require.NoError(t, err)

	// Must not need ffmpeg.
	old := utils.FFmpegBinary
	utils.FFmpegBinary = "/nonexistent/ffmpeg"
	defer func() { utils.FFmpegBinary = old }()

	buf, err := AudioDecoder{}.DecodeAudio(context.Background(), wav, 48000, 2)
	require.NoError(t, err)
	assert.Equal(t, []int16{1, 2, 3, 4}, buf.Samples)

	_, err = AudioDecoder{}.DecodeAudio(context.Background(), wav, 24000, 1)
	assert.Error(t, err, "format conversion goes through ffmpeg")
}

func TestRecorderFactoryRejectsUnsupportedMime(t *testing.T) {
	f := NewRecorderFactory(NewCapabilities(set("mp4"), set("aac")), t.TempDir(), zerolog.Nop())
	_, err := f.NewRecorder(context.Background(), compositor.RecorderSettings{MimeType: compositor.MimeMP4})
	assert.ErrorIs(t, err, ErrUnsupportedMime)
}

func requireFFmpeg(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("ffmpeg integration test")
	}
	if _, err := exec.LookPath(utils.FFmpegBinary); err != nil {
		t.Skip("ffmpeg not installed")
	}
}

func slidePNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 160, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 160; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestCompositorWithFFmpeg(t *testing.T) {
	requireFFmpeg(t)
	ctx := context.Background()

	caps, err := ProbeCapabilities(ctx)
	require.NoError(t, err)
	if !caps.IsTypeSupported(compositor.NegotiateMimeType(caps)) {
		t.Skip("ffmpeg build cannot record any candidate type")
	}
	tempDir := t.TempDir()

	comp := compositor.New(compositor.Options{
		Recorders: NewRecorderFactory(caps, tempDir, zerolog.Nop()),
		Audio:     AudioDecoder{},
	})

	tone := func(d time.Duration) []byte {
		frames := int(audiograph.DurationToFrames(d, 48000))
		buf, err := audiograph.NewBuffer(48000, 2, frames)
		require.NoError(t, err)
		for i := range buf.Samples {
			buf.Samples[i] = int16((i % 100) * 100)
		}
		data, err := audiograph.EncodeWAV(buf)
		require.NoError(t, err)
		return data
	}

	blob, err := comp.Generate(ctx, []compositor.Slide{
		{Image: slidePNG(t, color.RGBA{R: 200, A: 255}), Audio: tone(400 * time.Millisecond)},
		{Image: slidePNG(t, color.RGBA{B: 200, A: 255})},
		{Image: slidePNG(t, color.RGBA{G: 200, A: 255}), Audio: tone(300 * time.Millisecond)},
	}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, blob.Data)
	assert.Equal(t, compositor.NegotiateMimeType(caps), blob.MimeType)

	out := tempDir + "/probe" + blob.ContainerExtension()
	require.NoError(t, os.WriteFile(out, blob.Data, 0o644))
	got, err := utils.GetMediaDuration(ctx, out)
	if err == nil {
		assert.InDelta(t, float64(blob.Duration), float64(got), float64(150*time.Millisecond))
	}

	// Only the probe file remains; recorder work dirs are removed.
	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRecorderAbortRemovesWorkDir(t *testing.T) {
	requireFFmpeg(t)
	ctx := context.Background()
	caps, err := ProbeCapabilities(ctx)
	require.NoError(t, err)

	tempDir := t.TempDir()
	f := NewRecorderFactory(caps, tempDir, zerolog.Nop())
	mime := compositor.NegotiateMimeType(caps)
	if !f.IsTypeSupported(mime) {
		t.Skip("ffmpeg build cannot record any candidate type")
	}
	rec, err := f.NewRecorder(ctx, compositor.RecorderSettings{
		MimeType: mime, Width: 64, Height: 36, FrameRate: 30,
		VideoBitsPerSecond: 100_000, SampleRate: 48000, Channels: 2,
	})
	require.NoError(t, err)
	require.NoError(t, rec.WriteFrame(image.NewRGBA(image.Rect(0, 0, 64, 36)), 0))

	require.NoError(t, rec.Abort())
	require.NoError(t, rec.Abort())
	assert.ErrorIs(t, rec.WriteFrame(image.NewRGBA(image.Rect(0, 0, 64, 36)), time.Second), ErrRecorderClosed)

	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
