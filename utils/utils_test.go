package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSRTTimestamp(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00,000"},
		{1500 * time.Millisecond, "00:00:01,500"},
		{time.Second / 30, "00:00:00,033"},
		{999600 * time.Microsecond, "00:00:01,000"},
		{time.Hour + 2*time.Minute + 3*time.Second + 4*time.Millisecond, "01:02:03,004"},
		{-time.Second, "00:00:00,000"},
	}
	for _, tt := range tests {
		if got := FormatSRTTimestamp(tt.in); got != tt.want {
			t.Errorf("FormatSRTTimestamp(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseFFmpegComponents(t *testing.T) {
	muxers := []byte(`File formats:
 D. = Demuxing supported
 .E = Muxing supported
 --
  E matroska        Matroska
  E mp4             MP4 (MPEG-4 Part 14)
  E webm            WebM
 DE wav             WAV / WAVE (Waveform Audio)
`)
	got := ParseFFmpegComponents(muxers)
	assert.True(t, got["mp4"])
	assert.True(t, got["webm"])
	assert.True(t, got["matroska"])
	assert.True(t, got["wav"])
	assert.False(t, got["D."], "legend must be skipped")

	encoders := []byte(`Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC (codec h264)
 V....D libvpx-vp9           libvpx VP9 (codec vp9)
 A....D aac                  AAC (Advanced Audio Coding)
 A....D libopus              libopus Opus (codec opus)
`)
	got = ParseFFmpegComponents(encoders)
	for _, name := range []string{"libx264", "libvpx-vp9", "aac", "libopus"} {
		assert.True(t, got[name], name)
	}
	assert.Len(t, got, 4)
}

func TestAPIKeyPoolRotationAndBlacklist(t *testing.T) {
	assert.Nil(t, NewAPIKeyPool(nil))

	var empty *APIKeyPool
	_, err := empty.GetRandomKey()
	assert.ErrorIs(t, err, ErrNoAvailableKeys)

	pool := NewAPIKeyPool([]string{"a", "b"})
	seen := map[string]int{}
	for i := 0; i < 20; i++ {
		key, err := pool.GetRandomKey()
		require.NoError(t, err)
		seen[key]++
	}
	assert.Len(t, seen, 2, "both keys should be used")

	pool.MarkFailed("a", time.Hour)
	for i := 0; i < 5; i++ {
		key, err := pool.GetRandomKey()
		require.NoError(t, err)
		assert.Equal(t, "b", key)
	}

	pool.MarkFailed("b", time.Hour)
	_, err = pool.GetRandomKey()
	assert.ErrorIs(t, err, ErrNoAvailableKeys)
	assert.Equal(t, 0, pool.GetStats()["available_keys"])

	pool.MarkFailed("a", -time.Second)
	key, err := pool.GetRandomKey()
	require.NoError(t, err)
	assert.Equal(t, "a", key)
}

func TestCreateTempDirAndCleanup(t *testing.T) {
	base := t.TempDir()
	dir, err := CreateTempDir(base, "job-1", "audio", "video")
	require.NoError(t, err)
	assert.True(t, FileExists(filepath.Join(dir, "audio")))
	assert.True(t, FileExists(filepath.Join(dir, "video")))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "audio", "x.pcm"), []byte{1}, 0o644))
	require.NoError(t, CleanupJobFiles(base, "job-1"))
	assert.False(t, FileExists(dir))

	done := make(chan struct{})
	ScheduleCleanup(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup did not run")
	}
}
