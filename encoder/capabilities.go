// Package encoder records compositor output with ffmpeg and decodes narration
// audio into PCM.
package encoder

import (
	"context"
	"fmt"

	"slidecast/compositor"
	"slidecast/utils"
)

// h264Encoders in order of preference. VAAPI is left out because it needs a
// hardware upload filter chain.
var h264Encoders = []string{
	"libx264",
	"libopenh264",
	"h264_videotoolbox",
	"h264_nvenc",
	"h264_qsv",
	"h264_amf",
	"h264_mf",
}

// Capabilities reports which containers the local ffmpeg can produce.
type Capabilities struct {
	muxers   map[string]bool
	encoders map[string]bool
}

// NewCapabilities builds capabilities from known muxer and encoder names.
func NewCapabilities(muxers, encoders map[string]bool) *Capabilities {
	return &Capabilities{muxers: muxers, encoders: encoders}
}

// ProbeCapabilities asks ffmpeg for its muxers and encoders.
func ProbeCapabilities(ctx context.Context) (*Capabilities, error) {
	muxers, err := utils.ListFFmpegComponents(ctx, "-muxers")
	if err != nil {
		return nil, fmt.Errorf("failed to probe ffmpeg muxers: %w", err)
	}
	encoders, err := utils.ListFFmpegComponents(ctx, "-encoders")
	if err != nil {
		return nil, fmt.Errorf("failed to probe ffmpeg encoders: %w", err)
	}
	return NewCapabilities(muxers, encoders), nil
}

// H264Encoder returns the preferred available H.264 encoder, or "".
func (c *Capabilities) H264Encoder() string {
	for _, name := range h264Encoders {
		if c.encoders[name] {
			return name
		}
	}
	return ""
}

// IsTypeSupported implements compositor.Capabilities.
func (c *Capabilities) IsTypeSupported(mimeType string) bool {
	p, ok := c.profileFor(mimeType)
	if !ok {
		return false
	}
	return c.muxers[p.muxer] && c.encoders[p.videoCodec] && c.encoders[p.audioCodec]
}

// profile is the ffmpeg recipe behind one MIME type.
type profile struct {
	muxer      string
	videoCodec string
	audioCodec string
	encodeArgs []string
	muxArgs    []string
}

func (c *Capabilities) profileFor(mimeType string) (profile, bool) {
	switch mimeType {
	case compositor.MimeMP4:
		return profile{
			muxer:      "mp4",
			videoCodec: c.H264Encoder(),
			audioCodec: "aac",
			muxArgs:    []string{"-movflags", "+faststart"},
		}, true
	case compositor.MimeWebMH264:
		// The webm muxer refuses H.264, so this goes into generic Matroska.
		return profile{muxer: "matroska", videoCodec: c.H264Encoder(), audioCodec: "libopus"}, true
	case compositor.MimeWebMVP9:
		return profile{
			muxer:      "webm",
			videoCodec: "libvpx-vp9",
			audioCodec: "libopus",
			encodeArgs: []string{"-row-mt", "1", "-deadline", "realtime", "-cpu-used", "8"},
		}, true
	}
	return profile{}, false
}
