package encoder

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"slidecast/audiograph"
	"slidecast/utils"
)

// ErrEmptyAudio is returned when decoding yields no samples.
var ErrEmptyAudio = errors.New("decoded audio is empty")

// AudioDecoder decodes any ffmpeg-readable audio into PCM. WAV that already
// matches the requested format is parsed in-process.
type AudioDecoder struct{}

func (AudioDecoder) DecodeAudio(ctx context.Context, data []byte, sampleRate, channels int) (*audiograph.Buffer, error) {
	if audiograph.IsWAV(data) {
		buf, err := audiograph.DecodeWAV(data)
		if err == nil && buf.SampleRate == sampleRate && buf.Channels == channels {
			return buf, nil
		}
	}

	pcm, err := utils.RunFFmpegPipe(ctx, []string{
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"pipe:1",
	}, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio: %w", err)
	}

	frameBytes := channels * 2
	pcm = pcm[:len(pcm)-len(pcm)%frameBytes]
	if len(pcm) == 0 {
		return nil, ErrEmptyAudio
	}
	buf := &audiograph.Buffer{
		SampleRate: sampleRate,
		Channels:   channels,
		Samples:    make([]int16, len(pcm)/2),
	}
	for i := range buf.Samples {
		buf.Samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return buf, nil
}
