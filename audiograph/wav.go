package audiograph

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	wavHeaderSize   = 44
	wavFormatPCM    = 1
	wavBitsPerVoice = 16
)

var (
	// ErrNotWAV is returned when the data does not carry a RIFF/WAVE header.
	ErrNotWAV = errors.New("not a RIFF/WAVE stream")
	// ErrUnsupportedWAV is returned for WAV encodings other than 16-bit PCM.
	ErrUnsupportedWAV = errors.New("unsupported WAV encoding")
)

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// EncodeWAV wraps the buffer into a canonical 16-bit PCM WAV file.
func EncodeWAV(buf *Buffer) ([]byte, error) {
	if buf == nil || buf.SampleRate <= 0 || buf.Channels <= 0 {
		return nil, ErrInvalidFormat
	}
	dataSize := len(buf.Samples) * 2
	out := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+dataSize))

	blockAlign := buf.Channels * wavBitsPerVoice / 8
	header := []any{
		[]byte("RIFF"),
		uint32(36 + dataSize),
		[]byte("WAVE"),
		[]byte("fmt "),
		uint32(16),
		uint16(wavFormatPCM),
		uint16(buf.Channels),
		uint32(buf.SampleRate),
		uint32(buf.SampleRate * blockAlign),
		uint16(blockAlign),
		uint16(wavBitsPerVoice),
		[]byte("data"),
		uint32(dataSize),
	}
	for _, field := range header {
		if err := binary.Write(out, binary.LittleEndian, field); err != nil {
			return nil, fmt.Errorf("failed to write WAV header: %w", err)
		}
	}
	if err := binary.Write(out, binary.LittleEndian, buf.Samples); err != nil {
		return nil, fmt.Errorf("failed to write WAV samples: %w", err)
	}
	return out.Bytes(), nil
}

// PCMToWAV wraps raw little-endian 16-bit PCM bytes into a WAV file.
func PCMToWAV(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return EncodeWAV(&Buffer{SampleRate: sampleRate, Channels: channels, Samples: samples})
}

// DecodeWAV parses a 16-bit PCM WAV file. Chunks other than "fmt " and
// "data" are skipped.
func DecodeWAV(data []byte) (*Buffer, error) {
	if !IsWAV(data) {
		return nil, ErrNotWAV
	}

	r := bytes.NewReader(data[12:])
	var (
		buf     *Buffer
		haveFmt bool
	)
	for {
		var id [4]byte
		var size uint32
		if _, err := io.ReadFull(r, id[:]); err != nil {
			break
		}
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, fmt.Errorf("failed to read chunk size: %w", err)
		}

		switch string(id[:]) {
		case "fmt ":
			var f struct {
				Format        uint16
				Channels      uint16
				SampleRate    uint32
				ByteRate      uint32
				BlockAlign    uint16
				BitsPerSample uint16
			}
			if err := binary.Read(r, binary.LittleEndian, &f); err != nil {
				return nil, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			if f.Format != wavFormatPCM || f.BitsPerSample != wavBitsPerVoice {
				return nil, fmt.Errorf("%w: format=%d bits=%d", ErrUnsupportedWAV, f.Format, f.BitsPerSample)
			}
			if f.Channels == 0 || f.SampleRate == 0 {
				return nil, ErrInvalidFormat
			}
			buf = &Buffer{SampleRate: int(f.SampleRate), Channels: int(f.Channels)}
			haveFmt = true
			if _, err := r.Seek(int64(size)-16, io.SeekCurrent); err != nil {
				return nil, fmt.Errorf("failed to skip fmt extension: %w", err)
			}
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrUnsupportedWAV)
			}
			n := int(size)
			if n > r.Len() {
				// Streaming writers leave the size at 0 or 0xFFFFFFFF.
				n = r.Len()
			}
			raw := make([]byte, n-n%2)
			if _, err := io.ReadFull(r, raw); err != nil {
				return nil, fmt.Errorf("failed to read data chunk: %w", err)
			}
			buf.Samples = make([]int16, len(raw)/2)
			for i := range buf.Samples {
				buf.Samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
			}
			// Drop a trailing partial frame.
			buf.Samples = buf.Samples[:len(buf.Samples)-len(buf.Samples)%buf.Channels]
			return buf, nil
		default:
			skip := int64(size) + int64(size%2)
			if _, err := r.Seek(skip, io.SeekCurrent); err != nil {
				return nil, fmt.Errorf("failed to skip chunk %q: %w", string(id[:]), err)
			}
		}
	}
	return nil, fmt.Errorf("%w: missing data chunk", ErrUnsupportedWAV)
}

// ConcatWAV joins WAV files that share one format into a single file.
func ConcatWAV(parts ...[]byte) ([]byte, error) {
	if len(parts) == 0 {
		return nil, ErrNotWAV
	}
	var joined *Buffer
	for i, part := range parts {
		buf, err := DecodeWAV(part)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		if joined == nil {
			joined = buf
			continue
		}
		if buf.SampleRate != joined.SampleRate || buf.Channels != joined.Channels {
			return nil, fmt.Errorf("part %d: %w", i, ErrFormatMismatch)
		}
		joined.Samples = append(joined.Samples, buf.Samples...)
	}
	return EncodeWAV(joined)
}
