package compositor

import (
	"fmt"
	"strings"
	"time"
)

const (
	MimeMP4      = "video/mp4"
	MimeWebMH264 = "video/webm;codecs=h264"
	MimeWebMVP9  = "video/webm;codecs=vp9"

	// DeclaredExtension is the download extension offered for every blob,
	// whatever container was negotiated.
	DeclaredExtension = ".mp4"
)

// Probed in order; MimeWebMVP9 is the unprobed fallback.
var mimeCandidates = []string{MimeMP4, MimeWebMH264}

// NegotiateMimeType returns the first supported candidate, or the VP9 WebM
// fallback when none is.
func NegotiateMimeType(caps Capabilities) string {
	if caps != nil {
		for _, mime := range mimeCandidates {
			if caps.IsTypeSupported(mime) {
				return mime
			}
		}
	}
	return MimeWebMVP9
}

// Blob is the finished recording.
type Blob struct {
	Data      []byte
	MimeType  string
	Extension string
	Duration  time.Duration
	Segments  []Segment
}

// ContainerExtension is the extension that matches the actual container.
func (b *Blob) ContainerExtension() string {
	return ExtensionForMime(b.MimeType)
}

// ExtensionMismatch reports whether the declared extension differs from the
// container actually produced.
func (b *Blob) ExtensionMismatch() bool {
	return b.Extension != b.ContainerExtension()
}

// ContainerNotes lists the ways the file differs from what its name and MIME
// type suggest. It is empty for a plain MP4.
func (b *Blob) ContainerNotes() []string {
	var notes []string
	if b.ExtensionMismatch() {
		notes = append(notes, fmt.Sprintf("container is %s but the file is named %s", b.MimeType, b.Extension))
	}
	if b.MimeType == MimeWebMH264 {
		// WebM only admits VP8, VP9 and AV1 video.
		notes = append(notes, "H.264 video is muxed as generic Matroska (DocType matroska), which strict WebM readers reject")
	}
	return notes
}

// ExtensionForMime maps a recorder MIME type to a file extension.
func ExtensionForMime(mime string) string {
	base, _, _ := strings.Cut(mime, ";")
	switch strings.TrimSpace(base) {
	case "video/webm":
		return ".webm"
	case "video/x-matroska":
		return ".mkv"
	default:
		return ".mp4"
	}
}
