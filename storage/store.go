// Package storage keeps slide images, narration audio and rendered videos.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	ErrNotFound   = errors.New("artifact not found")
	ErrInvalidKey = errors.New("invalid artifact key")
)

// Artifact is a stored blob and its content type.
type Artifact struct {
	Data        []byte
	ContentType string
}

// ArtifactStore persists blobs by slash-separated key.
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) (*Artifact, error)
	Delete(ctx context.Context, key string) error
}

// CleanKey normalizes a key and rejects ones escaping the store root.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != strings.TrimPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

// SlideImageKey is where a project's rasterized page is kept.
func SlideImageKey(projectID string, position int) string {
	return fmt.Sprintf("projects/%s/slides/%03d.png", projectID, position)
}

// SlideAudioKey is where a slide's narration is kept.
func SlideAudioKey(projectID string, position int, ext string) string {
	return fmt.Sprintf("projects/%s/audio/%03d%s", projectID, position, ext)
}

// VideoKey is where a render job's output is kept.
func VideoKey(projectID, jobID, ext string) string {
	return fmt.Sprintf("projects/%s/renders/%s%s", projectID, jobID, ext)
}

// SubtitlesKey is where a render job's SRT is kept.
func SubtitlesKey(projectID, jobID string) string {
	return fmt.Sprintf("projects/%s/renders/%s.srt", projectID, jobID)
}
