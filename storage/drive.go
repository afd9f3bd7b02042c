package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ErrPublishingDisabled is returned when no publisher is configured.
var ErrPublishingDisabled = errors.New("publishing is not configured")

// Publication identifies an uploaded video.
type Publication struct {
	ID   string `json:"id"`
	Link string `json:"link,omitempty"`
}

// Publisher uploads finished videos somewhere people can watch them.
type Publisher interface {
	Publish(ctx context.Context, name, mimeType string, data []byte) (*Publication, error)
}

// DrivePublisher uploads videos to a Google Drive folder with a service account.
type DrivePublisher struct {
	srv      *drive.Service
	folderID string
}

// NewDrivePublisher reads service account credentials from credentialsFile.
func NewDrivePublisher(ctx context.Context, credentialsFile, folderID string) (*DrivePublisher, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read drive credentials: %w", err)
	}
	conf, err := google.JWTConfigFromJSON(data, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse drive credentials: %w", err)
	}
	srv, err := drive.NewService(ctx, option.WithHTTPClient(conf.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return NewDrivePublisherWithService(srv, folderID), nil
}

func NewDrivePublisherWithService(srv *drive.Service, folderID string) *DrivePublisher {
	return &DrivePublisher{srv: srv, folderID: folderID}
}

// Publish uploads data as name and returns the file id and web link.
func (p *DrivePublisher) Publish(ctx context.Context, name, mimeType string, data []byte) (*Publication, error) {
	file := &drive.File{
		Name:     name,
		MimeType: mimeType,
	}
	if p.folderID != "" {
		file.Parents = []string{p.folderID}
	}

	created, err := p.srv.Files.Create(file).
		Fields("id,webViewLink").
		Context(ctx).
		Media(bytes.NewReader(data), googleapi.ChunkSize(8*1024*1024), googleapi.ContentType(mimeType)).
		Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			return nil, fmt.Errorf("drive upload failed (status=%d): %s", gerr.Code, gerr.Message)
		}
		return nil, fmt.Errorf("drive upload failed: %w", err)
	}
	return &Publication{ID: created.Id, Link: created.WebViewLink}, nil
}
