package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"slidecast/compositor"
	"slidecast/config"
	"slidecast/repository"
	"slidecast/storage"
)

var ErrSlideNotFound = errors.New("slide not found")

// RenderOutput describes a stored render.
type RenderOutput struct {
	ProjectName  string
	Blob         *compositor.Blob
	VideoKey     string
	SubtitlesKey string
}

// ProjectService runs the deck workflow: upload, narrate, render.
type ProjectService struct {
	repo       repository.Repository
	store      storage.ArtifactStore
	rasterizer Rasterizer
	narration  *NarrationService
	video      *VideoService
	personas   *config.Personas

	defaultPersona string
}

// NewProjectService creates a new project service
func NewProjectService(
	repo repository.Repository,
	store storage.ArtifactStore,
	rasterizer Rasterizer,
	narration *NarrationService,
	video *VideoService,
	personas *config.Personas,
	defaultPersona string,
) *ProjectService {
	return &ProjectService{
		repo:           repo,
		store:          store,
		rasterizer:     rasterizer,
		narration:      narration,
		video:          video,
		personas:       personas,
		defaultPersona: defaultPersona,
	}
}

// Personas returns the persona catalog
func (ps *ProjectService) Personas() []config.Persona {
	return ps.personas.List
}

func (ps *ProjectService) persona(id string) (config.Persona, error) {
	if id == "" {
		id = ps.defaultPersona
	}
	return ps.personas.Get(id)
}

// CreateProject rasterizes the PDF, stores every page and records the project.
func (ps *ProjectService) CreateProject(ctx context.Context, name, personaID string, pdf []byte) (*repository.Project, error) {
	persona, err := ps.persona(personaID)
	if err != nil {
		return nil, err
	}

	pages, err := ps.rasterizer.Rasterize(ctx, pdf)
	if err != nil {
		return nil, err
	}

	texts, err := ExtractPageTexts(pdf)
	if err != nil {
		log.Warn().Err(err).Msg("PDF text layer unavailable, narrating from images only")
	}

	project := &repository.Project{
		ID:        uuid.New(),
		Name:      name,
		PersonaID: persona.ID,
		PageCount: len(pages),
	}
	var stored []string
	cleanup := func() {
		for _, key := range stored {
			if err := ps.store.Delete(context.WithoutCancel(ctx), key); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("failed to remove orphaned artifact")
			}
		}
	}

	for _, page := range pages {
		key := storage.SlideImageKey(project.ID.String(), page.Number)
		if err := ps.store.Put(ctx, key, page.Image, page.MIMEType); err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to store page %d: %w", page.Number, err)
		}
		stored = append(stored, key)

		slide := repository.Slide{
			ID:       uuid.New(),
			Position: page.Number,
			ImageKey: key,
		}
		if page.Number-1 < len(texts) {
			slide.PageText = texts[page.Number-1]
		}
		project.Slides = append(project.Slides, slide)
	}

	if err := ps.repo.CreateProject(ctx, project); err != nil {
		cleanup()
		return nil, err
	}
	log.Info().Str("project_id", project.ID.String()).Int("pages", len(pages)).Msg("project created")
	return project, nil
}

// GetProject loads a project with its slides
func (ps *ProjectService) GetProject(ctx context.Context, id uuid.UUID) (*repository.Project, error) {
	return ps.repo.GetProject(ctx, id)
}

// ListProjects lists all projects
func (ps *ProjectService) ListProjects(ctx context.Context) ([]repository.Project, error) {
	return ps.repo.ListProjects(ctx)
}

// UpdateScript replaces a slide's script. Its audio must be synthesized again.
func (ps *ProjectService) UpdateScript(ctx context.Context, projectID, slideID uuid.UUID, script string) (*repository.Slide, error) {
	slide, err := ps.findSlide(ctx, projectID, slideID)
	if err != nil {
		return nil, err
	}
	updated, err := ps.repo.UpdateSlideScript(ctx, projectID, slideID, script)
	if err != nil {
		return nil, err
	}
	if slide.AudioKey != "" {
		if err := ps.store.Delete(ctx, slide.AudioKey); err != nil {
			log.Warn().Err(err).Str("key", slide.AudioKey).Msg("failed to remove stale audio")
		}
	}
	return updated, nil
}

// SlideImage returns the stored page image
func (ps *ProjectService) SlideImage(ctx context.Context, projectID, slideID uuid.UUID) (*storage.Artifact, error) {
	slide, err := ps.findSlide(ctx, projectID, slideID)
	if err != nil {
		return nil, err
	}
	return ps.store.Get(ctx, slide.ImageKey)
}

// SlideAudio returns the stored narration audio
func (ps *ProjectService) SlideAudio(ctx context.Context, projectID, slideID uuid.UUID) (*storage.Artifact, error) {
	slide, err := ps.findSlide(ctx, projectID, slideID)
	if err != nil {
		return nil, err
	}
	if !slide.HasAudio() {
		return nil, fmt.Errorf("slide %d has no audio: %w", slide.Position, storage.ErrNotFound)
	}
	artifact, err := ps.store.Get(ctx, slide.AudioKey)
	if err != nil {
		return nil, err
	}
	if slide.AudioMIME != "" {
		artifact.ContentType = slide.AudioMIME
	}
	return artifact, nil
}

func (ps *ProjectService) findSlide(ctx context.Context, projectID, slideID uuid.UUID) (*repository.Slide, error) {
	project, err := ps.repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for i := range project.Slides {
		if project.Slides[i].ID == slideID {
			return &project.Slides[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSlideNotFound, slideID)
}

// NarrateProject writes missing scripts and synthesizes missing audio, then
// saves every slide. Per-slide failures end up in Slide.Error.
func (ps *ProjectService) NarrateProject(ctx context.Context, id uuid.UUID, onProgress NarrationProgress) (*repository.Project, error) {
	project, err := ps.repo.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	persona, err := ps.persona(project.PersonaID)
	if err != nil {
		return nil, err
	}

	work := make([]*NarrationSlide, len(project.Slides))
	for i, slide := range project.Slides {
		ns := &NarrationSlide{PageText: slide.PageText, Script: slide.Script}
		if slide.HasAudio() {
			ns.Audio = &SpeechAudio{MIMEType: slide.AudioMIME}
		}
		if slide.Script == "" {
			img, err := ps.store.Get(ctx, slide.ImageKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load slide %d image: %w", slide.Position, err)
			}
			ns.Image = img.Data
			ns.ImageMIME = img.ContentType
		}
		work[i] = ns
	}

	if err := ps.narration.Narrate(ctx, work, persona, onProgress); err != nil {
		return nil, err
	}

	for i := range project.Slides {
		slide := &project.Slides[i]
		ns := work[i]

		slide.Script = ns.Script
		slide.Error = ""
		if ns.Err != nil {
			slide.Error = ns.Err.Error()
		}
		if ns.Audio != nil && len(ns.Audio.Data) > 0 {
			key := storage.SlideAudioKey(project.ID.String(), slide.Position, audioExtension(ns.Audio.MIMEType))
			if err := ps.store.Put(ctx, key, ns.Audio.Data, ns.Audio.MIMEType); err != nil {
				slide.Error = fmt.Sprintf("failed to store audio: %v", err)
			} else {
				slide.AudioKey = key
				slide.AudioMIME = ns.Audio.MIMEType
				slide.DurationMS = ns.Audio.Duration.Milliseconds()
			}
		}
		if err := ps.repo.UpdateSlide(ctx, slide); err != nil {
			return nil, err
		}
	}
	return project, nil
}

func audioExtension(mimeType string) string {
	if m := mimetype.Lookup(mimeType); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	return ".wav"
}

// RenderProject renders the project's narrated slides and stores the video
// and subtitles under jobID.
func (ps *ProjectService) RenderProject(ctx context.Context, id uuid.UUID, jobID string, onProgress func(string)) (*RenderOutput, error) {
	project, err := ps.repo.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}

	slides := make([]VideoSlide, len(project.Slides))
	for i, slide := range project.Slides {
		img, err := ps.store.Get(ctx, slide.ImageKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load slide %d image: %w", slide.Position, err)
		}
		slides[i] = VideoSlide{Image: img.Data, Script: slide.Script}
		if slide.HasAudio() {
			audio, err := ps.store.Get(ctx, slide.AudioKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load slide %d audio: %w", slide.Position, err)
			}
			slides[i].Audio = audio.Data
		}
	}

	start := time.Now()
	result, err := ps.video.Render(ctx, slides, onProgress)
	if err != nil {
		return nil, err
	}

	out := &RenderOutput{
		ProjectName:  project.Name,
		Blob:         result.Blob,
		VideoKey:     storage.VideoKey(project.ID.String(), jobID, result.Blob.ContainerExtension()),
		SubtitlesKey: storage.SubtitlesKey(project.ID.String(), jobID),
	}
	if err := ps.store.Put(ctx, out.VideoKey, result.Blob.Data, result.Blob.MimeType); err != nil {
		return nil, fmt.Errorf("failed to store video: %w", err)
	}
	if err := ps.store.Put(ctx, out.SubtitlesKey, result.Subtitles, "application/x-subrip"); err != nil {
		return nil, fmt.Errorf("failed to store subtitles: %w", err)
	}

	log.Info().
		Str("project_id", project.ID.String()).
		Str("mime", result.Blob.MimeType).
		Dur("video", result.Blob.Duration).
		Dur("took", time.Since(start)).
		Msg("render stored")
	return out, nil
}
