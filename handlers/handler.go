package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"slidecast/compositor"
	"slidecast/config"
	"slidecast/models"
	"slidecast/repository"
	"slidecast/services"
	"slidecast/storage"
	"slidecast/utils"
)

const (
	defaultJobRetention = time.Hour
	defaultMaxUpload    = 64 << 20
)

// Projects is the deck workflow the API drives. *services.ProjectService
// implements it.
type Projects interface {
	Personas() []config.Persona
	CreateProject(ctx context.Context, name, personaID string, pdf []byte) (*repository.Project, error)
	GetProject(ctx context.Context, id uuid.UUID) (*repository.Project, error)
	ListProjects(ctx context.Context) ([]repository.Project, error)
	UpdateScript(ctx context.Context, projectID, slideID uuid.UUID, script string) (*repository.Slide, error)
	SlideImage(ctx context.Context, projectID, slideID uuid.UUID) (*storage.Artifact, error)
	SlideAudio(ctx context.Context, projectID, slideID uuid.UUID) (*storage.Artifact, error)
	NarrateProject(ctx context.Context, id uuid.UUID, onProgress services.NarrationProgress) (*repository.Project, error)
	RenderProject(ctx context.Context, id uuid.UUID, jobID string, onProgress func(string)) (*services.RenderOutput, error)
}

// Options configures a Handler.
type Options struct {
	// Publisher uploads finished videos. Nil disables publishing.
	Publisher storage.Publisher
	// JobRetention is how long finished jobs and their renders are kept.
	JobRetention time.Duration
	// MaxUploadBytes caps the PDF upload size.
	MaxUploadBytes int64
}

// Handler serves the project and job API
type Handler struct {
	projects  Projects
	store     storage.ArtifactStore
	publisher storage.Publisher
	retention time.Duration
	maxUpload int64

	ctx    context.Context
	cancel context.CancelFunc

	// In-memory job tracking
	jobs    map[string]*models.JobStatus
	running map[string]string // run slot -> job ID
	jobsMux sync.RWMutex
}

// NewHandler creates a new API handler
func NewHandler(projects Projects, store storage.ArtifactStore, opts Options) *Handler {
	if opts.JobRetention <= 0 {
		opts.JobRetention = defaultJobRetention
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUpload
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		ctx:       ctx,
		cancel:    cancel,
		projects:  projects,
		store:     store,
		publisher: opts.Publisher,
		retention: opts.JobRetention,
		maxUpload: opts.MaxUploadBytes,
		jobs:      make(map[string]*models.JobStatus),
		running:   make(map[string]string),
	}
}

// Close cancels every running job.
func (h *Handler) Close() {
	h.cancel()
}

// runSlot names what a job holds while it runs. The compositor renders one
// deck at a time, so every render shares a slot; narration is per project.
func runSlot(kind models.JobKind, projectID uuid.UUID) string {
	if kind == models.JobRender {
		return string(kind)
	}
	return string(kind) + ":" + projectID.String()
}

// startJob registers a job unless its run slot is taken, in which case the
// running job's ID is returned with ok false.
func (h *Handler) startJob(kind models.JobKind, projectID uuid.UUID) (*models.JobStatus, string, bool) {
	slot := runSlot(kind, projectID)

	h.jobsMux.Lock()
	defer h.jobsMux.Unlock()
	if busy, exists := h.running[slot]; exists {
		return nil, busy, false
	}

	now := time.Now()
	job := &models.JobStatus{
		JobID:       uuid.New().String(),
		Kind:        kind,
		ProjectID:   projectID.String(),
		Status:      models.StatusProcessing,
		CurrentStep: "Initializing",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	h.jobs[job.JobID] = job
	h.running[slot] = job.JobID
	return job, "", true
}

func (h *Handler) getJob(jobID string) (models.JobStatus, bool) {
	h.jobsMux.RLock()
	defer h.jobsMux.RUnlock()
	job, exists := h.jobs[jobID]
	if !exists {
		return models.JobStatus{}, false
	}
	return *job, true
}

func (h *Handler) updateStatus(jobID, step string, progress int) {
	h.jobsMux.Lock()
	if job, exists := h.jobs[jobID]; exists {
		job.CurrentStep = step
		if progress > job.Progress {
			job.Progress = progress
		}
		job.UpdatedAt = time.Now()
	}
	h.jobsMux.Unlock()
	log.Debug().Str("job_id", jobID).Int("progress", progress).Msg(step)
}

// finishJob applies fn to the job, releases its run slot and schedules its
// removal.
func (h *Handler) finishJob(jobID string, fn func(job *models.JobStatus)) {
	h.jobsMux.Lock()
	job, exists := h.jobs[jobID]
	if exists {
		fn(job)
		job.UpdatedAt = time.Now()
		delete(h.running, runSlot(job.Kind, uuid.MustParse(job.ProjectID)))
	}
	h.jobsMux.Unlock()

	if exists {
		utils.ScheduleCleanup(h.retention, func() { h.removeJob(jobID) })
	}
}

func (h *Handler) markJobCompleted(jobID string, fn func(job *models.JobStatus)) {
	h.finishJob(jobID, func(job *models.JobStatus) {
		job.Status = models.StatusCompleted
		job.Progress = 100
		job.CurrentStep = "Complete"
		fn(job)
	})
	log.Info().Str("job_id", jobID).Msg("job completed")
}

// markJobFailed marks a job as failed
func (h *Handler) markJobFailed(jobID string, err error) {
	log.Error().Err(err).Str("job_id", jobID).Msg("job failed")
	h.finishJob(jobID, func(job *models.JobStatus) {
		job.Status = models.StatusFailed
		job.Error = err
	})
}

// removeJob forgets a finished job and deletes the render it produced.
func (h *Handler) removeJob(jobID string) {
	h.jobsMux.Lock()
	job, exists := h.jobs[jobID]
	delete(h.jobs, jobID)
	h.jobsMux.Unlock()
	if !exists {
		return
	}

	ctx := context.Background()
	for _, key := range []string{job.VideoKey, job.SubtitlesKey} {
		if key == "" {
			continue
		}
		if err := h.store.Delete(ctx, key); err != nil {
			log.Warn().Err(err).Str("job_id", jobID).Str("key", key).Msg("failed to delete render artifact")
		}
	}
}

// errorStatus maps workflow errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, services.ErrSlideNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrNotPDF),
		errors.Is(err, services.ErrEmptyDocument),
		errors.Is(err, config.ErrUnknownPersona):
		return http.StatusBadRequest
	case errors.Is(err, compositor.ErrRunInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid %s", param)})
		return uuid.Nil, false
	}
	return id, true
}
