package handlers

import (
	"fmt"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"slidecast/compositor"
	"slidecast/models"
	"slidecast/repository"
)

// Narrate handles POST /api/projects/:id/narrate
func (h *Handler) Narrate(c *gin.Context) {
	projectID, ok := parseID(c, "id")
	if !ok {
		return
	}
	if _, err := h.projects.GetProject(c.Request.Context(), projectID); err != nil {
		respondError(c, err)
		return
	}

	job, busy, ok := h.startJob(models.JobNarrate, projectID)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "Narration already running", "job_id": busy})
		return
	}

	go h.processNarration(job.JobID, projectID)

	c.JSON(http.StatusAccepted, models.JobResponse{JobID: job.JobID, Kind: job.Kind, Status: job.Status})
}

// Render handles POST /api/projects/:id/render
func (h *Handler) Render(c *gin.Context) {
	projectID, ok := parseID(c, "id")
	if !ok {
		return
	}
	if _, err := h.projects.GetProject(c.Request.Context(), projectID); err != nil {
		respondError(c, err)
		return
	}

	job, busy, ok := h.startJob(models.JobRender, projectID)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "A render is already in progress", "job_id": busy})
		return
	}

	go h.processRender(job.JobID, projectID)

	c.JSON(http.StatusAccepted, models.JobResponse{JobID: job.JobID, Kind: job.Kind, Status: job.Status})
}

// GetStatus handles GET /api/jobs/:job_id
func (h *Handler) GetStatus(c *gin.Context) {
	job, exists := h.getJob(c.Param("job_id"))
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, job.Response())
}

// completedRender loads a finished render job or writes the error response.
func (h *Handler) completedRender(c *gin.Context) (models.JobStatus, bool) {
	job, exists := h.getJob(c.Param("job_id"))
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return job, false
	}
	if job.Kind != models.JobRender {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Job is not a render"})
		return job, false
	}
	if job.Status != models.StatusCompleted {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Job not completed yet"})
		return job, false
	}
	return job, true
}

// Download handles GET /api/jobs/:job_id/download
func (h *Handler) Download(c *gin.Context) {
	job, ok := h.completedRender(c)
	if !ok {
		return
	}

	video, err := h.store.Get(c.Request.Context(), job.VideoKey)
	if err != nil {
		respondError(c, err)
		return
	}

	// the blob's own MIME type, under the declared file name
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName(job.ProjectName, job.Extension)))
	c.Data(http.StatusOK, job.MimeType, video.Data)
}

// DownloadSubtitle handles GET /api/jobs/:job_id/subtitles
func (h *Handler) DownloadSubtitle(c *gin.Context) {
	job, ok := h.completedRender(c)
	if !ok {
		return
	}

	subs, err := h.store.Get(c.Request.Context(), job.SubtitlesKey)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName(job.ProjectName, ".srt")))
	c.Data(http.StatusOK, "application/x-subrip", subs.Data)
}

// Publish handles POST /api/jobs/:job_id/publish
func (h *Handler) Publish(c *gin.Context) {
	if h.publisher == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Publishing is not configured"})
		return
	}
	job, ok := h.completedRender(c)
	if !ok {
		return
	}

	video, err := h.store.Get(c.Request.Context(), job.VideoKey)
	if err != nil {
		respondError(c, err)
		return
	}

	pub, err := h.publisher.Publish(c.Request.Context(), downloadName(job.ProjectName, job.Extension), job.MimeType, video.Data)
	if err != nil {
		log.Error().Err(err).Str("job_id", job.JobID).Msg("publish failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Publish failed: " + err.Error()})
		return
	}

	h.jobsMux.Lock()
	if j, exists := h.jobs[job.JobID]; exists {
		j.Publication = pub
	}
	h.jobsMux.Unlock()

	log.Info().Str("job_id", job.JobID).Str("file_id", pub.ID).Msg("video published")
	c.JSON(http.StatusOK, pub)
}

// processNarration writes scripts and speech in the background
func (h *Handler) processNarration(jobID string, projectID uuid.UUID) {
	h.updateStatus(jobID, "Writing scripts", 1)

	project, err := h.projects.NarrateProject(h.ctx, projectID, func(done, total int, message string) {
		h.updateStatus(jobID, message, done*99/max(total, 1))
	})
	if err != nil {
		h.markJobFailed(jobID, fmt.Errorf("narration failed: %w", err))
		return
	}

	note := narrationNote(project)
	h.markJobCompleted(jobID, func(job *models.JobStatus) {
		job.ProjectName = project.Name
		job.Note = note
	})
}

func narrationNote(project *repository.Project) string {
	failed := 0
	for _, s := range project.Slides {
		if s.Error != "" {
			failed++
		}
	}
	if failed == 0 {
		return ""
	}
	return fmt.Sprintf("%d of %d slides failed to narrate", failed, len(project.Slides))
}

// processRender runs the compositor in the background
func (h *Handler) processRender(jobID string, projectID uuid.UUID) {
	h.updateStatus(jobID, "Loading slides", 1)

	out, err := h.projects.RenderProject(h.ctx, projectID, jobID, func(message string) {
		h.updateStatus(jobID, message, renderProgress(message))
	})
	if err != nil {
		h.markJobFailed(jobID, fmt.Errorf("render failed: %w", err))
		return
	}

	h.markJobCompleted(jobID, func(job *models.JobStatus) {
		job.ProjectName = out.ProjectName
		job.VideoKey = out.VideoKey
		job.SubtitlesKey = out.SubtitlesKey
		job.MimeType = out.Blob.MimeType
		job.Extension = out.Blob.Extension
		job.Note = strings.Join(out.Blob.ContainerNotes(), "; ")
	})
}

// renderProgress maps compositor progress messages onto a percentage.
func renderProgress(message string) int {
	var n, total int
	switch {
	case strings.HasPrefix(message, "Preparing recorder"):
		return 5
	case strings.HasPrefix(message, "Finalizing"):
		return 95
	}
	if _, err := fmt.Sscanf(message, "Rendering slide %d/%d", &n, &total); err == nil && total > 0 {
		return 10 + 85*(n-1)/total
	}
	return 0
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._ -]+`)

// downloadName builds an attachment file name from the project name.
func downloadName(project, ext string) string {
	name := strings.TrimSpace(unsafeFileChars.ReplaceAllString(project, "_"))
	if name == "" {
		name = "video"
	}
	if ext == "" {
		ext = compositor.DeclaredExtension
	}
	return filepath.Base(name) + ext
}
