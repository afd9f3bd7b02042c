package models

import (
	"time"

	"slidecast/storage"
)

// Job statuses
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// JobKind names the background work a job runs
type JobKind string

const (
	JobNarrate JobKind = "narrate"
	JobRender  JobKind = "render"
)

// JobResponse returns the job ID
type JobResponse struct {
	JobID  string  `json:"job_id"`
	Kind   JobKind `json:"kind"`
	Status string  `json:"status"`
}

// StatusResponse returns current progress
type StatusResponse struct {
	JobID        string               `json:"job_id"`
	Kind         JobKind              `json:"kind"`
	ProjectID    string               `json:"project_id"`
	Status       string               `json:"status"`
	Progress     int                  `json:"progress"`
	CurrentStep  string               `json:"current_step"`
	Note         string               `json:"note,omitempty"`
	MimeType     string               `json:"mime_type,omitempty"`
	VideoURL     *string              `json:"video_url,omitempty"`
	SubtitlesURL *string              `json:"subtitles_url,omitempty"`
	Publication  *storage.Publication `json:"publication,omitempty"`
	Error        *string              `json:"error,omitempty"`
}

// ScriptUpdateRequest replaces one slide's narration text
type ScriptUpdateRequest struct {
	Script string `json:"script" binding:"required"`
}

// JobStatus tracks processing status in memory
type JobStatus struct {
	JobID       string
	Kind        JobKind
	ProjectID   string
	Status      string
	Progress    int
	CurrentStep string
	Note        string

	ProjectName  string
	VideoKey     string
	SubtitlesKey string
	MimeType     string
	Extension    string
	Publication  *storage.Publication

	Error     error
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Done reports whether the job has stopped running.
func (j *JobStatus) Done() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Response builds the public view of the job.
func (j *JobStatus) Response() StatusResponse {
	resp := StatusResponse{
		JobID:       j.JobID,
		Kind:        j.Kind,
		ProjectID:   j.ProjectID,
		Status:      j.Status,
		Progress:    j.Progress,
		CurrentStep: j.CurrentStep,
		Note:        j.Note,
		MimeType:    j.MimeType,
		Publication: j.Publication,
	}
	if j.Status == StatusCompleted && j.VideoKey != "" {
		videoURL := "/api/jobs/" + j.JobID + "/download"
		subtitlesURL := "/api/jobs/" + j.JobID + "/subtitles"
		resp.VideoURL = &videoURL
		resp.SubtitlesURL = &subtitlesURL
	}
	if j.Error != nil {
		errMsg := j.Error.Error()
		resp.Error = &errMsg
	}
	return resp
}
