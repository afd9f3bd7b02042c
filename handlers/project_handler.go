package handlers

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"slidecast/models"
)

// ListPersonas handles GET /api/personas
func (h *Handler) ListPersonas(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"personas": h.projects.Personas()})
}

// CreateProject handles POST /api/projects
func (h *Handler) CreateProject(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "PDF file is required"})
		return
	}
	if header.Size > h.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("File too large (max %d bytes)", h.maxUpload)})
		return
	}

	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload: " + err.Error()})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUpload))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload: " + err.Error()})
		return
	}

	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(header.Filename), filepath.Ext(header.Filename))
	}

	project, err := h.projects.CreateProject(c.Request.Context(), name, c.PostForm("persona"), data)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

// ListProjects handles GET /api/projects
func (h *Handler) ListProjects(c *gin.Context) {
	projects, err := h.projects.ListProjects(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

// GetProject handles GET /api/projects/:id
func (h *Handler) GetProject(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	project, err := h.projects.GetProject(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// SlideImage handles GET /api/projects/:id/slides/:slide_id/image
func (h *Handler) SlideImage(c *gin.Context) {
	projectID, ok := parseID(c, "id")
	if !ok {
		return
	}
	slideID, ok := parseID(c, "slide_id")
	if !ok {
		return
	}
	img, err := h.projects.SlideImage(c.Request.Context(), projectID, slideID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, img.ContentType, img.Data)
}

// SlideAudio handles GET /api/projects/:id/slides/:slide_id/audio
func (h *Handler) SlideAudio(c *gin.Context) {
	projectID, ok := parseID(c, "id")
	if !ok {
		return
	}
	slideID, ok := parseID(c, "slide_id")
	if !ok {
		return
	}
	audio, err := h.projects.SlideAudio(c.Request.Context(), projectID, slideID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, audio.ContentType, audio.Data)
}

// UpdateScript handles PUT /api/projects/:id/slides/:slide_id/script
func (h *Handler) UpdateScript(c *gin.Context) {
	projectID, ok := parseID(c, "id")
	if !ok {
		return
	}
	slideID, ok := parseID(c, "slide_id")
	if !ok {
		return
	}

	var req models.ScriptUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Script) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Script is required"})
		return
	}

	slide, err := h.projects.UpdateScript(c.Request.Context(), projectID, slideID, req.Script)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, slide)
}
