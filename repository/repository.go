package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("record not found")

// Repository stores projects and slides.
type Repository interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id uuid.UUID) (*Project, error)
	ListProjects(ctx context.Context) ([]Project, error)
	UpdateSlide(ctx context.Context, s *Slide) error
	UpdateSlideScript(ctx context.Context, projectID, slideID uuid.UUID, script string) (*Slide, error)
}

// GormRepository implements Repository on any gorm dialect.
type GormRepository struct {
	db *gorm.DB
}

// OpenPostgres connects to dsn and migrates the schema.
func OpenPostgres(dsn string) (*GormRepository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return New(db)
}

// New migrates the schema on db.
func New(db *gorm.DB) (*GormRepository, error) {
	if err := db.AutoMigrate(&Project{}, &Slide{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &GormRepository{db: db}, nil
}

// CreateProject inserts the project together with its slides.
func (r *GormRepository) CreateProject(ctx context.Context, p *Project) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// GetProject loads a project with its slides ordered by position.
func (r *GormRepository) GetProject(ctx context.Context, id uuid.UUID) (*Project, error) {
	var p Project
	err := r.db.WithContext(ctx).
		Preload("Slides", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&p, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	return &p, nil
}

// ListProjects returns projects newest first, without slides.
func (r *GormRepository) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}

// UpdateSlide saves every column of the slide.
func (r *GormRepository) UpdateSlide(ctx context.Context, s *Slide) error {
	res := r.db.WithContext(ctx).Model(s).Select("*").Omit("id", "project_id").Updates(s)
	if res.Error != nil {
		return fmt.Errorf("failed to update slide: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("slide %s: %w", s.ID, ErrNotFound)
	}
	return nil
}

// UpdateSlideScript replaces the script and drops the audio made from the old one.
func (r *GormRepository) UpdateSlideScript(ctx context.Context, projectID, slideID uuid.UUID, script string) (*Slide, error) {
	var s Slide
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&s, "id = ? AND project_id = ?", slideID, projectID).Error; err != nil {
			return err
		}
		s.Script = script
		s.AudioKey = ""
		s.AudioMIME = ""
		s.DurationMS = 0
		s.Error = ""
		return tx.Model(&s).Select("script", "audio_key", "audio_mime", "duration_ms", "error").Updates(&s).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("slide %s: %w", slideID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update script: %w", err)
	}
	return &s, nil
}
