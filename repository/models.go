// Package repository persists projects and their slides with gorm.
package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Project is one uploaded deck.
type Project struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	PersonaID string    `gorm:"not null" json:"persona_id"`
	PageCount int       `json:"page_count"`
	Slides    []Slide   `gorm:"constraint:OnDelete:CASCADE" json:"slides,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Slide is one page of a deck with its narration state.
type Slide struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID  uuid.UUID `gorm:"type:uuid;index;not null" json:"project_id"`
	Position   int       `gorm:"not null" json:"position"` // 1-based
	ImageKey   string    `json:"-"`
	PageText   string    `json:"page_text,omitempty"`
	Script     string    `json:"script"`
	AudioKey   string    `json:"-"`
	AudioMIME  string    `json:"audio_mime,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HasAudio reports whether narration has been synthesized for the slide.
func (s *Slide) HasAudio() bool {
	return s.AudioKey != ""
}

// Duration is the narration length.
func (s *Slide) Duration() time.Duration {
	return time.Duration(s.DurationMS) * time.Millisecond
}

func (p *Project) BeforeCreate(_ *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

func (s *Slide) BeforeCreate(_ *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
