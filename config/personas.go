package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

var ErrUnknownPersona = errors.New("unknown persona")

//go:embed personas.toml
var defaultPersonas []byte

// Persona is a narration style: prompt instructions plus a voice per speech provider.
type Persona struct {
	ID           string `toml:"id" json:"id"`
	Name         string `toml:"name" json:"name"`
	Description  string `toml:"description" json:"description"`
	Instructions string `toml:"instructions" json:"-"`
	Voice        string `toml:"voice" json:"voice"`
	OpenAIVoice  string `toml:"openai_voice" json:"openai_voice"`
}

// Personas is an ordered persona catalog.
type Personas struct {
	List []Persona `toml:"persona"`
}

// LoadPersonas parses the embedded catalog, or path when it is set.
func LoadPersonas(path string) (*Personas, error) {
	data := defaultPersonas
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read personas file: %w", err)
		}
		data = b
	}
	return ParsePersonas(data)
}

// ParsePersonas decodes a TOML catalog and checks ids are present and unique.
func ParsePersonas(data []byte) (*Personas, error) {
	var p Personas
	if err := toml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse personas: %w", err)
	}
	if len(p.List) == 0 {
		return nil, fmt.Errorf("%w: no personas defined", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(p.List))
	for i, persona := range p.List {
		if persona.ID == "" || persona.Instructions == "" {
			return nil, fmt.Errorf("%w: persona %d needs id and instructions", ErrInvalidConfig, i)
		}
		if seen[persona.ID] {
			return nil, fmt.Errorf("%w: duplicate persona %q", ErrInvalidConfig, persona.ID)
		}
		seen[persona.ID] = true
	}
	return &p, nil
}

// Get returns the persona with the given id.
func (p *Personas) Get(id string) (Persona, error) {
	for _, persona := range p.List {
		if persona.ID == id {
			return persona, nil
		}
	}
	return Persona{}, fmt.Errorf("%w: %q", ErrUnknownPersona, id)
}
