package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/thruflo/autocoder/internal/config"
	"gopkg.in/yaml.v3"
)

// Marker is written by init once tasks have been created. Its presence is
// what guards against running init twice.
type Marker struct {
	InitializedAt time.Time `yaml:"initialized_at"`
	TaskCount     int       `yaml:"task_count"`
	Provider      string    `yaml:"provider"`
	ProjectName   string    `yaml:"project_name,omitempty"`
	SpecPath      string    `yaml:"spec_path,omitempty"`
}

// MarkerPath returns the marker file location for a project.
func MarkerPath(basePath string) string {
	return filepath.Join(basePath, config.DirName, "initialized.yaml")
}

// MarkerExists reports whether the project has been initialized.
func MarkerExists(basePath string) bool {
	_, err := os.Stat(MarkerPath(basePath))
	return err == nil
}

// ReadMarker reads the marker, returning ErrNotFound if absent.
func ReadMarker(basePath string) (*Marker, error) {
	data, err := os.ReadFile(MarkerPath(basePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("marker: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read marker file: %w", err)
	}
	var m Marker
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse marker file: %w", err)
	}
	return &m, nil
}

// WriteMarker atomically writes the marker.
func WriteMarker(basePath string, m *Marker) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal marker: %w", err)
	}
	return WriteFileAtomic(MarkerPath(basePath), data, 0o644)
}
