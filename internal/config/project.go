package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ProjectFile is the per-repository file written by sb init.
const ProjectFile = ".signalbox.yaml"

// ErrNoProject is returned when no project file is found.
var ErrNoProject = errors.New("config: no project file")

// Project links a working copy to its remote project. Commands that take a
// project id fall back to it.
type Project struct {
	ProjectID int64    `yaml:"project_id"`
	Path      string   `yaml:"path"`
	Namespace string   `yaml:"namespace,omitempty"`
	WebURL    string   `yaml:"web_url,omitempty"`
	Reviewers []string `yaml:"reviewers,omitempty"`
}

// LoadProject reads a project file.
func LoadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if p.ProjectID <= 0 {
		return nil, fmt.Errorf("config: %s: project_id must be positive", path)
	}
	return &p, nil
}

// SaveProject writes p to ProjectFile in dir.
func SaveProject(dir string, p *Project) error {
	if p.ProjectID <= 0 {
		return fmt.Errorf("config: project_id must be positive")
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("config: encode project: %w", err)
	}
	path := filepath.Join(dir, ProjectFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// FindProject loads the nearest ProjectFile in dir or one of its parents and
// returns it with its path.
func FindProject(dir string) (*Project, string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, "", fmt.Errorf("config: resolve %s: %w", dir, err)
	}
	for {
		path := filepath.Join(dir, ProjectFile)
		p, err := LoadProject(path)
		if err == nil {
			return p, path, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, "", ErrNoProject
		}
		dir = parent
	}
}
