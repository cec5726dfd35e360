package task

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mkessler/caseboard/internal/models"
)

func Parse(path string) (*models.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}

	var t models.Task
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse task YAML: %w", err)
	}

	if t.ID == "" {
		t.ID = strings.TrimSuffix(strings.TrimSuffix(filepath.Base(path), ".yaml"), ".yml")
	}
	if t.Kind == "" {
		t.Kind = models.KindDataGrounded
	}

	// Playbook paths resolve relative to the task file.
	if t.Playbook != "" && !filepath.IsAbs(t.Playbook) {
		t.Playbook = filepath.Join(filepath.Dir(path), t.Playbook)
	}

	if err := Validate(&t); err != nil {
		return nil, fmt.Errorf("invalid task %s: %w", path, err)
	}

	return &t, nil
}

// LoadAll reads every task definition under the given directories, in
// order. Earlier directories win so project tasks shadow user tasks.
func LoadAll(dirs []string) (map[string]*models.Task, error) {
	tasks := make(map[string]*models.Task)

	for _, dir := range dirs {
		if err := loadFromDir(dir, tasks); err != nil {
			// Skip directories that don't exist
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
	}

	return tasks, nil
}

func loadFromDir(dir string, tasks map[string]*models.Task) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		t, err := Parse(path)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		if _, exists := tasks[t.ID]; exists {
			continue
		}
		tasks[t.ID] = t
	}

	return nil
}

func Validate(t *models.Task) error {
	if t.ID == "" {
		return fmt.Errorf("task must have an id")
	}
	if t.Engagement == "" {
		return fmt.Errorf("task must name an engagement")
	}
	if t.Kind != models.KindDataGrounded && t.Kind != models.KindKnowledgeGrounded {
		return fmt.Errorf("unknown task kind %q", t.Kind)
	}
	if t.Playbook == "" {
		return fmt.Errorf("task must have a playbook")
	}
	switch t.Domain {
	case models.DomainAccounts, models.DomainFindings, models.DomainDecisions,
		models.DomainMappings, models.DomainPatterns:
	default:
		return fmt.Errorf("unknown task domain %q", t.Domain)
	}
	return nil
}
