// Package spec parses YAML workflow definitions into task lists.
package spec

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/conductor-go/conductor/pkg/models"
)

// ErrNoTasks indicates a workflow file with an empty task list.
var ErrNoTasks = errors.New("workflow defines no tasks")

// Defaults fills in fields a workflow file leaves unset.
type Defaults struct {
	// Timeout applies to tasks without a timeout of their own.
	Timeout time.Duration
	// MaxRetries applies to tasks without a retry budget of their own.
	MaxRetries int
}

// workflowFile is the YAML structure of a workflow definition.
type workflowFile struct {
	Name  string     `yaml:"name"`
	Tasks []taskFile `yaml:"tasks"`
}

type taskFile struct {
	ID         string         `yaml:"id"`
	Type       string         `yaml:"type,omitempty"`
	Agent      string         `yaml:"agent"`
	Payload    map[string]any `yaml:"payload,omitempty"`
	DependsOn  []string       `yaml:"depends_on,omitempty"`
	Priority   int            `yaml:"priority,omitempty"`
	Timeout    string         `yaml:"timeout,omitempty"`
	MaxRetries *int           `yaml:"max_retries,omitempty"`
}

// Workflow is a parsed workflow definition.
type Workflow struct {
	// Name is the workflow's label.
	Name string
	// Tasks are the parsed task definitions in file order.
	Tasks []*models.Task
}

// Load reads and parses a workflow definition file.
func Load(path string, defaults Defaults) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow file: %w", err)
	}
	return Parse(data, defaults)
}

// Parse parses a YAML workflow definition. Unknown dependency references and
// cycles are not checked here; graph construction rejects those.
func Parse(data []byte, defaults Defaults) (*Workflow, error) {
	var file workflowFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing workflow yaml: %w", err)
	}
	if len(file.Tasks) == 0 {
		return nil, ErrNoTasks
	}

	wf := &Workflow{
		Name:  file.Name,
		Tasks: make([]*models.Task, 0, len(file.Tasks)),
	}
	for i, tf := range file.Tasks {
		task, err := tf.toTask(defaults)
		if err != nil {
			return nil, fmt.Errorf("task %d (%q): %w", i, tf.ID, err)
		}
		wf.Tasks = append(wf.Tasks, task)
	}
	return wf, nil
}

func (tf taskFile) toTask(defaults Defaults) (*models.Task, error) {
	if tf.ID == "" {
		return nil, fmt.Errorf("missing id")
	}
	if tf.Agent == "" {
		return nil, fmt.Errorf("missing agent")
	}

	timeout := defaults.Timeout
	if tf.Timeout != "" {
		parsed, err := time.ParseDuration(tf.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", tf.Timeout, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("timeout %q must be positive", tf.Timeout)
		}
		timeout = parsed
	}

	maxRetries := defaults.MaxRetries
	if tf.MaxRetries != nil {
		if *tf.MaxRetries < 0 {
			return nil, fmt.Errorf("max_retries must not be negative")
		}
		maxRetries = *tf.MaxRetries
	}

	return &models.Task{
		ID:         tf.ID,
		Type:       tf.Type,
		AgentID:    tf.Agent,
		Payload:    tf.Payload,
		DependsOn:  tf.DependsOn,
		Priority:   tf.Priority,
		Timeout:    timeout,
		MaxRetries: maxRetries,
		Status:     models.TaskStatusPending,
	}, nil
}
