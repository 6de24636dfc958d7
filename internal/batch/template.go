package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/clintrovert/trackerbatch/pkg/types"
)

// ExampleBatch is the batch written by template-tasks
func ExampleBatch() *types.TaskBatch {
	return &types.TaskBatch{
		Created: []types.CreatedTask{
			{
				Queue:       "TEST",
				Summary:     "Prepare release notes",
				Description: "Collect merged changes since the last tag",
				Type:        "task",
				Priority:    "normal",
				Sprint:      []string{"Sprint 1"},
				Followers:   []string{"reviewer"},
				Subtasks: []types.CreatedTask{
					{Summary: "Draft the changelog"},
					{Summary: "Review the changelog", Assignee: "reviewer"},
				},
			},
		},
		Updated: []types.UpdatedTask{
			{
				IssueID: "TEST-1",
				MutTask: types.TaskPatch{
					Priority: types.StringPtr("critical"),
					Summary:  types.StringPtr("Fix login redirect"),
				},
			},
		},
		Deleted: []string{"TEST-2"},
	}
}

// WriteTemplate writes ExampleBatch to path in the format its extension
// selects. An existing file is kept unless force is set.
func WriteTemplate(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists: %w", path, fs.ErrExist)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}

	var (
		data []byte
		err  error
	)
	switch FormatFromPath(path) {
	case FormatYAML:
		data, err = yaml.Marshal(ExampleBatch())
	default:
		data, err = json.MarshalIndent(ExampleBatch(), "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("failed to encode template: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
