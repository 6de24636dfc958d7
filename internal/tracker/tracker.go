// Package tracker defines the contract between the batch processor and a
// remote issue tracker.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/clintrovert/trackerbatch/pkg/types"
)

// Client is the set of issue operations the batch processor needs
type Client interface {
	// CreateIssue creates an issue and returns its remote key
	CreateIssue(ctx context.Context, task types.CreatedTask) (string, error)
	// UpdateIssue applies a partial update to an existing issue
	UpdateIssue(ctx context.Context, issueID string, patch types.TaskPatch) error
	// DeleteIssue removes an issue
	DeleteIssue(ctx context.Context, issueID string) error
}

// APIError is returned when the tracker answers with a non-2xx status
type APIError struct {
	StatusCode int
	Messages   []string
}

func (e *APIError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("tracker API %d", e.StatusCode)
	}
	return fmt.Sprintf("tracker API %d: %s", e.StatusCode, strings.Join(e.Messages, "; "))
}

// StatusCode extracts the HTTP status of an APIError anywhere in err's chain.
// It returns 0 when err carries no status.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
