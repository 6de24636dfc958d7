package tracker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIError_Error(t *testing.T) {
	err := &APIError{StatusCode: 404, Messages: []string{"Issue does not exist", "check the key"}}
	assert.Equal(t, "tracker API 404: Issue does not exist; check the key", err.Error())

	bare := &APIError{StatusCode: 502}
	assert.Equal(t, "tracker API 502", bare.Error())
}

func TestStatusCode(t *testing.T) {
	wrapped := fmt.Errorf("failed to update issue: %w", &APIError{StatusCode: 403})
	assert.Equal(t, 403, StatusCode(wrapped))
	assert.Equal(t, 0, StatusCode(errors.New("connection reset")))
	assert.Equal(t, 0, StatusCode(nil))
}
