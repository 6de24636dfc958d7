package yandex

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/clintrovert/trackerbatch/internal/tracker"
	"github.com/clintrovert/trackerbatch/pkg/types"
)

var _ tracker.Client = (*Client)(nil)

func TestCreateIssue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/issues", r.URL.Path)
		assert.Equal(t, "OAuth secret-token", r.Header.Get("Authorization"))
		assert.Equal(t, "org-1", r.Header.Get("X-Org-ID"))

		var got map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "Q", got["queue"])
		assert.Equal(t, "S", got["summary"])
		assert.Equal(t, "Q-1", got["parent"])
		assert.NotContains(t, got, "description")

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"abc","key":"Q-2","summary":"S"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "org-1", "secret-token", false, zaptest.NewLogger(t))
	key, err := c.CreateIssue(context.Background(), types.CreatedTask{Queue: "Q", Summary: "S", Parent: "Q-1"})
	require.NoError(t, err)
	assert.Equal(t, "Q-2", key)
}

func TestCreateIssue_CloudOrgHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "cloud-org", r.Header.Get("X-Cloud-Org-ID"))
		assert.Empty(t, r.Header.Get("X-Org-ID"))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"key":"Q-1"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "cloud-org", "tok", true, zaptest.NewLogger(t))
	_, err := c.CreateIssue(context.Background(), types.CreatedTask{Queue: "Q", Summary: "S"})
	require.NoError(t, err)
}

func TestUpdateIssue_SendsOnlySetFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/v2/issues/X-1", r.URL.Path)

		var got map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, map[string]any{"priority": "high"}, got)

		_, _ = io.WriteString(w, `{"key":"X-1"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "org", "tok", false, zaptest.NewLogger(t))
	err := c.UpdateIssue(context.Background(), "X-1", types.TaskPatch{Priority: types.StringPtr("high")})
	require.NoError(t, err)
}

func TestCreateAndUpdate_ForwardSprintAndAttachments(t *testing.T) {
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		bodies = append(bodies, got)
		_, _ = io.WriteString(w, `{"key":"Q-1"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "org", "tok", false, zaptest.NewLogger(t))
	_, err := c.CreateIssue(context.Background(), types.CreatedTask{
		Queue:         "Q",
		Summary:       "S",
		Author:        "me",
		Sprint:        []string{"s1"},
		AttachmentIDs: []string{"a1"},
	})
	require.NoError(t, err)

	err = c.UpdateIssue(context.Background(), "Q-1", types.TaskPatch{
		Sprint:                   types.StringPtr("s2"),
		AttachmentIDs:            []string{"a2"},
		DescriptionAttachmentIDs: []string{"a3"},
	})
	require.NoError(t, err)

	require.Len(t, bodies, 2)
	assert.Equal(t, "me", bodies[0]["author"])
	assert.Equal(t, []any{"s1"}, bodies[0]["sprint"])
	assert.Equal(t, []any{"a1"}, bodies[0]["attachmentIds"])
	assert.Equal(t, map[string]any{
		"sprint":                   "s2",
		"attachmentIds":            []any{"a2"},
		"descriptionAttachmentIds": []any{"a3"},
	}, bodies[1])
}

func TestUpdateIssue_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"errors":{},"errorMessages":["Задача не существует."],"statusCode":404}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "org", "tok", false, zaptest.NewLogger(t))
	err := c.UpdateIssue(context.Background(), "X-1", types.TaskPatch{Priority: types.StringPtr("high")})
	require.Error(t, err)

	var apiErr *tracker.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, []string{"Задача не существует."}, apiErr.Messages)
}

func TestDeleteIssue(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v2/issues/X-7", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "org", "tok", false, zaptest.NewLogger(t))
	require.NoError(t, c.DeleteIssue(context.Background(), "X-7"))
	assert.True(t, called)
}

func TestDoRequest_NonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "upstream unavailable\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "org", "tok", false, zaptest.NewLogger(t))
	err := c.DeleteIssue(context.Background(), "X-1")

	assert.Equal(t, http.StatusBadGateway, tracker.StatusCode(err))
	assert.Contains(t, err.Error(), "upstream unavailable")
}
