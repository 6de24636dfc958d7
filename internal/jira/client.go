package jira

import (
	"context"
	"fmt"
	"net/http"

	jira "github.com/andygrunwald/go-jira"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/clintrovert/trackerbatch/internal/tracker"
	"github.com/clintrovert/trackerbatch/pkg/types"
)

const (
	defaultIssueType = "Task"
	subtaskIssueType = "Sub-task"
)

// Client wraps Jira API client functionality
type Client struct {
	client *jira.Client
	logger *zap.Logger
}

// NewClient creates a new Jira client authenticated with an OAuth 2.0 bearer token.
// For Jira Cloud the baseURL is https://api.atlassian.com/ex/jira/<cloud-id>.
func NewClient(baseURL, accessToken string, logger *zap.Logger) (*Client, error) {
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"},
	)

	client, err := jira.NewClient(oauth2.NewClient(context.Background(), ts), baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create jira client: %w", err)
	}

	return &Client{
		client: client,
		logger: logger,
	}, nil
}

// CreateIssue creates an issue in the project named by task.Queue
func (c *Client) CreateIssue(ctx context.Context, task types.CreatedTask) (string, error) {
	fields := &jira.IssueFields{
		Project:     jira.Project{Key: task.Queue},
		Summary:     task.Summary,
		Description: task.Description,
		Type:        jira.IssueType{Name: issueType(task)},
	}
	if task.Assignee != "" {
		fields.Assignee = &jira.User{AccountID: task.Assignee}
	}
	if task.Priority != "" {
		fields.Priority = &jira.Priority{Name: task.Priority}
	}
	if task.Parent != "" {
		fields.Parent = &jira.Parent{Key: task.Parent}
	}

	issue, resp, err := c.client.Issue.CreateWithContext(ctx, &jira.Issue{Fields: fields})
	if err != nil {
		return "", fmt.Errorf("failed to create issue: %w", asAPIError(resp, err))
	}

	c.logger.Debug("created issue",
		zap.String("key", issue.Key),
		zap.String("project", task.Queue),
	)

	return issue.Key, nil
}

// UpdateIssue edits the fields set in patch
func (c *Client) UpdateIssue(ctx context.Context, issueID string, patch types.TaskPatch) error {
	fields := map[string]interface{}{}
	if patch.Summary != nil {
		fields["summary"] = *patch.Summary
	}
	if patch.Description != nil {
		fields["description"] = *patch.Description
	}
	if patch.Type != nil {
		fields["issuetype"] = map[string]string{"name": *patch.Type}
	}
	if patch.Assignee != nil {
		fields["assignee"] = map[string]string{"accountId": *patch.Assignee}
	}
	if patch.Priority != nil {
		fields["priority"] = map[string]string{"name": *patch.Priority}
	}
	if patch.Parent != nil {
		fields["parent"] = map[string]string{"key": *patch.Parent}
	}
	if len(fields) == 0 {
		return &tracker.APIError{
			StatusCode: http.StatusBadRequest,
			Messages:   []string{fmt.Sprintf("patch for %s sets no field supported by jira", issueID)},
		}
	}
	if patch.Sprint != nil || len(patch.Followers) > 0 ||
		len(patch.AttachmentIDs) > 0 || len(patch.DescriptionAttachmentIDs) > 0 {
		c.logger.Warn("jira edit does not take followers, sprint or attachments, ignoring them",
			zap.String("issue", issueID),
		)
	}

	resp, err := c.client.Issue.UpdateIssueWithContext(ctx, issueID, map[string]interface{}{"fields": fields})
	if err != nil {
		return fmt.Errorf("failed to update issue %s: %w", issueID, asAPIError(resp, err))
	}

	c.logger.Debug("updated issue", zap.String("key", issueID))
	return nil
}

// DeleteIssue deletes an issue
func (c *Client) DeleteIssue(ctx context.Context, issueID string) error {
	resp, err := c.client.Issue.DeleteWithContext(ctx, issueID)
	if err != nil {
		return fmt.Errorf("failed to delete issue %s: %w", issueID, asAPIError(resp, err))
	}

	c.logger.Debug("deleted issue", zap.String("key", issueID))
	return nil
}

func issueType(task types.CreatedTask) string {
	switch {
	case task.Type != "":
		return task.Type
	case task.Parent != "":
		return subtaskIssueType
	default:
		return defaultIssueType
	}
}

// asAPIError converts a go-jira failure that carries an HTTP response into a
// tracker.APIError so callers can classify it by status
func asAPIError(resp *jira.Response, err error) error {
	if resp == nil || resp.Response == nil {
		return err
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return err
	}
	return &tracker.APIError{
		StatusCode: resp.StatusCode,
		Messages:   []string{err.Error()},
	}
}
