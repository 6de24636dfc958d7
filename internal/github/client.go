package github

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/clintrovert/trackerbatch/internal/tracker"
	"github.com/clintrovert/trackerbatch/pkg/types"
)

// Client maps tracker operations onto GitHub Issues. A queue is an
// "owner/repo" pair and an issue key is "owner/repo#number".
type Client struct {
	apiClient *github.Client
	logger    *zap.Logger
}

// NewClient creates a new GitHub client
func NewClient(accessToken string, logger *zap.Logger) *Client {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: accessToken},
	)
	tc := oauth2.NewClient(ctx, ts)

	return &Client{
		apiClient: github.NewClient(tc),
		logger:    logger,
	}
}

// NewEnterpriseClient creates a client for a GitHub Enterprise Server at baseURL
func NewEnterpriseClient(baseURL, accessToken string, logger *zap.Logger) (*Client, error) {
	c := NewClient(accessToken, logger)
	apiClient, err := c.apiClient.WithEnterpriseURLs(baseURL, baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to configure enterprise url: %w", err)
	}
	c.apiClient = apiClient
	return c, nil
}

// CreateIssue opens an issue in the repository named by task.Queue
func (c *Client) CreateIssue(ctx context.Context, task types.CreatedTask) (string, error) {
	owner, repo, err := parseRepo(task.Queue)
	if err != nil {
		return "", err
	}

	req := &github.IssueRequest{
		Title: github.String(task.Summary),
		Body:  github.String(issueBody(task.Description, task.Parent, task.Queue)),
	}
	if task.Assignee != "" {
		req.Assignee = github.String(task.Assignee)
	}
	if labels := labelsFor(task.Type, task.Priority); len(labels) > 0 {
		req.Labels = &labels
	}

	issue, resp, err := c.apiClient.Issues.Create(ctx, owner, repo, req)
	if err != nil {
		return "", fmt.Errorf("failed to create issue: %w", asAPIError(resp, err))
	}

	key := fmt.Sprintf("%s/%s#%d", owner, repo, issue.GetNumber())
	c.logger.Debug("created issue",
		zap.String("key", key),
		zap.String("url", issue.GetHTMLURL()),
	)

	return key, nil
}

// UpdateIssue edits title, body and assignee and adds type/priority labels.
// A patch that touches none of those is rejected, since GitHub issues have
// no parent, follower, sprint or attachment fields.
func (c *Client) UpdateIssue(ctx context.Context, issueID string, patch types.TaskPatch) error {
	owner, repo, number, err := parseKey(issueID)
	if err != nil {
		return err
	}

	req := &github.IssueRequest{
		Title:    patch.Summary,
		Body:     patch.Description,
		Assignee: patch.Assignee,
	}
	edit := req.Title != nil || req.Body != nil || req.Assignee != nil

	var typ, priority string
	if patch.Type != nil {
		typ = *patch.Type
	}
	if patch.Priority != nil {
		priority = *patch.Priority
	}
	labels := labelsFor(typ, priority)

	if !edit && len(labels) == 0 {
		return &tracker.APIError{
			StatusCode: http.StatusBadRequest,
			Messages:   []string{fmt.Sprintf("patch for %s sets no field supported by github issues", issueID)},
		}
	}
	if patch.Parent != nil || patch.Sprint != nil || len(patch.Followers) > 0 ||
		len(patch.AttachmentIDs) > 0 || len(patch.DescriptionAttachmentIDs) > 0 {
		c.logger.Warn("github issues have no parent, followers, sprint or attachments, ignoring them",
			zap.String("issue", issueID),
		)
	}

	if edit {
		_, resp, err := c.apiClient.Issues.Edit(ctx, owner, repo, number, req)
		if err != nil {
			return fmt.Errorf("failed to update issue %s: %w", issueID, asAPIError(resp, err))
		}
	}

	if len(labels) > 0 {
		_, resp, err := c.apiClient.Issues.AddLabelsToIssue(ctx, owner, repo, number, labels)
		if err != nil {
			return fmt.Errorf("failed to label issue %s: %w", issueID, asAPIError(resp, err))
		}
	}

	c.logger.Debug("updated issue", zap.String("key", issueID))
	return nil
}

// DeleteIssue closes the issue. The REST API cannot delete issues.
func (c *Client) DeleteIssue(ctx context.Context, issueID string) error {
	owner, repo, number, err := parseKey(issueID)
	if err != nil {
		return err
	}

	_, resp, err := c.apiClient.Issues.Edit(ctx, owner, repo, number, &github.IssueRequest{
		State: github.String("closed"),
	})
	if err != nil {
		return fmt.Errorf("failed to close issue %s: %w", issueID, asAPIError(resp, err))
	}

	c.logger.Debug("closed issue", zap.String("key", issueID))
	return nil
}

func issueBody(description, parent, queue string) string {
	if parent == "" {
		return description
	}
	ref := parent
	if strings.HasPrefix(parent, queue+"#") {
		ref = strings.TrimPrefix(parent, queue)
	}
	if description == "" {
		return "Part of " + ref
	}
	return description + "\n\nPart of " + ref
}

func labelsFor(values ...string) []string {
	var labels []string
	for _, v := range values {
		if v != "" {
			labels = append(labels, v)
		}
	}
	return labels
}

// parseRepo splits "owner/repo"
func parseRepo(ref string) (string, string, error) {
	parts := strings.Split(ref, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &tracker.APIError{
			StatusCode: http.StatusBadRequest,
			Messages:   []string{fmt.Sprintf("invalid repository %q: expected owner/repo", ref)},
		}
	}
	return parts[0], parts[1], nil
}

// parseKey splits "owner/repo#number"
func parseKey(key string) (string, string, int, error) {
	repoRef, num, ok := strings.Cut(key, "#")
	if !ok {
		return "", "", 0, invalidKey(key)
	}
	owner, repo, err := parseRepo(repoRef)
	if err != nil {
		return "", "", 0, invalidKey(key)
	}
	number, err := strconv.Atoi(num)
	if err != nil || number <= 0 {
		return "", "", 0, invalidKey(key)
	}
	return owner, repo, number, nil
}

func invalidKey(key string) error {
	return &tracker.APIError{
		StatusCode: http.StatusBadRequest,
		Messages:   []string{fmt.Sprintf("invalid issue key %q: expected owner/repo#number", key)},
	}
}

func asAPIError(resp *github.Response, err error) error {
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
